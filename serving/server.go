// Package serving exposes a trained model bundle over HTTP: an HTML form
// for manual use, a JSON prediction endpoint, a health check and
// Prometheus metrics.
package serving

import (
	"context"
	"embed"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/pipeline/training"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
)

const maxBodyBytes = 1 << 20

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Prediction is one scored request.
type Prediction struct {
	Label       string  `json:"label"`
	Class       string  `json:"class"`
	Code        int     `json:"code"`
	Probability float64 `json:"probability"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Target    string    `json:"target"`
	Features  []string  `json:"features"`
	TrainedAt time.Time `json:"trained_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type formField struct {
	Name  string
	Label string
	Value string
}

type pageData struct {
	Fields     []formField
	Prediction string
	Error      string
}

// Server scores requests against one loaded bundle.
type Server struct {
	bundle  *training.Bundle
	metrics *Metrics
	logger  log.Logger
	router  chi.Router
}

// New builds the router around a loaded bundle.
func New(bundle *training.Bundle) (*Server, error) {
	if bundle == nil || bundle.Model == nil {
		return nil, errors.NewValueError("serving.New", "model bundle is required")
	}
	s := &Server{
		bundle:  bundle,
		metrics: NewMetrics(),
		logger:  log.GetLoggerWithName("serving"),
	}
	s.router = s.routes()
	return s, nil
}

// Metrics returns the server's metric set.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Post("/", s.handleForm)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/predict", s.handlePredict)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			log.HTTPMethodKey, r.Method,
			log.HTTPRouteKey, r.URL.Path,
			log.HTTPStatusKey, ww.Status(),
			log.DurationMsKey, time.Since(start).Milliseconds())
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.render(w, http.StatusOK, pageData{Fields: emptyFields()})
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		s.metrics.Errors.WithLabelValues("bad_request").Inc()
		s.render(w, http.StatusBadRequest, pageData{Fields: emptyFields(), Error: "could not read the form"})
		return
	}
	page := pageData{Fields: submittedFields(r)}

	values, err := parseFields(func(name string) (string, bool) {
		v, ok := r.PostForm[name]
		if !ok || len(v) == 0 {
			return "", false
		}
		return v[0], true
	})
	if err != nil {
		s.metrics.Errors.WithLabelValues("invalid_input").Inc()
		page.Error = err.Error()
		s.render(w, http.StatusBadRequest, page)
		return
	}

	pred, err := s.predict("form", values)
	if err != nil {
		status := s.failure(err)
		page.Error = err.Error()
		s.render(w, status, page)
		return
	}
	page.Prediction = pred.Label
	s.render(w, http.StatusOK, page)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.metrics.Errors.WithLabelValues("bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "could not read the request body"})
		return
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		s.metrics.Errors.WithLabelValues("bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request body must be a JSON object"})
		return
	}

	values, err := parseFields(func(name string) (string, bool) {
		msg, ok := raw[name]
		if !ok {
			return "", false
		}
		var f float64
		if err := json.Unmarshal(msg, &f); err != nil {
			var str string
			if json.Unmarshal(msg, &str) == nil {
				return str, true
			}
			return "invalid", true
		}
		return string(msg), true
	})
	if err != nil {
		s.metrics.Errors.WithLabelValues("invalid_input").Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	pred, err := s.predict("api", values)
	if err != nil {
		writeJSON(w, s.failure(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Target:    s.bundle.Target,
		Features:  s.bundle.Features,
		TrainedAt: s.bundle.TrainedAt,
	})
}

// predict scores one set of raw feature values.
func (s *Server) predict(route string, values map[string]float64) (*Prediction, error) {
	start := time.Now()
	defer func() {
		s.metrics.Latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}()

	x, err := s.bundle.Vector(values)
	if err != nil {
		return nil, err
	}
	code, p, err := s.bundle.Predict(x)
	if err != nil {
		return nil, err
	}
	class := s.bundle.ClassName(code)
	s.metrics.Predictions.WithLabelValues(class).Inc()

	// Probability of the predicted class.
	if code == 0 {
		p = 1 - p
	}
	return &Prediction{Label: displayLabel(class), Class: class, Code: code, Probability: p}, nil
}

// failure counts err and maps it to a status code. Value problems in the
// input are the caller's fault; everything else is ours.
func (s *Server) failure(err error) int {
	var dataErr *errors.DataError
	if errors.As(err, &dataErr) {
		s.metrics.Errors.WithLabelValues("invalid_input").Inc()
		return http.StatusBadRequest
	}
	s.metrics.Errors.WithLabelValues("internal").Inc()
	s.logger.Error("Prediction failed", err)
	return http.StatusInternalServerError
}

func (s *Server) render(w http.ResponseWriter, status int, page pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTemplate.Execute(w, page); err != nil {
		s.logger.Error("Template rendering failed", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func emptyFields() []formField {
	out := make([]formField, len(Fields))
	for i, f := range Fields {
		out[i] = formField{Name: f.Name, Label: f.Label}
	}
	return out
}

func submittedFields(r *http.Request) []formField {
	out := emptyFields()
	for i := range out {
		out[i].Value = r.PostFormValue(out[i].Name)
	}
	return out
}

// ListenAndServe serves until ctx is canceled, then drains in-flight
// requests for at most cfg.ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServingConfig) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Serving predictions", "http.addr", cfg.Addr, log.FeaturesKey, len(s.bundle.Features))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "listen on %s", cfg.Addr)
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("Shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
