package serving

import (
	"math"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// Field is one input of the prediction form.
type Field struct {
	Name    string // form and JSON key
	Label   string
	Feature string // model feature it feeds
}

// Fields lists the form inputs in display order. Categorical fields take
// the integer code produced by the label encoder.
var Fields = []Field{
	{Name: "lead_time", Label: "Lead time (days)", Feature: "lead_time"},
	{Name: "no_of_special_request", Label: "Number of special requests", Feature: "no_of_special_requests"},
	{Name: "avg_price_per_room", Label: "Average price per room", Feature: "avg_price_per_room"},
	{Name: "arrival_month", Label: "Arrival month (1-12)", Feature: "arrival_month"},
	{Name: "arrival_date", Label: "Arrival day of month (1-31)", Feature: "arrival_date"},
	{Name: "market_segment_type", Label: "Market segment (code)", Feature: "market_segment_type"},
	{Name: "no_of_week_nights", Label: "Week nights", Feature: "no_of_week_nights"},
	{Name: "no_of_weekend_nights", Label: "Weekend nights", Feature: "no_of_weekend_nights"},
	{Name: "type_of_meal_plan", Label: "Meal plan (code)", Feature: "type_of_meal_plan"},
	{Name: "room_type_reserved", Label: "Room type (code)", Feature: "room_type_reserved"},
}

// RequestError is a caller mistake reported with status 400.
type RequestError struct {
	Field  string
	Reason string
}

func (e *RequestError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return "field " + e.Field + ": " + e.Reason
}

// parseFields reads every form field through get and returns the values
// keyed by model feature.
func parseFields(get func(name string) (string, bool)) (map[string]float64, error) {
	values := make(map[string]float64, len(Fields))
	for _, f := range Fields {
		raw, ok := get(f.Name)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			return nil, errors.WithStack(&RequestError{Field: f.Name, Reason: "is required"})
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.WithStack(&RequestError{Field: f.Name, Reason: "must be a number"})
		}
		values[f.Feature] = v
	}
	return values, nil
}

// displayLabel turns a class name into the label shown to users.
func displayLabel(class string) string {
	return strings.ReplaceAll(class, "_", " ")
}
