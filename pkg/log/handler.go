package log

import (
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ErrStackMarshaler extracts the stack trace that cockroachdb/errors records at
// the error's creation site. It is installed as zerolog.ErrorStackMarshaler so
// that `.Stack().Err(err)` emits it.
func ErrStackMarshaler(err error) interface{} {
	if s := extractStacktrace(err); s != "" {
		return s
	}
	return nil
}

func extractStacktrace(err error) string {
	safeDetails := errors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}

// attachError pulls a leading error out of fields and attaches it to ev.
// The remaining key/value fields are returned.
func attachError(ev *zerolog.Event, fields []any) []any {
	if len(fields) == 0 {
		return fields
	}
	err, ok := fields[0].(error)
	if !ok {
		return fields
	}
	ev.Err(err)
	if st := extractStacktrace(err); st != "" {
		ev.Str(StacktraceKey, st)
	}
	var typed zerolog.LogObjectMarshaler
	if errors.As(err, &typed) {
		ev.Object("error_details", typed)
	}
	return fields[1:]
}
