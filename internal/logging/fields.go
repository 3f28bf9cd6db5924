package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging.
const (
	FieldService       = "service"
	FieldCorrelationID = "correlation_id"
	FieldEventID       = "event_id"
	FieldRetryAttempt  = "retry_attempt"
	FieldStep          = "step"
	FieldState         = "state"
	FieldStatus        = "status"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
	FieldIP            = "ip"
	FieldPolicy        = "policy"
	FieldMethod        = "method"
	FieldPath          = "path"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func CorrelationID(id string) slog.Attr {
	return slog.String(FieldCorrelationID, id)
}

func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

func RetryAttempt(n int) slog.Attr {
	return slog.Int(FieldRetryAttempt, n)
}

func Step(name string) slog.Attr {
	return slog.String(FieldStep, name)
}

func State(name string) slog.Attr {
	return slog.String(FieldState, name)
}

// Status accepts any printable status (HTTP codes, run statuses).
func Status(v any) slog.Attr {
	return slog.Any(FieldStatus, v)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error. A nil error yields an empty value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

func Policy(name string) slog.Attr {
	return slog.String(FieldPolicy, name)
}

func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}
