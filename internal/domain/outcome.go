package domain

import "fmt"

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
	OutcomeInfo    OutcomeStatus = "info"
)

// Outcome is the uniform envelope every queue and playback operation
// returns. No operation completes silently: timeouts and no-ops resolve to
// an error or info outcome with a human-readable message.
type Outcome struct {
	Status  OutcomeStatus  `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func Success(format string, args ...any) Outcome {
	return Outcome{Status: OutcomeSuccess, Message: fmt.Sprintf(format, args...)}
}

func Info(format string, args ...any) Outcome {
	return Outcome{Status: OutcomeInfo, Message: fmt.Sprintf(format, args...)}
}

func Errorf(format string, args ...any) Outcome {
	return Outcome{Status: OutcomeError, Message: fmt.Sprintf(format, args...)}
}

// FromError converts an error into an error outcome, surfacing the
// CastError kind as a detail when present.
func FromError(err error) Outcome {
	if err == nil {
		return Success("ok")
	}
	out := Outcome{Status: OutcomeError, Message: err.Error()}
	if kind, ok := KindOf(err); ok {
		out.Details = map[string]any{"kind": string(kind)}
	}
	return out
}

// WithDetail returns a copy of the outcome with one extra detail field set.
func (o Outcome) WithDetail(key string, value any) Outcome {
	details := make(map[string]any, len(o.Details)+1)
	for k, v := range o.Details {
		details[k] = v
	}
	details[key] = value
	o.Details = details
	return o
}

func (o Outcome) IsError() bool {
	return o.Status == OutcomeError
}
