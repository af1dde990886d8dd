// Package failure defines the typed failure taxonomy shared by the error
// handler, the health monitor, and callers that raise into them.
package failure

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a raised failure.
type Kind string

const (
	KindAudio       Kind = "audio"
	KindRecognition Kind = "recognition"
	KindSystem      Kind = "system"
	KindConfig      Kind = "configuration"
	KindUnknown     Kind = "unknown"
)

// Severity of a failure, ordered from least to most severe.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "medium"
	}
}

// Action is the recovery policy suggested by whoever raised the failure.
type Action string

const (
	ActionRetry            Action = "retry"
	ActionFallback         Action = "fallback"
	ActionRestartComponent Action = "restart_component"
	ActionDegrade          Action = "graceful_degradation"
	ActionShutdown         Action = "shutdown"
)

// Error is a classified failure. It satisfies error and unwraps to the
// underlying cause, so errors.Is/As keep working through it.
type Error struct {
	Kind     Kind
	Severity Severity
	Action   Action
	Message  string
	At       time.Time

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a classified failure with explicit policy.
func New(kind Kind, msg string, sev Severity, action Action) *Error {
	return &Error{Kind: kind, Severity: sev, Action: action, Message: msg, At: time.Now()}
}

// Wrap attaches classification to an existing error.
func Wrap(err error, kind Kind, msg string, sev Severity, action Action) *Error {
	e := New(kind, msg, sev, action)
	e.cause = err
	return e
}

// Shorthand constructors with each kind's customary default policy.

func Audio(msg string, cause error) *Error {
	return Wrap(cause, KindAudio, msg, SeverityMedium, ActionRetry)
}

func Recognition(msg string, cause error) *Error {
	return Wrap(cause, KindRecognition, msg, SeverityMedium, ActionFallback)
}

func System(msg string, cause error) *Error {
	return Wrap(cause, KindSystem, msg, SeverityHigh, ActionDegrade)
}

func Config(msg string, cause error) *Error {
	return Wrap(cause, KindConfig, msg, SeverityHigh, ActionRestartComponent)
}

// Classify extracts kind/severity/action from any error. Unclassified errors
// fall back to (unknown, medium, retry).
func Classify(err error) (Kind, Severity, Action) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, fe.Severity, fe.Action
	}
	return KindUnknown, SeverityMedium, ActionRetry
}
