// Package scripting runs user supplied annotation policies.
//
// A policy is a JavaScript file defining a function
//
//	function decide(annot) { ... }
//
// that is called once per visible, printable annotation with an object
// holding kind, width, height, page and contents. It returns "suppress",
// "report" or "skip".
package scripting

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoDecide is returned when a policy script does not define decide.
	ErrNoDecide = errors.New("policy script does not define decide(annot)")
	// ErrInvalidDecision is returned when decide returns an unknown value.
	ErrInvalidDecision = errors.New("invalid policy decision")
)

// Engine runs scripts with cancellation.
type Engine interface {
	// Execute runs script in the engine's global scope.
	Execute(ctx context.Context, script string) (interface{}, error)
}

// Decision is what a policy wants done with an annotation.
type Decision string

const (
	Suppress Decision = "suppress"
	Report   Decision = "report"
	Skip     Decision = "skip"
)

// ParseDecision validates a value returned by a policy.
func ParseDecision(v string) (Decision, error) {
	switch d := Decision(v); d {
	case Suppress, Report, Skip:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, v)
}

// Annotation is the view of an annotation handed to decide.
type Annotation struct {
	Kind     string
	Width    float64
	Height   float64
	Page     int // 1-based
	Contents string
}
