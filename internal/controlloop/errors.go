package controlloop

import (
	"github.com/pkg/errors"

	"github.com/determined-ai/expoptimizer/pkg/pricing"
)

// ErrCanceled is the cause of an Aborted outcome after external cancellation.
var ErrCanceled = errors.New("control loop canceled")

// ErrorClass tells the loop how to react to a collaborator error.
type ErrorClass int

const (
	// ClassTransient errors make the current cycle a no-op.
	ClassTransient ErrorClass = iota
	// ClassData errors skip optimization for the current cycle.
	ClassData
	// ClassFatal errors fault the loop.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassData:
		return "data"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type classifiedError struct {
	class ErrorClass
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }

func (e *classifiedError) Unwrap() error { return e.err }

func classify(class ErrorClass, err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: class, err: err}
}

// Transient marks err as a momentary failure; the loop retries on the next tick.
func Transient(err error) error { return classify(ClassTransient, err) }

// DataError marks err as bad input for one cycle, e.g. a pricing gap.
func DataError(err error) error { return classify(ClassData, err) }

// Fatal marks err as unrecoverable; the loop stops without tearing the cluster down.
func Fatal(err error) error { return classify(ClassFatal, err) }

// Classify returns the class of err. The outermost marker wins; pricing gaps are data errors
// and anything unmarked is transient.
func Classify(err error) ErrorClass {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	if errors.Is(err, pricing.ErrMissingPrice) {
		return ClassData
	}
	return ClassTransient
}
