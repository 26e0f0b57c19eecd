package ml

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrShapeMismatch     = errors.New("shape mismatch")
	ErrUnknownLabel      = errors.New("unknown label")
	ErrNumericDivergence = errors.New("numeric divergence")
	ErrInterrupted       = errors.New("training interrupted")
	ErrConfig            = errors.New("invalid config")
)

// NumericDivergenceError reports a NaN or Inf found while training.
type NumericDivergenceError struct {
	Epoch int
	Batch int
	What  string // "cost" or a parameter name
}

func (e *NumericDivergenceError) Error() string {
	return fmt.Sprintf("numeric divergence in %s at epoch %d batch %d", e.What, e.Epoch, e.Batch)
}

func (e *NumericDivergenceError) Is(target error) bool {
	return target == ErrNumericDivergence
}

func configErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfig, format, args...)
}
