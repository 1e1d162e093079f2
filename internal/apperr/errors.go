// Package apperr defines the error kinds shared by the persistence,
// authentication and conversation layers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateEmail     = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
	ErrDbFailure          = errors.New("database failure")
	ErrPartialChain       = errors.New("interaction only partially recorded")
	ErrNotFound           = errors.New("not found")
)

// Chain steps reported by PartialChainError.
const (
	StepDocument        = "document"
	StepPrediction      = "prediction"
	StepExecutionResult = "execution_result"
)

// PartialChainError is returned when a later interaction step fails after the
// input row was already committed. The committed ids are kept so operators can
// find the dangling chain.
type PartialChainError struct {
	Step         string
	InputID      int64
	PredictionID int64
	Err          error
}

func (e *PartialChainError) Error() string {
	return fmt.Sprintf("interaction chain stopped at %s (input %d, prediction %d): %v",
		e.Step, e.InputID, e.PredictionID, e.Err)
}

func (e *PartialChainError) Unwrap() []error {
	return []error{ErrPartialChain, e.Err}
}
