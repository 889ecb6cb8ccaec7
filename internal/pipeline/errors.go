package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/pkg/backend"
)

// ErrEmptyResult is returned when a stage answered but produced nothing usable.
var ErrEmptyResult = eris.New("pipeline: empty result")

// StageError reports a stage failure that no fallback could cover.
type StageError struct {
	Stage model.ProcessStage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// TripsBreaker reports whether err counts against a stage's circuit breaker.
// Only transport and status failures do; empty or malformed answers from a
// reachable backend do not.
func TripsBreaker(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, ErrEmptyResult),
		errors.Is(err, backend.ErrMalformedResponse):
		return false
	}
	return true
}
