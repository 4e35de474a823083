package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Action wraps one mutating operation with an optional probe. When the
// probe reports the desired state already exists, the body is skipped,
// which is what makes a task safe to re-run.
type Action struct {
	// Name is a short label for logs and results.
	Name string

	// Probe gates the body; nil means the body always runs.
	Probe Probe

	// Body is the mutating operation.
	Body Command
}

// Run executes the action's probe-then-act protocol:
//
//   - probe satisfied: skip the body, report already satisfied
//   - probe unsatisfied or no probe: run the body
//   - probe error: run the body fail-open, but tag the outcome as
//     unverified since the desired state could not be confirmed absent
//
// Body failure is returned as an action error and is the owning task's
// failure; actions do not catch their own failures.
func (a *Action) Run(ctx context.Context, logger zerolog.Logger) (ActionResult, error) {
	result := ActionResult{Action: a.Name}

	executedOutcome := OutcomeExecuted
	if a.Probe != nil {
		state, probeErr := a.Probe.Check(ctx)
		switch {
		case probeErr != nil:
			// Absence of evidence is not evidence of absence: proceed,
			// but report the run as degraded.
			logger.Warn().
				Str("action", a.Name).
				Str("probe", a.Probe.Name()).
				Err(probeErr).
				Msg("probe failed, running action without confirmation")
			executedOutcome = OutcomeExecutedUnverified
		case state == ProbeSatisfied:
			logger.Debug().
				Str("action", a.Name).
				Str("probe", a.Probe.Name()).
				Msg("desired state already exists, skipping action")
			result.Outcome = OutcomeSkipped
			return result, nil
		}
	}

	if a.Body == nil {
		return result, NewPermanentError(
			fmt.Sprintf("action %s has no body", a.Name), nil).
			WithCode(ErrCodeValidation)
	}

	started := time.Now()
	logger.Info().Str("action", a.Name).Str("step", a.Body.Describe()).Msg("executing action")
	err := a.Body.Execute(ctx)
	result.Duration = time.Since(started)

	if err != nil {
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		// A body that already classified its failure keeps its code, so
		// exit status mapping sees the real cause.
		var classified *OrchestrationError
		if errors.As(err, &classified) && classified.Code != "" {
			return result, err
		}
		return result, NewPermanentError(
			fmt.Sprintf("action %s failed", a.Name), err).
			WithCode(ErrCodeActionFailed)
	}

	result.Outcome = executedOutcome
	return result, nil
}
