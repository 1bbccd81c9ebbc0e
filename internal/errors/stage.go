package errors

import (
	stderrors "errors"
	"fmt"
)

// Stage names one step of the pull pipeline
type Stage string

const (
	StageFetch           Stage = "fetch"
	StageNormalize       Stage = "normalize"
	StagePersistSnapshot Stage = "persist-snapshot"
	StageComputeReturn   Stage = "compute-return"
	StageSyncTrades      Stage = "sync-trades"
)

// StageError attributes a pipeline failure to the stage and account it hit
type StageError struct {
	Stage     Stage
	Exchange  string
	AccountID string
	Cause     error
}

// NewStageError wraps cause with its pipeline stage
func NewStageError(stage Stage, exchange, accountID string, cause error) *StageError {
	return &StageError{
		Stage:     stage,
		Exchange:  exchange,
		AccountID: accountID,
		Cause:     cause,
	}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed for %s/%s: %v", e.Stage, e.Exchange, e.AccountID, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// StageOf returns the stage recorded in err, or "" when err carries none
func StageOf(err error) Stage {
	var stageErr *StageError
	if stderrors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}
