package analysis

import (
	"errors"

	"github.com/viant/tradegate/service/dao"
)

var (
	// ErrNotFound is returned for unknown runs.
	ErrNotFound = dao.ErrNotFound
	// ErrAlreadyClaimed is returned when another worker owns the run.
	ErrAlreadyClaimed = errors.New("analysis: run already claimed")
	// ErrNotCancelable is returned when canceling a finished run.
	ErrNotCancelable = errors.New("analysis: run is not cancelable")
	// ErrRunCanceled is returned by CancelToken.Err once canceled.
	ErrRunCanceled = errors.New("analysis: run canceled")
	// ErrRunFinished is returned when appending to a terminal run.
	ErrRunFinished = errors.New("analysis: run finished")
	// ErrInvalidRun is returned for malformed run input.
	ErrInvalidRun = errors.New("analysis: invalid run")
	// ErrInvalidQuery is returned for malformed history queries.
	ErrInvalidQuery = errors.New("analysis: invalid query")
)
