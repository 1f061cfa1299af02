package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotFound reports that the source file does not exist.
	ErrSourceNotFound = errors.New("engine: source not found")

	// ErrNoCheckpoint reports that an explicit resume was requested but
	// no valid checkpoint exists for the source. A run never guesses a
	// resume position.
	ErrNoCheckpoint = errors.New("engine: no valid checkpoint to resume from")

	// ErrIncompleteStream reports that the stream ended before the
	// source's declared length, or with a record still open. The run's
	// checkpoint is retained so the condition can be diagnosed and the
	// scan resumed; callers treating the shortfall as acceptable may
	// ignore the error after inspecting the Summary.
	ErrIncompleteStream = errors.New("engine: stream ended before declared length")
)

// RecordError wraps a per-record failure with the offending record's
// ordinal and byte range so it can be located in the source without
// re-scanning.
type RecordError struct {
	Number uint64
	Start  uint64
	End    uint64
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d [%d,%d): %v", e.Number, e.Start, e.End, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
