package datapumps

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// Group configuration errors
	ErrDuplicateName       = errors.New("pump already exists")
	ErrUnknownPump         = errors.New("pump does not exist")
	ErrDuplicateExposure   = errors.New("buffer already exposed")
	ErrUnknownBuffer       = errors.New("no such buffer")
	ErrNoInputPump         = errors.New("input pump is not set")
	ErrNotSupportedOnGroup = errors.New("cannot process on a group: data in a group is transformed by its pumps")

	// Lifecycle errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotRunning     = errors.New("not pumping")
	ErrNotPaused      = errors.New("not paused")
	ErrNoSource       = errors.New("source is not configured")

	// ErrPumpingFailed is delivered by WhenFinished when the error buffer overflowed.
	ErrPumpingFailed = errors.New("pumping failed; inspect error buffer contents")

	// Buffer errors
	ErrBufferFull   = errors.New("buffer is full")
	ErrBufferEmpty  = errors.New("buffer is empty")
	ErrBufferSealed = errors.New("buffer is sealed")
	ErrBufferEnded  = errors.New("buffer has ended")
	ErrNilBuffer    = errors.New("nil buffer")
)

// ProcessError is the record a pump writes into its error buffer when processing an item fails.
type ProcessError struct {
	ID     uuid.UUID
	PumpID string
	Data   any
	Err    error
}

func newProcessError(pumpID string, data any, err error) *ProcessError {
	return &ProcessError{
		ID:     uuid.New(),
		PumpID: pumpID,
		Data:   data,
		Err:    err,
	}
}

func (e *ProcessError) Error() string {
	if e.PumpID == "" {
		return fmt.Sprintf("process error: %v", e.Err)
	}
	return fmt.Sprintf("process error in pump %s: %v", e.PumpID, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// TypeError is returned by typed processes receiving an item of an unexpected type.
type TypeError struct {
	Expected any
	Got      any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type assertion error: expected %T, got %T (value: %v)", e.Expected, e.Got, e.Got)
}
