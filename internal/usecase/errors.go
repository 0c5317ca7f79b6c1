package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrEngine   = errors.New("engine error")
	ErrStreamIO = errors.New("stream i/o error")
	ErrNotReady = errors.New("file not ready for streaming yet")
)

// NotReadyError reports a file below the streamability threshold. Both
// values are percentages.
type NotReadyError struct {
	Progress float64
	Required float64
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: %.2f%% available, %.2f%% required", ErrNotReady, e.Progress, e.Required)
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}

func wrapEngine(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrEngine, err)
}

func wrapStreamIO(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStreamIO, err)
}
