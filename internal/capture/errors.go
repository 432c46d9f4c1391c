package capture

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error taxonomy. Every error returned by this package (and by the drivers
// and converters built on it) matches exactly one of these with errors.Is.
var (
	// Device absent, disconnected, or an ioctl failed. Fatal to the session.
	ErrDevice = errors.New("device error")

	// Operation invoked outside its lifecycle state.
	ErrInvalidState = errors.New("invalid state")

	// Unknown control name.
	ErrNotFound = errors.New("not found")

	// Control value outside [min, max] or not aligned to step.
	ErrRange = errors.New("value out of range")

	// Buffer allocation or mapping failed.
	ErrResource = errors.New("resource error")

	// No frame arrived within the dequeue deadline. Recoverable.
	ErrTimeout = errors.New("timeout")

	// Pixel format cannot be negotiated or converted.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// Frame dimensions or data do not describe a valid image.
	ErrInvalidFrame = errors.New("invalid frame")

	// Platform has no capture support.
	ErrNotSupported = errors.New("not supported")

	// A blocked Dequeue was woken by Interrupt.
	ErrInterrupted = errors.New("interrupted")
)

// StateError reports an operation attempted in the wrong session state.
type StateError struct {
	Op       string
	Current  State
	Required []State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: session is %s, requires %v", e.Op, e.Current, e.Required)
}

// Is makes a StateError match ErrInvalidState.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

func stateError(op string, current State, required ...State) error {
	return &StateError{Op: op, Current: current, Required: required}
}

// kinds lists the taxonomy sentinels.
var kinds = []error{
	ErrDevice, ErrInvalidState, ErrNotFound, ErrRange, ErrResource,
	ErrTimeout, ErrUnsupportedFormat, ErrInvalidFrame, ErrNotSupported,
	ErrInterrupted,
}

// kindOf returns the sentinel err matches, or nil.
func kindOf(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// deviceError wraps err as a device failure unless it already carries one of
// the taxonomy sentinels.
func deviceError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if kindOf(err) != nil {
		return errors.Wrapf(err, format, args...)
	}
	return errors.Wrapf(&wrapped{kind: ErrDevice, cause: err}, format, args...)
}

// wrapped ties a cause (e.g. a syscall.Errno) to a taxonomy sentinel so both
// match with errors.Is.
type wrapped struct {
	kind  error
	cause error

	// Message of a reclassified cause.
	msg string
}

// Wrap attaches kind to cause. Drivers use it to classify raw errno values.
// A cause that is already classified keeps its message but loses its old
// kind, so the result still matches exactly one sentinel.
func Wrap(kind, cause error) error {
	if cause == nil {
		return nil
	}
	if kindOf(cause) == nil {
		return &wrapped{kind: kind, cause: cause}
	}
	return &wrapped{kind: kind, cause: unclassified(cause), msg: cause.Error()}
}

// unclassified returns the innermost error of err's chain, or nil if that
// is itself a sentinel.
func unclassified(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	if kindOf(err) != nil {
		return nil
	}
	return err
}

func (w *wrapped) Error() string {
	if w.msg != "" {
		return w.kind.Error() + ": " + w.msg
	}
	return w.kind.Error() + ": " + w.cause.Error()
}

func (w *wrapped) Is(target error) bool {
	return target == w.kind
}

func (w *wrapped) Unwrap() error {
	return w.cause
}
