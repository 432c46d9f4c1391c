package cmvision

import (
	"github.com/lanikai/cmvision/internal/capture"
)

// Error kinds. Every error returned by this package wraps one of these; test
// with errors.Is.
var (
	ErrDevice            = capture.ErrDevice
	ErrInvalidState      = capture.ErrInvalidState
	ErrNotFound          = capture.ErrNotFound
	ErrRange             = capture.ErrRange
	ErrResource          = capture.ErrResource
	ErrTimeout           = capture.ErrTimeout
	ErrUnsupportedFormat = capture.ErrUnsupportedFormat
	ErrInvalidFrame      = capture.ErrInvalidFrame
	ErrNotSupported      = capture.ErrNotSupported
)

// StateError describes an operation attempted in the wrong lifecycle state.
type StateError = capture.StateError
