package capture

import (
	"fmt"
	"time"
)

// PixelFormat is a V4L2 four-character code.
type PixelFormat uint32

// FourCC builds a PixelFormat from its four characters.
func FourCC(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	PixelFormatYUYV  = FourCC('Y', 'U', 'Y', 'V')
	PixelFormatUYVY  = FourCC('U', 'Y', 'V', 'Y')
	PixelFormatGrey  = FourCC('G', 'R', 'E', 'Y')
	PixelFormatMJPEG = FourCC('M', 'J', 'P', 'G')
	PixelFormatH264  = FourCC('H', '2', '6', '4')
)

// ParsePixelFormat accepts a four-character code such as "YUYV".
func ParsePixelFormat(s string) (PixelFormat, error) {
	if len(s) != 4 {
		return 0, Wrap(ErrUnsupportedFormat, fmt.Errorf("pixel format %q is not a fourcc", s))
	}
	return FourCC(s[0], s[1], s[2], s[3]), nil
}

func (f PixelFormat) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", uint32(f))
		}
	}
	return string(b)
}

// BytesPerPixel of a packed native format, or 0 for compressed formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatYUYV, PixelFormatUYVY:
		return 2
	case PixelFormatGrey:
		return 1
	}
	return 0
}

// Format describes a capture format as requested or as negotiated.
type Format struct {
	Width       int
	Height      int
	PixelFormat PixelFormat

	// Bytes per row and per image, as reported by the device. Zero in
	// requests.
	Stride    int
	SizeImage int
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d %v", f.Width, f.Height, f.PixelFormat)
}

// DeviceInfo identifies an opened device.
type DeviceInfo struct {
	Path    string
	Driver  string
	Card    string
	BusInfo string
}

// ControlKind is the value type of a device control.
type ControlKind int

const (
	ControlInteger ControlKind = iota
	ControlBoolean
	ControlMenu
	ControlIntegerMenu
)

func (k ControlKind) String() string {
	switch k {
	case ControlBoolean:
		return "bool"
	case ControlMenu:
		return "menu"
	case ControlIntegerMenu:
		return "intmenu"
	default:
		return "int"
	}
}

// ControlInfo is what a driver reports about one control.
type ControlInfo struct {
	ID      uint32
	Name    string // driver-provided display name
	Kind    ControlKind
	Min     int32
	Max     int32
	Step    int32
	Default int32

	ReadOnly bool
}

// Dequeued describes a buffer returned by Driver.Dequeue.
type Dequeued struct {
	Index     int
	BytesUsed int
	Sequence  uint32
	Timestamp time.Duration

	// Driver flagged the buffer contents as corrupt.
	Corrupt bool
}

// Driver is the device-access layer. A Driver is owned by exactly one
// Session and, apart from Interrupt, must not be called concurrently.
type Driver interface {
	Info() DeviceInfo

	// Formats lists the native pixel formats the device can capture.
	Formats() ([]PixelFormat, error)

	// SetFormat requests a format and returns what the device negotiated.
	SetFormat(Format) (Format, error)

	// SetFrameRate requests fps frames per second and returns the actual rate.
	SetFrameRate(fps uint32) (uint32, error)

	QueryControls() ([]ControlInfo, error)
	GetControl(id uint32) (int32, error)
	SetControl(id uint32, value int32) error

	// RequestBuffers asks for n streaming buffers and returns the number
	// granted. n == 0 releases them.
	RequestBuffers(n int) (int, error)
	MapBuffer(index int) ([]byte, error)
	UnmapBuffer(b []byte) error

	Enqueue(index int) error

	// Dequeue blocks until a queued buffer is filled, the timeout elapses
	// (ErrTimeout) or Interrupt is called (ErrInterrupted).
	Dequeue(timeout time.Duration) (Dequeued, error)

	StreamOn() error
	StreamOff() error

	// Interrupt wakes a blocked Dequeue. Safe to call from any goroutine.
	Interrupt()

	Close() error
}
