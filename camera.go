// Package cmvision captures frames from V4L2 cameras, exposes the device's
// controls and converts frames into the layout a caller asks for. It can also
// run CMVision colour segmentation over captured frames.
//
//	cam, err := cmvision.Open("/dev/video0", nil)
//	...
//	defer cam.Close()
//	frame, err := cam.Image("bgr")
package cmvision

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/lanikai/cmvision/internal/capture"
	"github.com/lanikai/cmvision/internal/color"
	"github.com/lanikai/cmvision/internal/logging"
	"github.com/lanikai/cmvision/internal/segment"

	// Capture sources.
	_ "github.com/lanikai/cmvision/internal/synth"
	_ "github.com/lanikai/cmvision/internal/v4l2"
)

var log = logging.DefaultLogger.WithTag("cmvision")

type (
	// Setting is one device control: {name, value, default, min, max, step}.
	Setting = capture.Control

	// Frame is a converted frame. The caller owns its pixels.
	Frame = color.Frame

	// Blob is one connected colour region found by Analyse.
	Blob = segment.Blob

	DeviceInfo = capture.DeviceInfo
)

// Number of colour classes understood by the segmentation calls.
const Classes = segment.Classes

// Camera is an open capture device. Methods must not be called concurrently,
// with the exception of Close, which aborts a blocked Image or Analyse.
type Camera struct {
	session *capture.Session

	// Created on first use; the lookup table alone is 16MB.
	seg     *segment.Segmenter
	segOnce sync.Once
	segErr  error
}

// OpenDefault opens the first V4L2 device with the default configuration.
func OpenDefault() (*Camera, error) {
	return Open("", nil)
}

// Open opens the capture source named by spec and configures it. An empty
// spec falls back to cfg.Device, then to the first V4L2 device. A nil cfg
// means DefaultConfig(). Nothing stays open when Open fails.
func Open(spec string, cfg *Config) (*Camera, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if spec == "" {
		spec = cfg.Device
	}
	pf, _ := cfg.pixelFormat()

	session, err := capture.Open(spec, capture.Options{Buffers: cfg.Buffers, Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	cam := &Camera{session: session}

	if err := cam.setup(cfg, pf); err != nil {
		if cerr := cam.Close(); cerr != nil {
			log.Debug("close after failed open: %v", cerr)
		}
		return nil, err
	}
	return cam, nil
}

func (cam *Camera) setup(cfg *Config, pf capture.PixelFormat) error {
	format, err := cam.session.Configure(cfg.Width, cfg.Height, pf)
	if err != nil {
		return err
	}
	fps, err := cam.session.SetFrameRate(cfg.FrameRate)
	if err != nil {
		return err
	}

	for _, preset := range cfg.Controls {
		if err := cam.SetSetting(preset.Name, preset.Value); err != nil {
			return errors.Wrapf(err, "preset %s=%d", preset.Name, preset.Value)
		}
	}

	info := cam.session.Info()
	log.Info("opened %s (%s): %v @ %d fps", info.Path, info.Card, format, fps)
	return nil
}

// Settings lists every control in enumeration order, with current values read
// back from the device.
func (cam *Camera) Settings() ([]Setting, error) {
	return cam.session.Controls().Enumerate()
}

// Get reads one control from the device.
func (cam *Camera) Get(name string) (int32, error) {
	return cam.session.Controls().Get(name)
}

// SetSetting writes one control. Unknown names fail with ErrNotFound and
// out-of-range or misaligned values with ErrRange.
func (cam *Camera) SetSetting(name string, value int32) error {
	return cam.session.Controls().Set(name, value)
}

// Start begins streaming. Image and Analyse call it as needed.
func (cam *Camera) Start() error {
	return cam.session.Start()
}

// Stop ends streaming. The camera stays open and can be started again.
func (cam *Camera) Stop() error {
	return cam.session.Stop()
}

func (cam *Camera) ensureStarted() error {
	if cam.session.State() == capture.StateStreaming {
		return nil
	}
	return cam.session.Start()
}

// Image captures one frame and converts it to format ("bgr", "rgb", "gray",
// "yuv" or "yuyv"). Streaming starts on the first call.
func (cam *Camera) Image(format string) (*Frame, error) {
	target, err := color.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	raw, err := cam.next()
	if err != nil {
		return nil, err
	}
	return color.Convert(raw, target)
}

// ImageInto is Image writing into dst, reusing its pixel buffer when it is
// large enough.
func (cam *Camera) ImageInto(dst *Frame, format string) error {
	target, err := color.ParseFormat(format)
	if err != nil {
		return err
	}
	raw, err := cam.next()
	if err != nil {
		return err
	}
	return color.ConvertInto(dst, raw, target)
}

func (cam *Camera) next() (*capture.RawFrame, error) {
	if err := cam.ensureStarted(); err != nil {
		return nil, err
	}
	raw, err := cam.session.NextFrame()
	if err != nil {
		return nil, err
	}
	if raw.Corrupt {
		log.Debug("frame %d flagged corrupt", raw.Sequence)
	}
	return raw, nil
}

// Shape returns the negotiated frame size as (height, width).
func (cam *Camera) Shape() (height, width int) {
	f := cam.session.Format()
	return f.Height, f.Width
}

// Format returns the negotiated capture format.
func (cam *Camera) Format() capture.Format {
	return cam.session.Format()
}

func (cam *Camera) FrameRate() uint32 {
	return cam.session.FrameRate()
}

func (cam *Camera) Info() DeviceInfo {
	return cam.session.Info()
}

// Opened reports whether the device is still open.
func (cam *Camera) Opened() bool {
	return cam.session.State() != capture.StateClosed
}

// Started reports whether the camera is streaming.
func (cam *Camera) Started() bool {
	return cam.session.State() == capture.StateStreaming
}

// Close stops streaming and releases the device. Closing twice is harmless.
func (cam *Camera) Close() error {
	if cam == nil {
		return nil
	}
	return cam.session.Close()
}
