// Package synth implements an in-memory capture device. It streams test
// patterns through the same buffer-queue protocol as a V4L2 camera and can
// inject stalls and failures, so the capture engine can be exercised without
// hardware. Register it under the "test" source tag, e.g. "test:bars".
package synth

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/cmvision/internal/capture"
	"github.com/lanikai/cmvision/internal/logging"
)

var log = logging.DefaultLogger.WithTag("synth")

const (
	MaxWidth  = 1280
	MaxHeight = 1024

	defaultFPS = 30
	maxFPS     = 240
)

type Options struct {
	// Test pattern: "bars" (default), "gray" or "ramp".
	Pattern string

	// Most buffers the device grants. Default capture.MaxBuffers.
	MaxBuffers int

	// Controls exposed by the device. Default DefaultControls().
	Controls []capture.ControlInfo
}

// Device is a synthetic capture.Driver.
type Device struct {
	mu sync.Mutex

	opts    Options
	pattern pattern
	info    capture.DeviceInfo

	format   capture.Format
	interval time.Duration

	controls []capture.ControlInfo
	values   map[uint32]int32

	buffers   [][]byte
	queued    []int
	streaming bool
	closed    bool
	unplugged bool

	seq   uint32
	epoch time.Time
	last  time.Time

	// Injected faults.
	stall       bool
	corrupt     bool
	failDequeue error
	failStream  error
	failMap     error

	wake chan struct{}
}

// Open creates a device showing the named pattern.
func Open(pattern string) (*Device, error) {
	return New(Options{Pattern: pattern})
}

func New(opts Options) (*Device, error) {
	p, err := lookupPattern(opts.Pattern)
	if err != nil {
		return nil, err
	}
	if opts.Pattern == "" {
		opts.Pattern = "bars"
	}
	if opts.MaxBuffers <= 0 {
		opts.MaxBuffers = capture.MaxBuffers
	}
	if opts.Controls == nil {
		opts.Controls = DefaultControls()
	}

	d := &Device{
		opts:    opts,
		pattern: p,
		info: capture.DeviceInfo{
			Path:    "test:" + opts.Pattern,
			Driver:  "synth",
			Card:    "Synthetic Camera",
			BusInfo: "virtual",
		},
		interval: time.Second / defaultFPS,
		controls: opts.Controls,
		values:   make(map[uint32]int32),
		epoch:    time.Now(),
		wake:     make(chan struct{}, 1),
	}
	for _, c := range d.controls {
		d.values[c.ID] = c.Default
	}
	d.format = negotiate(capture.Format{Width: 640, Height: 480, PixelFormat: capture.PixelFormatYUYV})
	return d, nil
}

func init() {
	capture.RegisterDriver("test", func(path string) (capture.Driver, error) {
		return Open(path)
	})
}

// DefaultControls is the control set a synthetic device exposes unless
// Options.Controls overrides it.
func DefaultControls() []capture.ControlInfo {
	return []capture.ControlInfo{
		{ID: capture.CIDBrightness, Name: "Brightness", Kind: capture.ControlInteger, Min: -64, Max: 64, Step: 1, Default: 0},
		{ID: capture.CIDContrast, Name: "Contrast", Kind: capture.ControlInteger, Min: 0, Max: 64, Step: 1, Default: 32},
		{ID: capture.CIDSaturation, Name: "Saturation", Kind: capture.ControlInteger, Min: 0, Max: 128, Step: 1, Default: 64},
		{ID: capture.CIDHue, Name: "Hue", Kind: capture.ControlInteger, Min: -40, Max: 40, Step: 1, Default: 0},
		{ID: capture.CIDAutoWhiteBalance, Name: "White Balance, Automatic", Kind: capture.ControlBoolean, Min: 0, Max: 1, Step: 1, Default: 1},
		{ID: capture.CIDGain, Name: "Gain", Kind: capture.ControlInteger, Min: 0, Max: 100, Step: 1, Default: 0},
		{ID: capture.CIDHFlip, Name: "Horizontal Flip", Kind: capture.ControlBoolean, Min: 0, Max: 1, Step: 1, Default: 0},
		{ID: capture.CIDVFlip, Name: "Vertical Flip", Kind: capture.ControlBoolean, Min: 0, Max: 1, Step: 1, Default: 0},
		{ID: capture.CIDSharpness, Name: "Sharpness", Kind: capture.ControlInteger, Min: 0, Max: 6, Step: 2, Default: 2},
		{ID: capture.CIDExposureAuto, Name: "Auto Exposure", Kind: capture.ControlMenu, Min: 0, Max: 3, Step: 1, Default: 3},
		{ID: capture.CIDExposureAbsolute, Name: "Exposure Time, Absolute", Kind: capture.ControlInteger, Min: 1, Max: 5000, Step: 1, Default: 157},
	}
}

// negotiate adjusts a requested format to one the device supports.
func negotiate(want capture.Format) capture.Format {
	f := capture.Format{Width: want.Width, Height: want.Height, PixelFormat: want.PixelFormat}
	switch f.PixelFormat {
	case capture.PixelFormatYUYV, capture.PixelFormatUYVY, capture.PixelFormatGrey:
	default:
		f.PixelFormat = capture.PixelFormatYUYV
	}
	if f.Width > MaxWidth {
		f.Width = MaxWidth
	}
	if f.Height > MaxHeight {
		f.Height = MaxHeight
	}
	f.Width &^= 1
	if f.Width < 2 {
		f.Width = 2
	}
	if f.Height < 1 {
		f.Height = 1
	}
	f.Stride = f.Width * f.PixelFormat.BytesPerPixel()
	f.SizeImage = f.Stride * f.Height
	return f
}

// check reports whether the device can still be used. Must hold mu.
func (d *Device) check() error {
	if d.unplugged {
		return errors.Wrap(capture.ErrDevice, "no such device")
	}
	if d.closed {
		return errors.Wrap(capture.ErrDevice, "device closed")
	}
	return nil
}

func (d *Device) Info() capture.DeviceInfo {
	return d.info
}

func (d *Device) Formats() ([]capture.PixelFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}
	return []capture.PixelFormat{capture.PixelFormatYUYV, capture.PixelFormatUYVY, capture.PixelFormatGrey}, nil
}

func (d *Device) SetFormat(want capture.Format) (capture.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return capture.Format{}, err
	}
	if len(d.buffers) > 0 {
		return capture.Format{}, errors.Wrap(capture.ErrDevice, "set format: device busy")
	}
	d.format = negotiate(want)
	return d.format, nil
}

func (d *Device) SetFrameRate(fps uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return 0, err
	}
	if fps == 0 {
		fps = defaultFPS
	}
	if fps > maxFPS {
		fps = maxFPS
	}
	d.interval = time.Second / time.Duration(fps)
	return fps, nil
}

func (d *Device) QueryControls() ([]capture.ControlInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}
	out := make([]capture.ControlInfo, len(d.controls))
	copy(out, d.controls)
	return out, nil
}

func (d *Device) control(id uint32) (capture.ControlInfo, bool) {
	for _, c := range d.controls {
		if c.ID == id {
			return c, true
		}
	}
	return capture.ControlInfo{}, false
}

func (d *Device) GetControl(id uint32) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return 0, err
	}
	if _, ok := d.control(id); !ok {
		return 0, errors.Wrapf(capture.ErrDevice, "control %#x: invalid argument", id)
	}
	return d.values[id], nil
}

// SetControl clamps value into range the way most UVC cameras do.
func (d *Device) SetControl(id uint32, value int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	c, ok := d.control(id)
	if !ok {
		return errors.Wrapf(capture.ErrDevice, "control %#x: invalid argument", id)
	}
	if c.ReadOnly {
		return errors.Wrapf(capture.ErrDevice, "control %#x: permission denied", id)
	}
	if value < c.Min {
		value = c.Min
	}
	if value > c.Max {
		value = c.Max
	}
	d.values[id] = value
	return nil
}

func (d *Device) RequestBuffers(n int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return 0, err
	}
	if d.streaming {
		return 0, errors.Wrap(capture.ErrDevice, "request buffers: device busy")
	}

	d.buffers = nil
	d.queued = nil
	if n <= 0 {
		return 0, nil
	}
	if n > d.opts.MaxBuffers {
		n = d.opts.MaxBuffers
	}
	d.buffers = make([][]byte, n)
	for i := range d.buffers {
		d.buffers[i] = make([]byte, d.format.SizeImage)
	}
	return n, nil
}

func (d *Device) MapBuffer(index int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}
	if d.failMap != nil {
		err := d.failMap
		d.failMap = nil
		return nil, err
	}
	if index < 0 || index >= len(d.buffers) {
		return nil, errors.Wrapf(capture.ErrDevice, "map buffer %d: invalid argument", index)
	}
	return d.buffers[index], nil
}

func (d *Device) UnmapBuffer(b []byte) error {
	return nil
}

func (d *Device) Enqueue(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	if index < 0 || index >= len(d.buffers) {
		return errors.Wrapf(capture.ErrDevice, "queue buffer %d: invalid argument", index)
	}
	for _, q := range d.queued {
		if q == index {
			return errors.Wrapf(capture.ErrDevice, "queue buffer %d: already queued", index)
		}
	}
	d.queued = append(d.queued, index)
	return nil
}

// Dequeue fills the oldest queued buffer once the frame interval has passed
// since the previous frame.
func (d *Device) Dequeue(timeout time.Duration) (capture.Dequeued, error) {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		if err := d.check(); err != nil {
			d.mu.Unlock()
			return capture.Dequeued{}, err
		}
		if err := d.failDequeue; err != nil {
			d.failDequeue = nil
			d.mu.Unlock()
			return capture.Dequeued{}, err
		}

		var ready time.Time
		if d.streaming && !d.stall && len(d.queued) > 0 {
			ready = d.last.Add(d.interval)
			if now := time.Now(); !now.Before(ready) {
				dq := d.fill(now)
				d.mu.Unlock()
				return dq, nil
			}
		}
		d.mu.Unlock()

		now := time.Now()
		if !now.Before(deadline) {
			return capture.Dequeued{}, errors.Wrapf(capture.ErrTimeout, "no frame within %v", timeout)
		}
		wait := deadline.Sub(now)
		if !ready.IsZero() && ready.Sub(now) < wait {
			wait = ready.Sub(now)
		}

		timer := time.NewTimer(wait)
		select {
		case <-d.wake:
			timer.Stop()
			return capture.Dequeued{}, capture.ErrInterrupted
		case <-timer.C:
		}
	}
}

// fill renders the next frame into the oldest queued buffer. Must hold mu.
func (d *Device) fill(now time.Time) capture.Dequeued {
	index := d.queued[0]
	d.queued = d.queued[1:]

	render(d.buffers[index], d.format, d.pattern,
		int(d.values[capture.CIDBrightness]),
		d.values[capture.CIDHFlip] != 0,
		d.values[capture.CIDVFlip] != 0)

	d.last = now
	dq := capture.Dequeued{
		Index:     index,
		BytesUsed: d.format.SizeImage,
		Sequence:  d.seq,
		Timestamp: now.Sub(d.epoch),
		Corrupt:   d.corrupt,
	}
	d.seq++
	return dq
}

func (d *Device) StreamOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	if d.failStream != nil {
		err := d.failStream
		d.failStream = nil
		return err
	}
	if len(d.buffers) == 0 {
		return errors.Wrap(capture.ErrDevice, "stream on: no buffers")
	}
	d.streaming = true
	d.last = time.Now()
	log.Debug("streaming %v every %v", d.format, d.interval)
	return nil
}

func (d *Device) StreamOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	d.streaming = false
	d.queued = nil
	return nil
}

func (d *Device) Interrupt() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.Wrap(capture.ErrDevice, "device already closed")
	}
	d.closed = true
	d.streaming = false
	d.buffers = nil
	d.queued = nil
	return nil
}

// Stall stops (or resumes) frame delivery without leaving the streaming
// state, as a camera with a covered sensor or a stuck USB transfer does.
func (d *Device) Stall(stall bool) {
	d.mu.Lock()
	d.stall = stall
	d.mu.Unlock()
}

// Unplug makes every following call fail as if the device disappeared.
func (d *Device) Unplug() {
	d.mu.Lock()
	d.unplugged = true
	d.mu.Unlock()
}

// MarkCorrupt flags every following frame as corrupt.
func (d *Device) MarkCorrupt(corrupt bool) {
	d.mu.Lock()
	d.corrupt = corrupt
	d.mu.Unlock()
}

// FailDequeue makes the next Dequeue return err.
func (d *Device) FailDequeue(err error) {
	d.mu.Lock()
	d.failDequeue = err
	d.mu.Unlock()
}

// FailStreamOn makes the next StreamOn return err.
func (d *Device) FailStreamOn(err error) {
	d.mu.Lock()
	d.failStream = err
	d.mu.Unlock()
}

// FailMap makes the next MapBuffer return err.
func (d *Device) FailMap(err error) {
	d.mu.Lock()
	d.failMap = err
	d.mu.Unlock()
}

// Streaming reports whether the device is streaming.
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// Buffers reports how many buffers are currently allocated.
func (d *Device) Buffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
