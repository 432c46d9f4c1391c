package capture

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/cmvision/internal/logging"
)

var log = logging.DefaultLogger.WithTag("capture")

// State of a capture session.
type State int

const (
	StateClosed State = iota
	StateOpened
	StateConfigured
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpened:
		return "OPENED"
	case StateConfigured:
		return "CONFIGURED"
	case StateStreaming:
		return "STREAMING"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

const (
	DefaultBuffers = 3
	DefaultTimeout = 500 * time.Millisecond
)

// Options tune a session. Zero values select the defaults.
type Options struct {
	// Number of streaming buffers.
	Buffers int

	// How long NextFrame waits for a frame.
	Timeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Buffers <= 0 {
		o.Buffers = DefaultBuffers
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
}

// RawFrame is a read-only view of a filled streaming buffer. It is valid
// until the next call to NextFrame, Stop or Close.
type RawFrame struct {
	Data   []byte
	Width  int
	Height int
	Stride int
	Format PixelFormat

	Sequence  uint32
	Timestamp time.Duration
	Corrupt   bool
}

// Session drives one device through
// CLOSED → OPENED → CONFIGURED → STREAMING → STOPPED → CLOSED.
//
// A Session is not safe for concurrent use, with one exception: Close may be
// called from another goroutine to abort a NextFrame blocked on the device.
type Session struct {
	// Held by every operation except while NextFrame waits on the device.
	mu sync.Mutex

	state State
	drv   Driver
	opts  Options

	format Format
	fps    uint32

	controls *Registry
	pool     *Pool

	// Slot behind the last frame handed out; requeued on the next call.
	held *Slot

	// Counts NextFrame calls blocked in Dequeue.
	waiting sync.WaitGroup
}

// Open resolves a source spec to a driver and opens a session on it.
func Open(spec string, opts Options) (*Session, error) {
	drv, err := OpenDriver(spec)
	if err != nil {
		return nil, err
	}
	return NewSession(drv, opts)
}

// NewSession takes ownership of drv and enumerates its controls. The driver
// is closed if the session cannot be created.
func NewSession(drv Driver, opts Options) (*Session, error) {
	opts.setDefaults()
	s := &Session{
		state:    StateOpened,
		drv:      drv,
		opts:     opts,
		controls: newRegistry(drv),
		pool:     NewPool(drv),
	}
	if _, err := s.controls.Enumerate(); err != nil {
		drv.Close()
		return nil, err
	}

	info := drv.Info()
	log.Info("opened %s (%s, %d controls)", info.Path, info.Card, len(s.controls.order))
	return s, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Format is the negotiated capture format; zero until Configure succeeds.
func (s *Session) Format() Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// FrameRate is the rate the device accepted, or 0 if never set.
func (s *Session) FrameRate() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

func (s *Session) Info() DeviceInfo {
	return s.drv.Info()
}

// Controls is the session's control registry. It stays usable in every state
// except CLOSED.
func (s *Session) Controls() *Registry {
	return s.controls
}

// Pool exposes the buffer pool, mainly for inspection.
func (s *Session) Pool() *Pool {
	return s.pool
}

// SetTimeout changes how long NextFrame waits for a frame.
func (s *Session) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.opts.Timeout = d
	}
}

// Formats lists the device's native pixel formats.
func (s *Session) Formats() ([]PixelFormat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, stateError("formats", s.state, StateOpened, StateConfigured, StateStreaming, StateStopped)
	}
	formats, err := s.drv.Formats()
	if err != nil {
		return nil, deviceError(err, "enumerate formats")
	}
	return formats, nil
}

// Configure negotiates width, height and pixel format with the device. The
// device may adjust any of them; the negotiated values are recorded and used
// for every following frame.
func (s *Session) Configure(width, height int, pf PixelFormat) (Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateOpened, StateConfigured, StateStopped:
	default:
		return Format{}, stateError("configure", s.state, StateOpened, StateConfigured, StateStopped)
	}
	if width <= 0 || height <= 0 {
		return Format{}, errors.Wrapf(ErrUnsupportedFormat, "invalid size %dx%d", width, height)
	}

	want := Format{Width: width, Height: height, PixelFormat: pf}
	got, err := s.drv.SetFormat(want)
	if err != nil {
		return Format{}, deviceError(err, "configure %v", want)
	}
	if got.Width <= 0 || got.Height <= 0 || got.PixelFormat == 0 {
		return Format{}, errors.Wrapf(ErrUnsupportedFormat, "device negotiated %v for %v", got, want)
	}
	if got.Stride <= 0 {
		got.Stride = got.Width * got.PixelFormat.BytesPerPixel()
	}
	if got.Width != want.Width || got.Height != want.Height || got.PixelFormat != want.PixelFormat {
		log.Info("requested %v, device negotiated %v", want, got)
	}

	s.format = got
	s.state = StateConfigured
	return got, nil
}

// SetFrameRate requests fps frames per second and records the actual rate.
func (s *Session) SetFrameRate(fps uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateOpened, StateConfigured, StateStopped:
	default:
		return 0, stateError("set frame rate", s.state, StateOpened, StateConfigured, StateStopped)
	}
	if fps == 0 {
		return 0, errors.Wrap(ErrRange, "frame rate must be positive")
	}
	got, err := s.drv.SetFrameRate(fps)
	if err != nil {
		return 0, deviceError(err, "set frame rate %d", fps)
	}
	if got != fps {
		log.Info("requested %d fps, device set %d fps", fps, got)
	}
	s.fps = got
	return got, nil
}

// Start allocates and queues the buffer pool and enables streaming. On
// failure the pool is released and the session stays CONFIGURED.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateConfigured, StateStopped:
	default:
		return stateError("start", s.state, StateConfigured, StateStopped)
	}

	if err := s.pool.Allocate(s.opts.Buffers); err != nil {
		s.state = StateConfigured
		return err
	}
	if err := s.pool.QueueAll(); err != nil {
		s.pool.Release()
		s.state = StateConfigured
		return err
	}
	if err := s.drv.StreamOn(); err != nil {
		s.pool.reclaim()
		s.pool.Release()
		s.state = StateConfigured
		return deviceError(err, "stream on")
	}

	s.state = StateStreaming
	log.Debug("streaming %v with %d buffers", s.format, s.pool.Len())
	return nil
}

// NextFrame requeues the previously returned frame's buffer and waits for the
// next filled one. ErrTimeout leaves the session streaming; any other device
// failure stops the session before the error is returned.
func (s *Session) NextFrame() (*RawFrame, error) {
	s.mu.Lock()
	if s.state != StateStreaming {
		defer s.mu.Unlock()
		return nil, stateError("next frame", s.state, StateStreaming)
	}
	if held := s.held; held != nil {
		s.held = nil
		if err := s.pool.Requeue(held); err != nil {
			defer s.mu.Unlock()
			s.fail(err)
			return nil, err
		}
	}
	timeout := s.opts.Timeout
	s.waiting.Add(1)
	s.mu.Unlock()

	slot, err := s.pool.Dequeue(timeout)
	s.waiting.Done()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStreaming {
		return nil, errors.Wrap(stateError("next frame", s.state, StateStreaming), "session closed while waiting")
	}
	if err != nil {
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrInterrupted) {
			return nil, err
		}
		s.fail(err)
		return nil, err
	}
	if slot.Corrupt {
		log.Debug("buffer %d (seq %d) flagged corrupt by driver", slot.Index, slot.Sequence)
	}

	s.held = slot
	return &RawFrame{
		Data:      slot.Data[:slot.BytesUsed],
		Width:     s.format.Width,
		Height:    s.format.Height,
		Stride:    s.format.Stride,
		Format:    s.format.PixelFormat,
		Sequence:  slot.Sequence,
		Timestamp: slot.Timestamp,
		Corrupt:   slot.Corrupt,
	}, nil
}

// Stop requeues any outstanding buffer, disables streaming and releases the
// pool.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStreaming {
		return stateError("stop", s.state, StateStreaming)
	}
	return s.stop()
}

// Close releases the device. A streaming session is stopped first, and a
// NextFrame blocked in another goroutine is woken and fails with
// ErrInvalidState. Closing a closed session is a no-op.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}

	var first error
	if s.state == StateStreaming {
		s.drv.Interrupt()
		s.waiting.Wait()
		first = s.stop()
	}

	s.controls.detach()
	if err := s.drv.Close(); err != nil && first == nil {
		first = deviceError(err, "close")
	}
	s.state = StateClosed
	log.Debug("closed %s", s.drv.Info().Path)
	return first
}

// stop tears streaming down. Must hold mu.
func (s *Session) stop() error {
	if held := s.held; held != nil {
		s.held = nil
		if err := s.pool.Requeue(held); err != nil {
			log.Debug("requeue on stop: %v", err)
		}
	}

	var first error
	if err := s.drv.StreamOff(); err != nil {
		first = deviceError(err, "stream off")
	}
	s.pool.reclaim()
	if err := s.pool.Release(); err != nil && first == nil {
		first = err
	}
	s.state = StateStopped
	return first
}

// fail handles a fatal streaming error: buffers are released and the
// session is STOPPED before the caller sees err. Must hold mu.
func (s *Session) fail(err error) {
	log.Error("capture failed, stopping stream: %v", err)
	if serr := s.stop(); serr != nil {
		log.Debug("stop after failure: %v", serr)
	}
}
