package capture_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/cmvision/internal/capture"
	"github.com/lanikai/cmvision/internal/synth"
)

func newSession(t *testing.T, dev *synth.Device, opts capture.Options) *capture.Session {
	t.Helper()
	s, err := capture.NewSession(dev, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func streaming(t *testing.T, opts capture.Options) (*capture.Session, *synth.Device) {
	t.Helper()
	dev := newDevice(t, synth.Options{})
	s := newSession(t, dev, opts)
	_, err := s.Configure(320, 240, capture.PixelFormatYUYV)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	return s, dev
}

func TestSessionLifecycle(t *testing.T) {
	dev := newDevice(t, synth.Options{})
	s := newSession(t, dev, capture.Options{})
	assert.Equal(t, capture.StateOpened, s.State())

	f, err := s.Configure(320, 240, capture.PixelFormatYUYV)
	require.NoError(t, err)
	assert.Equal(t, capture.Format{Width: 320, Height: 240, PixelFormat: capture.PixelFormatYUYV, Stride: 640, SizeImage: 320 * 240 * 2}, f)
	assert.Equal(t, capture.StateConfigured, s.State())

	fps, err := s.SetFrameRate(240)
	require.NoError(t, err)
	assert.EqualValues(t, 240, fps)
	assert.EqualValues(t, 240, s.FrameRate())

	require.NoError(t, s.Start())
	assert.Equal(t, capture.StateStreaming, s.State())
	assert.Equal(t, capture.DefaultBuffers, dev.Buffers())

	frame, err := s.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, 320, frame.Width)
	assert.Equal(t, 240, frame.Height)
	assert.Len(t, frame.Data, 320*240*2)

	require.NoError(t, s.Stop())
	assert.Equal(t, capture.StateStopped, s.State())
	assert.False(t, dev.Streaming())
	assert.Equal(t, 0, dev.Buffers())

	// A stopped session can be reconfigured and restarted.
	_, err = s.Configure(160, 120, capture.PixelFormatGrey)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	frame, err = s.NextFrame()
	require.NoError(t, err)
	assert.Len(t, frame.Data, 160*120)
	require.NoError(t, s.Stop())

	require.NoError(t, s.Close())
	assert.Equal(t, capture.StateClosed, s.State())
	assert.True(t, dev.Closed())
}

func TestSessionWrongState(t *testing.T) {
	dev := newDevice(t, synth.Options{})
	s := newSession(t, dev, capture.Options{})

	assertState := func(err error, op string) {
		t.Helper()
		var se *capture.StateError
		require.True(t, errors.As(err, &se), "%s: %v", op, err)
		assert.True(t, errors.Is(err, capture.ErrInvalidState))
		assert.Equal(t, op, se.Op)
	}

	assertState(s.Start(), "start")
	_, err := s.NextFrame()
	assertState(err, "next frame")
	assertState(s.Stop(), "stop")

	_, err = s.Configure(320, 240, capture.PixelFormatYUYV)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	_, err = s.Configure(640, 480, capture.PixelFormatYUYV)
	assertState(err, "configure")
	_, err = s.SetFrameRate(15)
	assertState(err, "set frame rate")
	assertState(s.Start(), "start")

	require.NoError(t, s.Close())
	_, err = s.NextFrame()
	assertState(err, "next frame")
	_, err = s.Configure(320, 240, capture.PixelFormatYUYV)
	assertState(err, "configure")
	_, err = s.Formats()
	assertState(err, "formats")
}

func TestSessionNegotiation(t *testing.T) {
	dev := newDevice(t, synth.Options{})
	s := newSession(t, dev, capture.Options{})

	f, err := s.Configure(641, 481, capture.PixelFormatUYVY)
	require.NoError(t, err)
	assert.Equal(t, 640, f.Width)
	assert.Equal(t, 481, f.Height)
	assert.Equal(t, capture.PixelFormatUYVY, f.PixelFormat)

	f, err = s.Configure(4000, 3000, capture.PixelFormatMJPEG)
	require.NoError(t, err)
	assert.Equal(t, synth.MaxWidth, f.Width)
	assert.Equal(t, synth.MaxHeight, f.Height)
	assert.Equal(t, capture.PixelFormatYUYV, f.PixelFormat)
	assert.Equal(t, f, s.Format())

	_, err = s.Configure(0, 480, capture.PixelFormatYUYV)
	assert.True(t, errors.Is(err, capture.ErrUnsupportedFormat))
	assert.Equal(t, capture.StateConfigured, s.State())

	formats, err := s.Formats()
	require.NoError(t, err)
	assert.Contains(t, formats, capture.PixelFormatYUYV)
}

func TestFramesAdvance(t *testing.T) {
	s, _ := streaming(t, capture.Options{Buffers: 4})

	var last uint32
	for i := 0; i < 20; i++ {
		frame, err := s.NextFrame()
		require.NoError(t, err)
		if i > 0 {
			assert.Greater(t, frame.Sequence, last)
		}
		last = frame.Sequence

		// One buffer is held by the caller, the rest belong to the device.
		free, queued, filled := s.Pool().Counts()
		assert.Equal(t, 0, free)
		assert.Equal(t, 3, queued)
		assert.Equal(t, 1, filled)
	}
}

func TestNextFrameTimeout(t *testing.T) {
	s, dev := streaming(t, capture.Options{Timeout: 50 * time.Millisecond})
	dev.Stall(true)

	start := time.Now()
	_, err := s.NextFrame()
	elapsed := time.Since(start)
	assert.True(t, errors.Is(err, capture.ErrTimeout), "%v", err)
	assert.True(t, elapsed >= 50*time.Millisecond, "returned after %v", elapsed)
	assert.True(t, elapsed < 2*time.Second, "returned after %v", elapsed)

	// Timeouts are recoverable.
	assert.Equal(t, capture.StateStreaming, s.State())
	dev.Stall(false)
	_, err = s.NextFrame()
	assert.NoError(t, err)
}

func TestDequeueFailureStops(t *testing.T) {
	s, dev := streaming(t, capture.Options{})
	_, err := s.NextFrame()
	require.NoError(t, err)

	dev.FailDequeue(errors.New("input/output error"))
	_, err = s.NextFrame()
	assert.True(t, errors.Is(err, capture.ErrDevice), "%v", err)

	assert.Equal(t, capture.StateStopped, s.State())
	assert.False(t, dev.Streaming())
	assert.Equal(t, 0, dev.Buffers())
	assert.Equal(t, 0, s.Pool().Len())

	// The session can be restarted.
	require.NoError(t, s.Start())
	_, err = s.NextFrame()
	assert.NoError(t, err)
}

func TestDeviceUnplugged(t *testing.T) {
	s, dev := streaming(t, capture.Options{})
	_, err := s.NextFrame()
	require.NoError(t, err)

	dev.Unplug()
	_, err = s.NextFrame()
	assert.True(t, errors.Is(err, capture.ErrDevice), "%v", err)
	assert.Equal(t, capture.StateStopped, s.State())

	assert.NoError(t, s.Close())
	assert.Equal(t, capture.StateClosed, s.State())
}

func TestStartFailures(t *testing.T) {
	dev := newDevice(t, synth.Options{MaxBuffers: 2})
	s := newSession(t, dev, capture.Options{Buffers: 3})
	_, err := s.Configure(320, 240, capture.PixelFormatYUYV)
	require.NoError(t, err)

	err = s.Start()
	assert.True(t, errors.Is(err, capture.ErrResource), "%v", err)
	assert.Equal(t, capture.StateConfigured, s.State())
	assert.Equal(t, 0, dev.Buffers())

	dev = newDevice(t, synth.Options{})
	s = newSession(t, dev, capture.Options{})
	_, err = s.Configure(320, 240, capture.PixelFormatYUYV)
	require.NoError(t, err)

	dev.FailStreamOn(errors.New("no space left on device"))
	err = s.Start()
	assert.True(t, errors.Is(err, capture.ErrDevice), "%v", err)
	assert.Equal(t, capture.StateConfigured, s.State())
	assert.Equal(t, 0, dev.Buffers())

	require.NoError(t, s.Start())
	assert.Equal(t, capture.StateStreaming, s.State())
}

func TestCloseTwice(t *testing.T) {
	s, dev := streaming(t, capture.Options{})
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.True(t, dev.Closed())
	assert.Equal(t, 0, dev.Buffers())
}

func TestCloseAbortsBlockedNextFrame(t *testing.T) {
	s, dev := streaming(t, capture.Options{Timeout: 10 * time.Second})
	dev.Stall(true)

	done := make(chan error, 1)
	go func() {
		_, err := s.NextFrame()
		done <- err
	}()

	// Let the reader block in Dequeue.
	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, capture.ErrInvalidState), "%v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("NextFrame still blocked after Close")
	}
	assert.True(t, time.Since(start) < 2*time.Second)
	assert.Equal(t, capture.StateClosed, s.State())
	assert.True(t, dev.Closed())
}

func TestOpenDriver(t *testing.T) {
	s, err := capture.Open("test:gray", capture.Options{})
	require.NoError(t, err)
	assert.Equal(t, "test:gray", s.Info().Path)
	require.NoError(t, s.Close())

	_, err = capture.Open("bogus:/dev/null", capture.Options{})
	assert.True(t, errors.Is(err, capture.ErrDevice))

	_, err = capture.Open("test:plaid", capture.Options{})
	assert.True(t, errors.Is(err, capture.ErrDevice))
}
