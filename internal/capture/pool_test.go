package capture_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/cmvision/internal/capture"
	"github.com/lanikai/cmvision/internal/synth"
)

func newDevice(t *testing.T, opts synth.Options) *synth.Device {
	t.Helper()
	dev, err := synth.New(opts)
	require.NoError(t, err)
	_, err = dev.SetFrameRate(240)
	require.NoError(t, err)
	return dev
}

func assertCounts(t *testing.T, p *capture.Pool, free, queued, filled int) {
	t.Helper()
	f, q, fl := p.Counts()
	assert.Equal(t, []int{free, queued, filled}, []int{f, q, fl})
	assert.Equal(t, p.Len(), f+q+fl)
}

func TestPoolLifecycle(t *testing.T) {
	dev := newDevice(t, synth.Options{})
	p := capture.NewPool(dev)

	require.NoError(t, p.Allocate(4))
	assert.Equal(t, 4, p.Len())
	assertCounts(t, p, 4, 0, 0)

	require.NoError(t, p.QueueAll())
	assertCounts(t, p, 0, 4, 0)
	require.NoError(t, dev.StreamOn())

	var held []*capture.Slot
	for i := 0; i < 3; i++ {
		s, err := p.Dequeue(time.Second)
		require.NoError(t, err)
		assert.Equal(t, capture.SlotFilled, s.State)
		assert.EqualValues(t, i, s.Sequence)
		assert.Equal(t, 640*480*2, s.BytesUsed)
		held = append(held, s)
		assertCounts(t, p, 0, 3-i, i+1)
	}

	for i, s := range held {
		require.NoError(t, p.Requeue(s))
		assertCounts(t, p, 0, 2+i, 2-i)
	}

	// Buffers come back in the order they were queued.
	s, err := p.Dequeue(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Index)

	require.NoError(t, dev.StreamOff())
	require.NoError(t, p.Release())
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 0, dev.Buffers())

	// Releasing twice is harmless.
	assert.NoError(t, p.Release())
}

func TestPoolRequeueRequiresFilled(t *testing.T) {
	dev := newDevice(t, synth.Options{})
	p := capture.NewPool(dev)
	require.NoError(t, p.Allocate(2))
	require.NoError(t, p.QueueAll())
	require.NoError(t, dev.StreamOn())

	s, err := p.Dequeue(time.Second)
	require.NoError(t, err)
	require.NoError(t, p.Requeue(s))

	// Already queued.
	err = p.Requeue(s)
	assert.True(t, errors.Is(err, capture.ErrInvalidState))

	// Not from this pool.
	err = p.Requeue(&capture.Slot{Index: 0, State: capture.SlotFilled})
	assert.True(t, errors.Is(err, capture.ErrInvalidState))

	assertCounts(t, p, 0, 2, 0)
}

func TestPoolAllocateBounds(t *testing.T) {
	dev := newDevice(t, synth.Options{})
	p := capture.NewPool(dev)

	assert.True(t, errors.Is(p.Allocate(0), capture.ErrResource))
	assert.True(t, errors.Is(p.Allocate(capture.MaxBuffers+1), capture.ErrResource))

	require.NoError(t, p.Allocate(capture.MaxBuffers))
	assert.True(t, errors.Is(p.Allocate(1), capture.ErrInvalidState))
}

func TestPoolShortGrant(t *testing.T) {
	dev := newDevice(t, synth.Options{MaxBuffers: 2})
	p := capture.NewPool(dev)

	err := p.Allocate(3)
	assert.True(t, errors.Is(err, capture.ErrResource))
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 0, dev.Buffers())
}

func TestPoolMapFailure(t *testing.T) {
	dev := newDevice(t, synth.Options{})
	dev.FailMap(errors.New("cannot allocate memory"))
	p := capture.NewPool(dev)

	err := p.Allocate(3)
	assert.True(t, errors.Is(err, capture.ErrResource))
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 0, dev.Buffers(), "partially mapped buffers are released")

	// A device failure during mapping is reported as a resource error only.
	dev.FailMap(fmt.Errorf("mmap: %w", capture.ErrDevice))
	err = p.Allocate(3)
	assert.True(t, errors.Is(err, capture.ErrResource))
	assert.False(t, errors.Is(err, capture.ErrDevice))
	assert.Equal(t, 0, dev.Buffers())
}

func TestPoolDequeueTimeout(t *testing.T) {
	dev := newDevice(t, synth.Options{})
	p := capture.NewPool(dev)
	require.NoError(t, p.Allocate(2))
	require.NoError(t, p.QueueAll())
	require.NoError(t, dev.StreamOn())
	dev.Stall(true)

	start := time.Now()
	_, err := p.Dequeue(30 * time.Millisecond)
	assert.True(t, errors.Is(err, capture.ErrTimeout))
	assert.True(t, time.Since(start) >= 30*time.Millisecond)
	assertCounts(t, p, 0, 2, 0)
}
