package capture

import (
	"time"

	"github.com/pkg/errors"
)

// MaxBuffers bounds a pool allocation.
const MaxBuffers = 32

// SlotState tracks who owns a buffer slot. The caller owns FREE and FILLED
// slots; the capture source owns QUEUED ones.
type SlotState int

const (
	SlotFree SlotState = iota
	SlotQueued
	SlotFilled
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "FREE"
	case SlotQueued:
		return "QUEUED"
	case SlotFilled:
		return "FILLED"
	}
	return "?"
}

// Slot is one mapped streaming buffer.
type Slot struct {
	Index int
	Data  []byte
	State SlotState

	// Valid only while FILLED.
	BytesUsed int
	Sequence  uint32
	Timestamp time.Duration
	Corrupt   bool
}

// Pool is a fixed ring of device-mapped buffers. Ownership of a slot moves
// between caller and device only through QueueAll, Dequeue and Requeue.
type Pool struct {
	drv   Driver
	slots []*Slot
}

func NewPool(drv Driver) *Pool {
	return &Pool{drv: drv}
}

// Allocate requests count buffers from the device and maps them. On success
// every slot is FREE. The device may grant more buffers than requested.
func (p *Pool) Allocate(count int) error {
	if len(p.slots) > 0 {
		return errors.Wrap(ErrInvalidState, "pool already allocated")
	}
	if count < 1 || count > MaxBuffers {
		return errors.Wrapf(ErrResource, "buffer count %d outside [1, %d]", count, MaxBuffers)
	}

	granted, err := p.drv.RequestBuffers(count)
	if err != nil {
		return errors.Wrapf(Wrap(ErrResource, err), "request %d buffers", count)
	}
	if granted < count {
		p.drv.RequestBuffers(0)
		return errors.Wrapf(ErrResource, "device granted %d of %d buffers", granted, count)
	}

	slots := make([]*Slot, 0, granted)
	for i := 0; i < granted; i++ {
		data, err := p.drv.MapBuffer(i)
		if err != nil {
			for _, s := range slots {
				p.drv.UnmapBuffer(s.Data)
			}
			p.drv.RequestBuffers(0)
			return errors.Wrapf(Wrap(ErrResource, err), "map buffer %d", i)
		}
		slots = append(slots, &Slot{Index: i, Data: data})
	}
	p.slots = slots
	log.Debug("allocated %d buffers", granted)
	return nil
}

// Len is the number of slots in the pool.
func (p *Pool) Len() int {
	return len(p.slots)
}

// Counts returns how many slots are in each state.
func (p *Pool) Counts() (free, queued, filled int) {
	for _, s := range p.slots {
		switch s.State {
		case SlotFree:
			free++
		case SlotQueued:
			queued++
		case SlotFilled:
			filled++
		}
	}
	return
}

// QueueAll hands every FREE slot to the device.
func (p *Pool) QueueAll() error {
	for _, s := range p.slots {
		if s.State != SlotFree {
			continue
		}
		if err := p.drv.Enqueue(s.Index); err != nil {
			return deviceError(err, "queue buffer %d", s.Index)
		}
		s.State = SlotQueued
	}
	return nil
}

// Dequeue blocks until the device fills a queued slot and returns it FILLED.
func (p *Pool) Dequeue(timeout time.Duration) (*Slot, error) {
	d, err := p.drv.Dequeue(timeout)
	if err != nil {
		return nil, deviceError(err, "dequeue")
	}
	if d.Index < 0 || d.Index >= len(p.slots) {
		return nil, errors.Wrapf(ErrDevice, "device returned unknown buffer %d", d.Index)
	}

	s := p.slots[d.Index]
	if s.State != SlotQueued {
		return nil, errors.Wrapf(ErrDevice, "device returned buffer %d in state %v", d.Index, s.State)
	}
	s.State = SlotFilled
	s.BytesUsed = d.BytesUsed
	if s.BytesUsed <= 0 || s.BytesUsed > len(s.Data) {
		s.BytesUsed = len(s.Data)
	}
	s.Sequence = d.Sequence
	s.Timestamp = d.Timestamp
	s.Corrupt = d.Corrupt
	return s, nil
}

// Requeue returns a FILLED slot to the device. It must be called exactly once
// per successful Dequeue.
func (p *Pool) Requeue(s *Slot) error {
	if s == nil || s.Index < 0 || s.Index >= len(p.slots) || p.slots[s.Index] != s {
		return errors.Wrap(ErrInvalidState, "requeue: slot does not belong to pool")
	}
	if s.State != SlotFilled {
		return errors.Wrapf(ErrInvalidState, "requeue: slot %d is %v", s.Index, s.State)
	}
	if err := p.drv.Enqueue(s.Index); err != nil {
		return deviceError(err, "requeue buffer %d", s.Index)
	}
	s.State = SlotQueued
	return nil
}

// reclaim marks every slot FREE. Called after the stream is turned off, which
// returns all buffers to the caller.
func (p *Pool) reclaim() {
	for _, s := range p.slots {
		s.State = SlotFree
		s.BytesUsed = 0
	}
}

// Release unmaps all buffers and frees them on the device. Releasing an
// empty pool is a no-op.
func (p *Pool) Release() error {
	if len(p.slots) == 0 {
		return nil
	}

	var first error
	for _, s := range p.slots {
		if err := p.drv.UnmapBuffer(s.Data); err != nil && first == nil {
			first = Wrap(ErrResource, err)
		}
		s.Data = nil
	}
	p.slots = nil

	if _, err := p.drv.RequestBuffers(0); err != nil && first == nil {
		first = deviceError(err, "release buffers")
	}
	return first
}
