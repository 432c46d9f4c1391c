// Copyright 2019 Lanikai Labs. All rights reserved.

package media

import (
	"sync"

	"github.com/lanikai/cmvision/internal/color"
)

// Flow distributes frames to subscribers. It can be embedded into a struct.
// A subscriber that falls behind loses its oldest frame, never the newest.
//
// Start and Stop are called without the Flow lock held. They may overlap, or
// run out of order, when subscribers come and go quickly; hooks that manage
// a resource should check Subscribers rather than count calls.
type Flow struct {
	// Start is called when the first subscriber is added.
	Start func()

	// Stop is called, in its own goroutine, when the last subscriber is
	// removed.
	Stop func()

	subscribers []chan *color.Frame

	// Frames discarded because a subscriber was full.
	dropped uint64

	sync.Mutex
}

func (f *Flow) Subscribe(capacity int) <-chan *color.Frame {
	if capacity <= 0 {
		panic("media.Flow: subscriber capacity must be positive")
	}

	s := make(chan *color.Frame, capacity)
	f.Lock()
	f.subscribers = append(f.subscribers, s)
	first := len(f.subscribers) == 1
	f.Unlock()

	if first && f.Start != nil {
		f.Start()
	}
	return s
}

// Unsubscribe removes and closes s. Unknown channels are ignored.
func (f *Flow) Unsubscribe(s <-chan *color.Frame) {
	f.Lock()
	defer f.Unlock()

	found := false
	for i, subscriber := range f.subscribers {
		if s == subscriber {
			subs := f.subscribers
			close(subs[i])
			subs[len(subs)-1], subs[i] = subs[i], subs[len(subs)-1]
			f.subscribers = subs[:len(subs)-1]
			found = true
			break
		}
	}

	if found && f.Stop != nil && len(f.subscribers) == 0 {
		go f.Stop()
	}
}

// Write hands frame to every subscriber. Subscribers share the frame and
// must not modify it.
func (f *Flow) Write(frame *color.Frame) {
	f.Lock()
	defer f.Unlock()

	for _, subscriber := range f.subscribers {
		select {
		case subscriber <- frame:
			continue
		default:
		}

		// Full: make room by discarding the oldest frame. The receiver may have
		// emptied the channel in the meantime, so neither step blocks.
		select {
		case <-subscriber:
			f.dropped++
			log.Debug("subscriber missed frame")
		default:
		}
		select {
		case subscriber <- frame:
		default:
			f.dropped++
		}
	}
}

// Subscribers returns the number of current subscribers.
func (f *Flow) Subscribers() int {
	f.Lock()
	defer f.Unlock()
	return len(f.subscribers)
}

// Dropped returns the number of frames discarded for slow subscribers.
func (f *Flow) Dropped() uint64 {
	f.Lock()
	defer f.Unlock()
	return f.dropped
}

// Close closes every subscriber channel without calling Stop.
func (f *Flow) Close() {
	f.Lock()
	defer f.Unlock()

	for _, subscriber := range f.subscribers {
		close(subscriber)
		for len(subscriber) > 0 {
			<-subscriber // Drain
		}
	}
	f.subscribers = nil
}
