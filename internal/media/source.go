// Copyright 2019 Lanikai Labs. All rights reserved.

package media

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/cmvision/internal/capture"
	"github.com/lanikai/cmvision/internal/color"
)

// ReadFunc produces the next frame. It may block until one is available.
type ReadFunc func() (*color.Frame, error)

// RetryDelay is how long a Source waits after a failed read before trying
// again. Timeouts are retried immediately.
var RetryDelay = 200 * time.Millisecond

// A Source is a Flow fed by a capture loop. The loop runs only while the
// Source has subscribers.
type Source struct {
	Flow

	read ReadFunc
	loop *singletonLoop
}

func NewSource(read ReadFunc) *Source {
	s := &Source{read: read}
	s.loop = newSingletonLoop(s.pump)
	s.Flow.Start = s.update
	s.Flow.Stop = s.update
	return s
}

// update runs the capture loop while there are subscribers.
func (s *Source) update() {
	s.loop.update(func() bool { return s.Subscribers() > 0 })
}

// Running reports whether the capture loop is active.
func (s *Source) Running() bool {
	return s.loop.running()
}

// Close disconnects every subscriber and stops the capture loop.
func (s *Source) Close() {
	s.Flow.Close()
	s.loop.halt()
}

func (s *Source) pump(quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		default:
		}

		frame, err := s.read()
		select {
		case <-quit:
			return
		default:
		}

		switch {
		case err == nil:
			s.Write(frame)
		case errors.Is(err, capture.ErrTimeout):
			log.Debug("read: %v", err)
		default:
			log.Warn("read: %v", err)
			select {
			case <-quit:
				return
			case <-time.After(RetryDelay):
			}
		}
	}
}
