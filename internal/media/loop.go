// Copyright 2019 Lanikai Labs. All rights reserved.

package media

import (
	"sync"
)

// A loopFunc is a long-running function, e.g. a capture loop. It must return
// promptly once quit is closed.
type loopFunc func(quit <-chan struct{})

// A singletonLoop runs a loopFunc in at most one goroutine. Rather than
// counting start and stop calls, which may arrive out of order from
// different goroutines, callers ask it to converge on a wanted state.
type singletonLoop struct {
	run loopFunc

	// Closed to ask the loop to exit.
	quit chan struct{}

	// Closed by the loop goroutine once run returns.
	terminated chan struct{}

	sync.Mutex
}

func newSingletonLoop(run loopFunc) *singletonLoop {
	return &singletonLoop{run: run}
}

// update starts or stops the loop so that it runs exactly when want reports
// true. want is evaluated under the loop lock, so concurrent updates settle
// on the answer of the last one. want must not wait on the loop.
func (loop *singletonLoop) update(want func() bool) {
	loop.Lock()
	defer loop.Unlock()

	switch run := want(); {
	case run && loop.quit == nil:
		loop.start()
	case !run && loop.quit != nil:
		loop.stop()
	}
}

// halt stops the loop if it is running.
func (loop *singletonLoop) halt() {
	loop.Lock()
	defer loop.Unlock()

	if loop.quit != nil {
		loop.stop()
	}
}

func (loop *singletonLoop) running() bool {
	loop.Lock()
	defer loop.Unlock()
	return loop.quit != nil
}

// start requires the loop lock.
func (loop *singletonLoop) start() {
	if loop.quit != nil || loop.terminated != nil {
		panic("singletonLoop: already running")
	}
	loop.quit = make(chan struct{})
	loop.terminated = make(chan struct{})

	go func(quit <-chan struct{}, terminated chan<- struct{}) {
		log.Debug("starting loop")
		loop.run(quit)
		close(terminated)
	}(loop.quit, loop.terminated)
}

// stop requires the loop lock. It waits for the goroutine to exit, so the
// loopFunc must never wait on the loop lock.
func (loop *singletonLoop) stop() {
	if loop.quit == nil || loop.terminated == nil {
		panic("singletonLoop: not running")
	}
	log.Debug("stopping loop")
	close(loop.quit)
	<-loop.terminated
	loop.quit = nil
	loop.terminated = nil
}
