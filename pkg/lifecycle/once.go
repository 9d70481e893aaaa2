// Copyright (c) 2026 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package lifecycle provides a small state machine for components that
// must start and stop at most once, in a thread-safe way.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	syncatomic "sync/atomic"

	"go.uber.org/atomic"
)

// State represents a stage in a lifecycle object's progression from birth
// to death.
type State int

const (
	// Idle indicates the lifecycle hasn't been operated on yet.
	Idle State = iota

	// Starting indicates that Start has begun but hasn't finished.
	Starting

	// Running indicates that Start has finished and the object is available.
	Running

	// Stopping indicates that Stop has begun but hasn't finished.
	Stopping

	// Stopped indicates that Stop has finished.
	Stopped

	// Errored indicates that Start or Stop returned an error and the
	// object's state can no longer be reasoned about precisely.
	Errored
)

var stateToName = map[State]string{
	Idle:     "idle",
	Starting: "starting",
	Running:  "running",
	Stopping: "stopping",
	Stopped:  "stopped",
	Errored:  "errored",
}

func (s State) String() string {
	if name, ok := stateToName[s]; ok {
		return name
	}
	return "unknown"
}

// Once is a helper for implementing objects that advance monotonically
// through lifecycle states using at-most-once Start and Stop
// implementations in a thread-safe manner.
type Once struct {
	// startCh closes once the state is >= Running.
	startCh chan struct{}
	// stoppingCh closes once the state is >= Stopping.
	stoppingCh chan struct{}
	// stopCh closes once the state is >= Stopped or Errored.
	stopCh chan struct{}
	// err is the error, if any, that Start or Stop returned. The right to
	// set err belongs to whichever goroutine is starting or stopping,
	// until it finishes, after which err is immutable.
	err syncatomic.Value
	// state is the object's current lifecycle state.
	state atomic.Int32
}

// NewOnce returns a lifecycle controller.
//
//  0. The observable lifecycle state only moves forward, from birth to death.
//  1. Start blocks until the state is >= Running.
//  2. Stop blocks until the state is >= Stopped.
//  3. Stop preempts Start if it runs first.
//  4. The function passed to Start or Stop runs at most once.
func NewOnce() *Once {
	return &Once{
		startCh:    make(chan struct{}),
		stoppingCh: make(chan struct{}),
		stopCh:     make(chan struct{}),
	}
}

// Start runs f at most once and returns its error. Later calls to Start
// return the error from the first call.
func (o *Once) Start(f func() error) error {
	if o.state.CompareAndSwap(int32(Idle), int32(Starting)) {
		var err error
		if f != nil {
			err = f()
		}

		if err != nil {
			o.setError(err)
			o.state.Store(int32(Errored))
			close(o.stoppingCh)
			close(o.stopCh)
		} else {
			o.state.Store(int32(Running))
		}
		close(o.startCh)

		return err
	}

	<-o.startCh
	return o.loadError()
}

// WaitUntilRunning blocks until the instance is Running, or ctx is done.
func (o *Once) WaitUntilRunning(ctx context.Context) error {
	state := State(o.state.Load())
	if state == Running {
		return nil
	}
	if state > Running {
		return errFailedPrecondition("wait for running: current state is %q", state)
	}

	select {
	case <-o.startCh:
		state := State(o.state.Load())
		if state == Running {
			return nil
		}
		return errFailedPrecondition("did not enter running state, current state is %q", state)
	case <-ctx.Done():
		return errFailedPrecondition("context finished while waiting to start: %s", ctx.Err())
	}
}

// Stop runs f at most once and returns its error. Later calls to Stop
// return the error from the first call.
func (o *Once) Stop(f func() error) error {
	if o.state.CompareAndSwap(int32(Idle), int32(Stopped)) {
		close(o.startCh)
		close(o.stoppingCh)
		close(o.stopCh)
		return nil
	}

	<-o.startCh

	if o.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		close(o.stoppingCh)

		var err error
		if f != nil {
			err = f()
		}

		if err != nil {
			o.setError(err)
			o.state.Store(int32(Errored))
		} else {
			o.state.Store(int32(Stopped))
		}
		close(o.stopCh)
		return err
	}

	<-o.stopCh
	return o.loadError()
}

// Started returns a channel that closes when the lifecycle starts.
func (o *Once) Started() <-chan struct{} { return o.startCh }

// Stopping returns a channel that closes when the lifecycle starts stopping.
func (o *Once) Stopping() <-chan struct{} { return o.stoppingCh }

// Stopped returns a channel that closes when the lifecycle stops.
func (o *Once) Stopped() <-chan struct{} { return o.stopCh }

func (o *Once) setError(err error) { o.err.Store(err) }

func (o *Once) loadError() error {
	v := o.err.Load()
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return err
	}
	return errors.New("lifecycle: stored error was not of type error")
}

// State returns the lifecycle's current state. The lifecycle may have
// advanced further by the time the caller observes the result.
func (o *Once) State() State { return State(o.state.Load()) }

// IsRunning reports whether the current state is Running.
func (o *Once) IsRunning() bool { return o.State() == Running }

func errFailedPrecondition(format string, args ...interface{}) error {
	return &preconditionError{msg: fmt.Sprintf(format, args...)}
}

type preconditionError struct{ msg string }

func (e *preconditionError) Error() string { return e.msg }
