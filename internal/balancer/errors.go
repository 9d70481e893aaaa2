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

package balancer

import "fmt"

// ErrUnknownAgent is returned when an operation references an agent_id the
// pool has no record of.
type ErrUnknownAgent string

func (e ErrUnknownAgent) Error() string {
	return fmt.Sprintf("paddler: unknown agent %q", string(e))
}

// ErrReleaseUnderflow is returned when a release would drive slots_taken
// below zero. It indicates a coding bug in the caller, not a runtime
// condition; callers should log it as a warning and move on.
type ErrReleaseUnderflow string

func (e ErrReleaseUnderflow) Error() string {
	return fmt.Sprintf("paddler: release of agent %q would underflow slots_taken", string(e))
}

// ErrPoolPoisoned names the lock-poisoning error kind. Go's sync.RWMutex
// cannot become poisoned the way a std::sync::Mutex can, and no Pool
// method recovers panics, so the pool never returns this error.
type ErrPoolPoisoned struct {
	Cause interface{}
}

func (e ErrPoolPoisoned) Error() string {
	return fmt.Sprintf("paddler: pool operation panicked: %v", e.Cause)
}

// ErrUpstreamUnavailable is returned when the router could not connect to
// or read from the chosen peer's backend.
type ErrUpstreamUnavailable struct {
	AgentID string
	Cause   error
}

func (e ErrUpstreamUnavailable) Error() string {
	return fmt.Sprintf("paddler: upstream %q unavailable: %v", e.AgentID, e.Cause)
}

func (e ErrUpstreamUnavailable) Unwrap() error { return e.Cause }

// ErrAgentStreamProtocol is returned when an ingress connection sends a
// malformed frame or closes unexpectedly.
type ErrAgentStreamProtocol struct {
	AgentID string
	Cause   error
}

func (e ErrAgentStreamProtocol) Error() string {
	return fmt.Sprintf("paddler: agent %q stream protocol error: %v", e.AgentID, e.Cause)
}

func (e ErrAgentStreamProtocol) Unwrap() error { return e.Cause }

// ErrAdmissionTimeout is returned when a client request gives up waiting
// for a free slot before one becomes available.
type ErrAdmissionTimeout struct {
	Waited string
}

func (e ErrAdmissionTimeout) Error() string {
	return fmt.Sprintf("paddler: admission timed out after %s", e.Waited)
}

// ErrNoPeerAvailable is returned by ReserveSlot when no peer currently has
// a free slot. It is the expected, common case that triggers the router's
// admission wait, not a failure.
type ErrNoPeerAvailable struct{}

func (ErrNoPeerAvailable) Error() string { return "paddler: no peer has a free slot" }
