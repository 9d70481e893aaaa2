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

// Package protocol defines the wire format exchanged between an agent and
// the balancer, and nothing else: it has no dependency on the pool or the
// HTTP transport that carries it.
package protocol

import "time"

// StatusUpdate is an immutable snapshot of one backend's slots at one
// instant, as reported by an agent. See spec section 3.
type StatusUpdate struct {
	AgentName            *string  `json:"agent_name"`
	Error                *string  `json:"error"`
	ExternalBackendAddr  string   `json:"external_llamacpp_addr"`
	SlotsIdle            int      `json:"slots_idle"`
	SlotsProcessing      int      `json:"slots_processing"`
	IsAuthorized         TriState `json:"is_authorized"`
	IsSlotsEndpointReady TriState `json:"is_slots_endpoint_enabled"`

	// IssuedAt is stamped by the agent's producer-side wall clock. It is
	// informational only; the balancer's own monotonic clock governs
	// last_update and the reservation race rule.
	IssuedAt time.Time `json:"-"`
}

// HasError reports whether the agent could not reach its backend.
func (s StatusUpdate) HasError() bool {
	return s.Error != nil && *s.Error != ""
}

// Clone returns a deep copy safe to retain independently of s.
func (s StatusUpdate) Clone() StatusUpdate {
	clone := s
	if s.AgentName != nil {
		name := *s.AgentName
		clone.AgentName = &name
	}
	if s.Error != nil {
		errMsg := *s.Error
		clone.Error = &errMsg
	}
	return clone
}
