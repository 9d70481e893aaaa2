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

import (
	"time"

	"github.com/Propfend/paddler/internal/protocol"
)

// UpstreamPeer is the balancer's authoritative record for one agent. See
// spec section 3. Every field is only ever mutated while the owning Pool
// holds its write lock; readers obtain a cloned Snapshot instead of a
// pointer into live state.
type UpstreamPeer struct {
	AgentID             string
	AgentName           *string
	ExternalBackendAddr string
	Error               *string

	IsAuthorized         protocol.TriState
	IsSlotsEndpointReady protocol.TriState

	SlotsIdle       int
	SlotsProcessing int
	SlotsTaken      int

	// LastUpdate is the monotonic arrival time of the last applied status
	// snapshot. It also serves as the reservation stamp: a reservation
	// taken against this peer records LastUpdate at the moment it was
	// taken, so a later, fresher status update can be detected as having
	// superseded it.
	LastUpdate time.Time

	// QuarantinedUntil, when non-zero and in the future, makes the peer
	// unusable without removing it from the pool.
	QuarantinedUntil time.Time
}

// clone returns a deep copy suitable for handing to a caller outside the
// pool's lock.
func (p *UpstreamPeer) clone() *UpstreamPeer {
	c := *p
	if p.AgentName != nil {
		name := *p.AgentName
		c.AgentName = &name
	}
	if p.Error != nil {
		errMsg := *p.Error
		c.Error = &errMsg
	}
	return &c
}

// EffectiveFreeSlots is max(0, slots_idle - slots_taken), per spec
// section 3 invariant 3.
func (p *UpstreamPeer) EffectiveFreeSlots() int {
	free := p.SlotsIdle - p.SlotsTaken
	if free < 0 {
		return 0
	}
	return free
}

// Usable reports whether the peer may currently be selected, per spec
// section 3 invariant 4.
func (p *UpstreamPeer) Usable(now time.Time) bool {
	if p.Error != nil && *p.Error != "" {
		return false
	}
	if p.IsAuthorized.IsFalse() {
		return false
	}
	if p.IsSlotsEndpointReady.IsFalse() {
		return false
	}
	if p.isQuarantined(now) {
		return false
	}
	return p.EffectiveFreeSlots() > 0
}

func (p *UpstreamPeer) isQuarantined(now time.Time) bool {
	return !p.QuarantinedUntil.IsZero() && p.QuarantinedUntil.After(now)
}

// less implements the total order from spec section 4.1: usable first,
// then more effective free slots, then fewer slots_processing, then an
// earlier last_update, then lexicographic agent_id as the final
// tie-break.
func less(a, b *UpstreamPeer, now time.Time) bool {
	aUsable, bUsable := a.Usable(now), b.Usable(now)
	if aUsable != bUsable {
		return aUsable
	}

	aFree, bFree := a.EffectiveFreeSlots(), b.EffectiveFreeSlots()
	if aFree != bFree {
		return aFree > bFree
	}

	if a.SlotsProcessing != b.SlotsProcessing {
		return a.SlotsProcessing < b.SlotsProcessing
	}

	if !a.LastUpdate.Equal(b.LastUpdate) {
		return a.LastUpdate.Before(b.LastUpdate)
	}

	return a.AgentID < b.AgentID
}
