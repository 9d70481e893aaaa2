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

// Package balancer implements the balancer's stateful routing engine: the
// upstream peer pool, the agent status-update ingress, the slot-aware
// reverse proxy, and the read-only management API.
package balancer

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Propfend/paddler/internal/protocol"
)

// Option customizes a Pool at construction time.
type Option func(*Pool)

// WithClock overrides the pool's notion of time. Defaults to RealClock.
func WithClock(clock Clock) Option {
	return func(p *Pool) { p.clock = clock }
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithMetrics attaches a metrics sink. Defaults to a no-op sink.
func WithMetrics(metrics *Metrics) Option {
	return func(p *Pool) { p.metrics = metrics }
}

// NewPool constructs an empty, ready-to-use UpstreamPeerPool.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		peers:         make(map[string]*UpstreamPeer),
		clock:         RealClock,
		logger:        zap.NewNop(),
		metrics:       NopMetrics(),
		slotAvailable: newBroadcaster(),
		changed:       newBroadcaster(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Pool is the balancer's ordered collection of peers. It is the sole
// shared mutable structure in the system: everything else reaches peer
// state only through Pool's methods. See spec section 4.1.
type Pool struct {
	mu     sync.RWMutex
	peers  map[string]*UpstreamPeer
	order  []string // agent IDs sorted by less(); rebuilt by resortLocked before every reservation scan and after register/quarantine/remove
	clock  Clock
	logger *zap.Logger

	metrics *Metrics

	// slotAvailable wakes every parked ReserveSlot waiter whenever the pool
	// state changes in a way that might free up a slot.
	slotAvailable *broadcaster
	// changed wakes every waiter (e.g. a long-polling dashboard) on any
	// mutation at all.
	changed *broadcaster
}

// RegisterStatusUpdate upserts the peer identified by agentID with a fresh
// status snapshot. See spec section 4.1 and the race rule in section 4.2.
func (p *Pool) RegisterStatusUpdate(agentID string, status protocol.StatusUpdate) {
	p.mu.Lock()

	now := p.clock.Now()
	peer, existing := p.peers[agentID]
	if !existing {
		peer = &UpstreamPeer{AgentID: agentID}
		p.peers[agentID] = peer
		p.logger.Debug("peer registered", zap.String("agent_id", agentID))
	}

	oldProcessing := peer.SlotsProcessing

	peer.AgentName = status.AgentName
	peer.Error = status.Error
	peer.ExternalBackendAddr = status.ExternalBackendAddr
	peer.IsAuthorized = status.IsAuthorized
	peer.IsSlotsEndpointReady = status.IsSlotsEndpointReady
	peer.SlotsIdle = status.SlotsIdle
	peer.SlotsProcessing = status.SlotsProcessing
	peer.LastUpdate = now

	// Race rule clamp: if the new snapshot's slots_processing already
	// reflects some of this balancer's outstanding reservations, those
	// reservations are consumed. Clamp slots_taken down by exactly the
	// growth in slots_processing so it cannot grow without bound when
	// releases keep arriving stamped older-than-current. See spec
	// section 4.2, final bullet.
	if delta := status.SlotsProcessing - oldProcessing; delta > 0 {
		peer.SlotsTaken -= delta
		if peer.SlotsTaken < 0 {
			peer.SlotsTaken = 0
		}
	}

	p.resortLocked()
	freeSlotAppeared := peer.EffectiveFreeSlots() > 0 && peer.Usable(now)
	p.observeLocked()

	p.mu.Unlock()

	if freeSlotAppeared {
		p.slotAvailable.signal()
	}
	p.changed.signal()
}

// Reservation is a handle to a slot reserved on a peer. It must be
// released exactly once, on every exit path of the caller that reserved
// it — Go has no destructor to do this automatically, so the router
// defers Release immediately after a successful ReserveSlot.
type Reservation struct {
	pool     *Pool
	AgentID  string
	Stamp    time.Time
	released bool
	mu       sync.Mutex
}

// ExternalBackendAddr returns the address the reservation's peer reported
// for clients to reach it at, as of the moment the reservation was taken.
func (r *Reservation) ExternalBackendAddr() string {
	return r.pool.peerAddr(r.AgentID)
}

// Release returns the reservation's slot to the pool. It is safe to call
// more than once; only the first call has any effect, matching the
// idempotent-Close idiom used throughout the standard library.
func (r *Reservation) Release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	r.mu.Unlock()

	return r.pool.releaseSlot(r.AgentID, r.Stamp)
}

func (p *Pool) peerAddr(agentID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if peer, ok := p.peers[agentID]; ok {
		return peer.ExternalBackendAddr
	}
	return ""
}

// ReserveSlot returns the first usable peer in sort order and atomically
// increments its slots_taken. It returns ErrNoPeerAvailable if no peer is
// usable; callers that want to wait should use Pool.WaitForSlot.
func (p *Pool) ReserveSlot() (*Reservation, error) {
	return p.ReserveSlotExcluding(nil)
}

// ReserveSlotExcluding behaves like ReserveSlot but skips any agent ID
// present in excluded, so a caller retrying after a failed proxy attempt
// does not land back on the same peer it just gave up on. Because
// excluded peers are skipped rather than filtered out of the order
// up front, peers before them in sort order are still preferred, and the
// usable-first invariant still lets the scan stop once a peer is both
// non-usable and not excluded (nothing further can be usable either).
func (p *Pool) ReserveSlotExcluding(excluded map[string]struct{}) (*Reservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Earlier reservations, releases and expired quarantines change
	// usability without touching the order, so resort before scanning.
	p.resortLocked()

	now := p.clock.Now()
	for _, id := range p.order {
		peer := p.peers[id]
		if !peer.Usable(now) {
			break
		}
		if _, skip := excluded[id]; skip {
			continue
		}

		peer.SlotsTaken++
		stamp := peer.LastUpdate
		p.observeLocked()
		p.logger.Debug("slot reserved",
			zap.String("agent_id", id),
			zap.Int("slots_taken", peer.SlotsTaken))

		return &Reservation{pool: p, AgentID: id, Stamp: stamp}, nil
	}

	return nil, ErrNoPeerAvailable{}
}

// releaseSlot implements the release half of the race rule in spec
// section 4.2.
func (p *Pool) releaseSlot(agentID string, stamp time.Time) error {
	p.mu.Lock()

	peer, ok := p.peers[agentID]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownAgent(agentID)
	}

	if peer.LastUpdate.After(stamp) {
		// A fresher status snapshot has already superseded this
		// reservation; treat the release as a no-op success.
		p.mu.Unlock()
		p.logger.Debug("release superseded by fresher status",
			zap.String("agent_id", agentID))
		return nil
	}

	if peer.SlotsTaken == 0 {
		p.mu.Unlock()
		p.logger.Warn("release underflow", zap.String("agent_id", agentID))
		return ErrReleaseUnderflow(agentID)
	}

	peer.SlotsTaken--
	p.observeLocked()
	p.mu.Unlock()

	p.slotAvailable.signal()
	p.changed.signal()
	return nil
}

// QuarantinePeer marks a peer unusable until now+duration without
// removing it from the pool.
func (p *Pool) QuarantinePeer(agentID string, duration time.Duration) error {
	p.mu.Lock()
	peer, ok := p.peers[agentID]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownAgent(agentID)
	}

	peer.QuarantinedUntil = p.clock.Now().Add(duration)
	p.resortLocked()
	p.mu.Unlock()

	p.logger.Warn("peer quarantined",
		zap.String("agent_id", agentID), zap.Duration("duration", duration))
	p.changed.signal()
	return nil
}

// RemovePeer drops a peer from the pool entirely.
func (p *Pool) RemovePeer(agentID string) error {
	p.mu.Lock()
	if _, ok := p.peers[agentID]; !ok {
		p.mu.Unlock()
		return ErrUnknownAgent(agentID)
	}
	delete(p.peers, agentID)
	p.resortLocked()
	p.observeLocked()
	p.mu.Unlock()

	p.logger.Info("peer removed", zap.String("agent_id", agentID))
	p.changed.signal()
	return nil
}

// RestoreIntegrity re-sorts the pool and signals change. It exists for
// callers that mutate peers outside the normal register/reserve/release
// flow and need to force a resort afterward.
func (p *Pool) RestoreIntegrity() {
	p.mu.Lock()
	p.resortLocked()
	p.mu.Unlock()
	p.changed.signal()
}

// WaitForSlot blocks until the next slot-available signal sent after the
// call begins (a release, or a status update exposing a free slot on a
// usable peer), or until ctx is done, whichever happens first. A signal
// sent before the call is not seen. It does not reserve anything; callers
// should retry ReserveSlot after it returns.
func (p *Pool) WaitForSlot(ctx context.Context) {
	ch := p.slotAvailable.wait()
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

// WaitForChange blocks until the pool mutates in any way or ctx is done.
func (p *Pool) WaitForChange(ctx context.Context) {
	ch := p.changed.wait()
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

// resortLocked rebuilds p.order. Must be called with mu held for writing.
func (p *Pool) resortLocked() {
	now := p.clock.Now()
	order := make([]string, 0, len(p.peers))
	for id := range p.peers {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		return less(p.peers[order[i]], p.peers[order[j]], now)
	})
	p.order = order
}

// observeLocked pushes the pool's current aggregate state to the metrics
// sink. Must be called with mu held (read or write).
func (p *Pool) observeLocked() {
	var idle, processing, taken int
	for _, peer := range p.peers {
		idle += peer.SlotsIdle
		processing += peer.SlotsProcessing
		taken += peer.SlotsTaken
	}
	p.metrics.ObservePool(len(p.peers), idle, processing, taken)
}

// PeerView is a read-only, independently-owned view of one peer, returned
// by Snapshot for the management API and the dashboard.
type PeerView struct {
	AgentID              string
	AgentName            *string
	ExternalBackendAddr  string
	Error                *string
	IsAuthorized         protocol.TriState
	IsSlotsEndpointReady protocol.TriState
	SlotsIdle            int
	SlotsProcessing      int
	SlotsTaken           int
	LastUpdate           time.Time
	QuarantinedUntil     time.Time
	Usable               bool
}

// PoolInfo is a cloned snapshot of the pool's entire state.
type PoolInfo struct {
	Peers []PeerView
}

// Snapshot returns a cloned read of the pool for the management API.
func (p *Pool) Snapshot() PoolInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := p.clock.Now()
	info := PoolInfo{Peers: make([]PeerView, 0, len(p.order))}
	for _, id := range p.order {
		peer := p.peers[id]
		info.Peers = append(info.Peers, PeerView{
			AgentID:              peer.AgentID,
			AgentName:            clonePtr(peer.AgentName),
			ExternalBackendAddr:  peer.ExternalBackendAddr,
			Error:                clonePtr(peer.Error),
			IsAuthorized:         peer.IsAuthorized,
			IsSlotsEndpointReady: peer.IsSlotsEndpointReady,
			SlotsIdle:            peer.SlotsIdle,
			SlotsProcessing:      peer.SlotsProcessing,
			SlotsTaken:           peer.SlotsTaken,
			LastUpdate:           peer.LastUpdate,
			QuarantinedUntil:     peer.QuarantinedUntil,
			Usable:               peer.Usable(now),
		})
	}
	return info
}

// PeerByID returns a cloned view of a single peer, for the single-peer
// management endpoint.
func (p *Pool) PeerByID(agentID string) (PeerView, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	peer, ok := p.peers[agentID]
	if !ok {
		return PeerView{}, false
	}
	now := p.clock.Now()
	return PeerView{
		AgentID:              peer.AgentID,
		AgentName:            clonePtr(peer.AgentName),
		ExternalBackendAddr:  peer.ExternalBackendAddr,
		Error:                clonePtr(peer.Error),
		IsAuthorized:         peer.IsAuthorized,
		IsSlotsEndpointReady: peer.IsSlotsEndpointReady,
		SlotsIdle:            peer.SlotsIdle,
		SlotsProcessing:      peer.SlotsProcessing,
		SlotsTaken:           peer.SlotsTaken,
		LastUpdate:           peer.LastUpdate,
		QuarantinedUntil:     peer.QuarantinedUntil,
		Usable:               peer.Usable(now),
	}, true
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
