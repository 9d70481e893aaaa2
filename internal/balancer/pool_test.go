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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Propfend/paddler/internal/protocol"
)

func update(idle, processing int) protocol.StatusUpdate {
	return protocol.StatusUpdate{
		ExternalBackendAddr: "10.0.0.1:8080",
		SlotsIdle:           idle,
		SlotsProcessing:     processing,
	}
}

func TestPool_EmptyPoolReserveSlotReturnsNoPeerAvailable(t *testing.T) {
	p := NewPool()
	_, err := p.ReserveSlot()
	assert.ErrorAs(t, err, &ErrNoPeerAvailable{})
}

func TestPool_EmptyPoolUnparksOnRegister(t *testing.T) {
	p := NewPool()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.WaitForSlot(context.Background())
	}()

	// give the waiter a moment to park. WaitForSlot only sees signals sent
	// after it starts waiting, so the test relies on this sleep: if the
	// goroutine had not parked yet when Register runs, it would miss the
	// signal and the test would time out.
	time.Sleep(10 * time.Millisecond)
	p.RegisterStatusUpdate("a", update(1, 0))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForSlot did not wake up after a slot became available")
	}

	res, err := p.ReserveSlot()
	require.NoError(t, err)
	assert.Equal(t, "a", res.AgentID)
}

// TestPool_StaleRelease reproduces spec section 8 boundary scenario 2
// exactly.
func TestPool_StaleRelease(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	p := NewPool(WithClock(clock))

	p.RegisterStatusUpdate("a", update(5, 0))

	clock.Advance(time.Second)
	res, err := p.ReserveSlot()
	require.NoError(t, err)
	require.Equal(t, "a", res.AgentID)

	clock.Advance(time.Second)
	p.RegisterStatusUpdate("a", update(0, 0))

	require.NoError(t, res.Release())

	view, ok := p.PeerByID("a")
	require.True(t, ok)
	assert.Equal(t, 1, view.SlotsTaken, "stale release must not decrement slots_taken")
	assert.Equal(t, 0, view.SlotsIdle)
	assert.Equal(t, 0, view.SlotsProcessing)
}

// TestPool_SelectionOrder reproduces spec section 8 boundary scenario 3.
func TestPool_SelectionOrder(t *testing.T) {
	p := NewPool()
	p.RegisterStatusUpdate("a", update(5, 0))
	p.RegisterStatusUpdate("b", update(3, 0))
	p.RegisterStatusUpdate("c", update(0, 0))

	res1, err := p.ReserveSlot()
	require.NoError(t, err)
	assert.Equal(t, "a", res1.AgentID)

	res2, err := p.ReserveSlot()
	require.NoError(t, err)
	assert.Equal(t, "a", res2.AgentID, "a still has more effective free slots than b")
}

// TestPool_QuarantineSkipsThenExpires reproduces spec section 8 boundary
// scenario 4.
func TestPool_QuarantineSkipsThenExpires(t *testing.T) {
	clock := NewFakeClock(time.Unix(2000, 0))
	p := NewPool(WithClock(clock))
	p.RegisterStatusUpdate("a", update(5, 0))

	require.NoError(t, p.QuarantinePeer("a", 10*time.Second))

	_, err := p.ReserveSlot()
	assert.ErrorAs(t, err, &ErrNoPeerAvailable{})

	clock.Advance(10*time.Second + time.Millisecond)
	res, err := p.ReserveSlot()
	require.NoError(t, err)
	assert.Equal(t, "a", res.AgentID)
}

func TestPool_RegisterStatusUpdate_ClampsSlotsTakenOnConsumedReservations(t *testing.T) {
	clock := NewFakeClock(time.Unix(3000, 0))
	p := NewPool(WithClock(clock))
	p.RegisterStatusUpdate("a", update(5, 0))

	clock.Advance(time.Second)
	_, err := p.ReserveSlot()
	require.NoError(t, err)
	_, err = p.ReserveSlot()
	require.NoError(t, err)

	view, _ := p.PeerByID("a")
	require.Equal(t, 2, view.SlotsTaken)

	// The agent's own poll now reports that one of those two reservations
	// has actually started processing: slots_processing grew by 1. The
	// pool should clamp slots_taken down by that same amount.
	clock.Advance(time.Second)
	p.RegisterStatusUpdate("a", protocol.StatusUpdate{
		ExternalBackendAddr: "10.0.0.1:8080",
		SlotsIdle:           3,
		SlotsProcessing:     1,
	})

	view, _ = p.PeerByID("a")
	assert.Equal(t, 1, view.SlotsTaken)
}

func TestPool_UnknownAgentErrors(t *testing.T) {
	p := NewPool()
	assert.ErrorAs(t, p.QuarantinePeer("ghost", time.Second), new(ErrUnknownAgent))
	assert.ErrorAs(t, p.RemovePeer("ghost"), new(ErrUnknownAgent))

	res := &Reservation{pool: p, AgentID: "ghost"}
	assert.ErrorAs(t, res.Release(), new(ErrUnknownAgent))
}

func TestPool_ReleaseUnderflow(t *testing.T) {
	p := NewPool()
	p.RegisterStatusUpdate("a", update(5, 0))

	res := &Reservation{pool: p, AgentID: "a"}
	err := res.Release()
	assert.ErrorAs(t, err, new(ErrReleaseUnderflow))
}

func TestPool_UsableOrdersBeforeUnusable(t *testing.T) {
	errMsg := "boom"
	p := NewPool()
	p.RegisterStatusUpdate("broken", protocol.StatusUpdate{
		ExternalBackendAddr: "10.0.0.9:8080",
		Error:               &errMsg,
		SlotsIdle:           99,
	})
	p.RegisterStatusUpdate("healthy", update(1, 0))

	res, err := p.ReserveSlot()
	require.NoError(t, err)
	assert.Equal(t, "healthy", res.AgentID)
}

// TestPool_ConcurrentReservationsNeverOversubscribe exercises the
// invariant from spec section 8: slots_taken >= 0 and at most one
// reservation per effective free slot, under concurrent access.
func TestPool_ConcurrentReservationsNeverOversubscribe(t *testing.T) {
	p := NewPool()
	p.RegisterStatusUpdate("a", update(4, 0))

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan *Reservation, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := p.ReserveSlot(); err == nil {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	count := 0
	for range results {
		count++
	}
	assert.Equal(t, 4, count, "exactly as many reservations as free slots should succeed")

	view, _ := p.PeerByID("a")
	assert.Equal(t, 4, view.SlotsTaken)
	assert.GreaterOrEqual(t, view.SlotsTaken, 0)
}

func TestPool_ReserveSlotExcludingSkipsExcludedPeers(t *testing.T) {
	p := NewPool()
	p.RegisterStatusUpdate("a", update(5, 0))
	p.RegisterStatusUpdate("b", update(1, 0))

	res, err := p.ReserveSlotExcluding(map[string]struct{}{"a": {}})
	require.NoError(t, err)
	assert.Equal(t, "b", res.AgentID)
}

func TestPool_ReserveSlotExcludingAllPeersReturnsNoPeerAvailable(t *testing.T) {
	p := NewPool()
	p.RegisterStatusUpdate("a", update(5, 0))

	_, err := p.ReserveSlotExcluding(map[string]struct{}{"a": {}})
	assert.ErrorAs(t, err, &ErrNoPeerAvailable{})
}

func TestPool_Snapshot(t *testing.T) {
	p := NewPool()
	p.RegisterStatusUpdate("a", update(2, 1))
	info := p.Snapshot()
	require.Len(t, info.Peers, 1)
	assert.Equal(t, "a", info.Peers[0].AgentID)
	assert.True(t, info.Peers[0].Usable)
}
