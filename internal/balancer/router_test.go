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
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Propfend/paddler/internal/protocol"
)

func backendAddr(t *testing.T, handler http.HandlerFunc) (addr string, closeFn func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	return srv.Listener.Addr().String(), srv.Close
}

func updateFor(addr string, idle, processing int) protocol.StatusUpdate {
	return protocol.StatusUpdate{
		ExternalBackendAddr: addr,
		SlotsIdle:           idle,
		SlotsProcessing:     processing,
	}
}

func TestSlotRouter_ForwardsToReservedPeer(t *testing.T) {
	addr, closeFn := backendAddr(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	defer closeFn()

	pool := NewPool()
	pool.RegisterStatusUpdate("a", updateFor(addr, 1, 0))

	router := NewSlotRouter(pool, DefaultRouterConfig())
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/completion")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	view, _ := pool.PeerByID("a")
	assert.Equal(t, 0, view.SlotsTaken, "slot must be released after the response completes")
}

func TestSlotRouter_ReroutesOn5xxBeforeFirstByte(t *testing.T) {
	badAddr, closeBad := backendAddr(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer closeBad()
	goodAddr, closeGood := backendAddr(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("good"))
	})
	defer closeGood()

	pool := NewPool()
	pool.RegisterStatusUpdate("bad", updateFor(badAddr, 5, 0))
	pool.RegisterStatusUpdate("good", updateFor(goodAddr, 1, 0))

	router := NewSlotRouter(pool, RouterConfig{QuarantineDuration: time.Minute})
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/completion")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "good", string(body))

	badView, ok := pool.PeerByID("bad")
	require.True(t, ok)
	assert.False(t, badView.Usable, "the failing peer should be quarantined")
}

func TestSlotRouter_FailsAfterExhaustingReroutes(t *testing.T) {
	fail := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }
	addrs := make([]string, 0, maxReroutes+1)
	for i := 0; i <= maxReroutes; i++ {
		addr, closeFn := backendAddr(t, fail)
		defer closeFn()
		addrs = append(addrs, addr)
	}

	pool := NewPool()
	for i, addr := range addrs {
		pool.RegisterStatusUpdate(string(rune('a'+i)), updateFor(addr, 1, 0))
	}

	router := NewSlotRouter(pool, RouterConfig{QuarantineDuration: time.Minute})
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/completion")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestSlotRouter_RejectsSlotsEndpointWhenDisabled(t *testing.T) {
	pool := NewPool()
	router := NewSlotRouter(pool, RouterConfig{SlotsEndpointEnable: false})
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/slots")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestSlotRouter_ThirdRequestParksThenWakes reproduces the boundary
// scenario of two single-slot peers and three concurrent client requests:
// two forward immediately, the third parks until a slot frees up and then
// forwards, and every slot ends up released.
func TestSlotRouter_ThirdRequestParksThenWakes(t *testing.T) {
	release := make(chan struct{})
	slow := func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("done"))
	}
	addrA, closeA := backendAddr(t, slow)
	defer closeA()
	addrB, closeB := backendAddr(t, slow)
	defer closeB()

	pool := NewPool()
	pool.RegisterStatusUpdate("a", updateFor(addrA, 1, 0))
	pool.RegisterStatusUpdate("b", updateFor(addrB, 1, 0))

	router := NewSlotRouter(pool, DefaultRouterConfig())
	srv := httptest.NewServer(router)
	defer srv.Close()

	var wg sync.WaitGroup
	results := make([]int, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			resp, err := http.Get(srv.URL + "/completion")
			if err != nil {
				return
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body)
			results[idx] = resp.StatusCode
		}(i)
	}

	require.Eventually(t, func() bool {
		view, _ := pool.PeerByID("a")
		viewB, _ := pool.PeerByID("b")
		return view.SlotsTaken == 1 && viewB.SlotsTaken == 1
	}, time.Second, 5*time.Millisecond, "both peers should be occupied while the third request parks")

	close(release)
	wg.Wait()

	for _, status := range results {
		assert.Equal(t, http.StatusOK, status)
	}

	viewA, _ := pool.PeerByID("a")
	viewB, _ := pool.PeerByID("b")
	assert.Equal(t, 0, viewA.SlotsTaken)
	assert.Equal(t, 0, viewB.SlotsTaken)
}
