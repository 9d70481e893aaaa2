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

package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Propfend/paddler/internal/protocol"
)

func TestReporter_StreamsFramesToBalancer(t *testing.T) {
	var mu sync.Mutex
	var received []protocol.StatusUpdate

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(r.Body)
		for dec.More() {
			var frame protocol.StatusUpdate
			if err := dec.Decode(&frame); err != nil {
				return
			}
			mu.Lock()
			received = append(received, frame)
			mu.Unlock()
		}
	}))
	defer srv.Close()

	reporter, err := NewReporter(srv.Listener.Addr().String(), WithAgentID("test-agent"))
	require.NoError(t, err)

	updates := make(chan protocol.StatusUpdate, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reporter.Run(ctx, updates)

	updates <- protocol.StatusUpdate{ExternalBackendAddr: "10.0.0.1:8080", SlotsIdle: 4}
	updates <- protocol.StatusUpdate{ExternalBackendAddr: "10.0.0.1:8080", SlotsIdle: 3, SlotsProcessing: 1}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4, received[0].SlotsIdle)
	assert.Equal(t, 1, received[1].SlotsProcessing)
}

func TestReporter_AgentIDDefaultsToGeneratedUUID(t *testing.T) {
	r1, err := NewReporter("127.0.0.1:0")
	require.NoError(t, err)
	r2, err := NewReporter("127.0.0.1:0")
	require.NoError(t, err)

	assert.NotEmpty(t, r1.AgentID())
	assert.NotEqual(t, r1.AgentID(), r2.AgentID())
}
