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
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/Propfend/paddler/internal/protocol"
)

// IngressConfig customizes StatusIngress behavior.
type IngressConfig struct {
	// IdleTimeout is how long the ingress will wait for a frame before
	// treating the connection as dead. Spec section 4.3 default: 3x the
	// agent's monitoring interval, which the balancer does not learn over
	// the wire, so this is configured balancer-side instead.
	IdleTimeout time.Duration
	// QuarantineDuration is how long a peer is quarantined after its
	// stream ends, before being removed if it has not reconnected.
	QuarantineDuration time.Duration
}

// DefaultIngressConfig matches the defaults named in spec section 4.3.
func DefaultIngressConfig() IngressConfig {
	return IngressConfig{
		IdleTimeout:        30 * time.Second,
		QuarantineDuration: 10 * time.Second,
	}
}

// StatusIngress terminates one persistent HTTP connection per agent,
// parses a stream of concatenated JSON StatusUpdate values, and
// applies each to the pool. See spec section 4.3.
type StatusIngress struct {
	pool    *Pool
	logger  *zap.Logger
	metrics *Metrics
	cfg     IngressConfig

	mu            sync.Mutex
	activeStreams map[string]int
	removalTimers map[string]*time.Timer
}

// NewStatusIngress constructs a StatusIngress bound to pool.
func NewStatusIngress(pool *Pool, cfg IngressConfig, opts ...IngressOption) *StatusIngress {
	ing := &StatusIngress{
		pool:          pool,
		logger:        zap.NewNop(),
		metrics:       NopMetrics(),
		cfg:           cfg,
		activeStreams: make(map[string]int),
		removalTimers: make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// IngressOption customizes a StatusIngress at construction time.
type IngressOption func(*StatusIngress)

// WithIngressLogger attaches a structured logger.
func WithIngressLogger(logger *zap.Logger) IngressOption {
	return func(i *StatusIngress) { i.logger = logger }
}

// WithIngressMetrics attaches a metrics sink.
func WithIngressMetrics(metrics *Metrics) IngressOption {
	return func(i *StatusIngress) { i.metrics = metrics }
}

// Register adds the ingress's route to router.
func (ing *StatusIngress) Register(router *httprouter.Router) {
	router.POST("/status_update/:agentID", ing.handle)
}

func (ing *StatusIngress) handle(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	agentID := ps.ByName("agentID")
	if agentID == "" {
		http.Error(w, "agent id is required", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	defer r.Body.Close()

	ing.onStreamStart(agentID)

	rc := http.NewResponseController(w)
	dec := json.NewDecoder(r.Body)

	malformed := false
	for {
		_ = rc.SetReadDeadline(time.Now().Add(ing.cfg.IdleTimeout))

		if !dec.More() {
			break
		}

		var frame protocol.StatusUpdate
		if err := dec.Decode(&frame); err != nil {
			ing.logger.Warn("malformed status frame",
				zap.String("agent_id", agentID), zap.Error(err))
			http.Error(w, "malformed status update frame", http.StatusBadRequest)
			malformed = true
			break
		}

		ing.pool.RegisterStatusUpdate(agentID, frame)
		ing.metrics.IncIngressFrame()
	}

	ing.onStreamEnd(agentID, malformed)
}

// onStreamStart cancels any pending removal for agentID (the agent has
// reconnected within its quarantine grace period) and records the new
// stream.
func (ing *StatusIngress) onStreamStart(agentID string) {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	if timer, ok := ing.removalTimers[agentID]; ok {
		timer.Stop()
		delete(ing.removalTimers, agentID)
	}
	ing.activeStreams[agentID]++
}

// onStreamEnd does nothing while another stream for the same agent is
// still open. Otherwise it quarantines agentID's peer and schedules its
// removal after the quarantine window unless it reconnects first.
func (ing *StatusIngress) onStreamEnd(agentID string, malformed bool) {
	ing.mu.Lock()
	ing.activeStreams[agentID]--
	noStreamsLeft := ing.activeStreams[agentID] <= 0
	if noStreamsLeft {
		delete(ing.activeStreams, agentID)
	}
	ing.mu.Unlock()

	if !noStreamsLeft {
		// Another concurrent stream for this agent is still live; don't
		// quarantine out from under it.
		return
	}

	if err := ing.pool.QuarantinePeer(agentID, ing.cfg.QuarantineDuration); err != nil {
		// Typically ErrUnknownAgent: the stream ended before the agent
		// ever sent a valid frame, so there is no peer to quarantine.
		return
	}
	ing.metrics.IncIngressQuarantine()

	if malformed {
		ing.logger.Info("peer quarantined after malformed frame",
			zap.String("agent_id", agentID))
	} else {
		ing.logger.Info("peer quarantined after stream end",
			zap.String("agent_id", agentID))
	}

	timer := time.AfterFunc(ing.cfg.QuarantineDuration, func() {
		ing.mu.Lock()
		_, reconnected := ing.activeStreams[agentID]
		delete(ing.removalTimers, agentID)
		ing.mu.Unlock()

		if reconnected {
			return
		}
		if err := ing.pool.RemovePeer(agentID); err == nil {
			ing.logger.Info("peer removed after quarantine expired",
				zap.String("agent_id", agentID))
		}
	})

	ing.mu.Lock()
	ing.removalTimers[agentID] = timer
	ing.mu.Unlock()
}
