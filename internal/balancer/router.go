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
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// maxReroutes bounds how many times SlotRouter will pick a different peer
// after an upstream failure before giving up and returning an error to the
// client. A client request that exhausts this has now failed against three
// independent peers.
const maxReroutes = 2

// RouterConfig customizes SlotRouter behavior.
type RouterConfig struct {
	// RewriteHostHeader, when true, sets the outgoing request's Host header
	// to the chosen peer's external_llamacpp_addr instead of forwarding the
	// client's original Host header.
	RewriteHostHeader bool
	// QuarantineDuration is how long a peer that failed a proxied request
	// is quarantined before being considered again.
	QuarantineDuration time.Duration
	// UpstreamTimeout bounds the whole upstream exchange, from connecting
	// through reading the last byte of the response body (it is used as
	// http.Client.Timeout). Zero means no timeout.
	UpstreamTimeout time.Duration
	// SlotsEndpointEnable controls whether /slots is forwarded verbatim.
	// When false, requests to that path are rejected before a slot is
	// ever reserved.
	SlotsEndpointEnable bool
}

// DefaultRouterConfig matches the defaults named for the reverse proxy.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RewriteHostHeader:  false,
		QuarantineDuration: 10 * time.Second,
	}
}

// SlotRouter is the slot-aware reverse proxy: it reserves a slot, forwards
// the request to the reserving peer, and releases the slot once the
// response has been fully written. Unlike httputil.ReverseProxy, it calls
// http.Client.Do directly so the upstream's status line is available
// before any response byte is copied to the client, which is what makes
// the quarantine-and-reroute-before-first-byte rule possible.
type SlotRouter struct {
	pool    *Pool
	client  *http.Client
	cfg     RouterConfig
	logger  *zap.Logger
	metrics *Metrics
}

// RouterOption customizes a SlotRouter at construction time.
type RouterOption func(*SlotRouter)

// WithRouterLogger attaches a structured logger.
func WithRouterLogger(logger *zap.Logger) RouterOption {
	return func(s *SlotRouter) { s.logger = logger }
}

// WithRouterMetrics attaches a metrics sink.
func WithRouterMetrics(metrics *Metrics) RouterOption {
	return func(s *SlotRouter) { s.metrics = metrics }
}

// WithRouterHTTPClient overrides the client used to reach upstream peers,
// mainly for tests.
func WithRouterHTTPClient(client *http.Client) RouterOption {
	return func(s *SlotRouter) { s.client = client }
}

// NewSlotRouter constructs a SlotRouter bound to pool.
func NewSlotRouter(pool *Pool, cfg RouterConfig, opts ...RouterOption) *SlotRouter {
	s := &SlotRouter{
		pool:    pool,
		client:  &http.Client{Timeout: cfg.UpstreamTimeout},
		cfg:     cfg,
		logger:  zap.NewNop(),
		metrics: NopMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeHTTP implements http.Handler. It blocks admitting the request until
// a slot is available or the client disconnects, then proxies it, quarantining
// and rerouting on upstream failure up to maxReroutes times.
func (s *SlotRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/slots" && !s.cfg.SlotsEndpointEnable {
		http.NotFound(w, r)
		return
	}

	ctx := r.Context()
	started := time.Now()

	excluded := make(map[string]struct{}, maxReroutes+1)

	for attempt := 0; attempt <= maxReroutes; attempt++ {
		res, err := s.admit(ctx, excluded)
		if err != nil {
			s.logger.Warn("admission failed", zap.Error(err))
			http.Error(w, "no backend available", http.StatusServiceUnavailable)
			return
		}

		if attempt == 0 {
			s.metrics.ObserveAdmissionWait(time.Since(started))
		}
		s.metrics.IncAdmission()

		ok := s.proxyOnce(w, r, res)
		if ok {
			return
		}

		excluded[res.AgentID] = struct{}{}
		if err := s.pool.QuarantinePeer(res.AgentID, s.cfg.QuarantineDuration); err != nil {
			s.logger.Debug("quarantine after failed proxy attempt skipped",
				zap.String("agent_id", res.AgentID), zap.Error(err))
		}
		if attempt == maxReroutes {
			http.Error(w, "upstream failed after retries", http.StatusBadGateway)
			return
		}
		s.metrics.IncReroute()
	}
}

// admit reserves a slot on a peer not in excluded, parking on the pool's
// slot-available condition and retrying for as long as ctx allows.
func (s *SlotRouter) admit(ctx context.Context, excluded map[string]struct{}) (*Reservation, error) {
	for {
		res, err := s.pool.ReserveSlotExcluding(excluded)
		if err == nil {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		waitCtx, cancel := context.WithCancel(ctx)
		s.pool.WaitForSlot(waitCtx)
		cancel()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

// proxyOnce forwards the request to res's peer and reports whether the
// response was (at least begun to be) successfully written to the client.
// A false return means the caller should quarantine the peer and retry
// elsewhere; this only happens when the failure is detected before any
// response bytes reach the client.
func (s *SlotRouter) proxyOnce(w http.ResponseWriter, r *http.Request, res *Reservation) (ok bool) {
	defer func() {
		if err := res.Release(); err != nil {
			s.logger.Warn("slot release failed",
				zap.String("agent_id", res.AgentID), zap.Error(err))
		}
	}()

	addr := res.ExternalBackendAddr()
	if addr == "" {
		return false
	}

	outreq := r.Clone(r.Context())
	outreq.URL.Scheme = "http"
	outreq.URL.Host = addr
	outreq.RequestURI = ""
	if s.cfg.RewriteHostHeader {
		outreq.Host = addr
	}

	resp, err := s.client.Do(outreq)
	if err != nil {
		s.logger.Warn("upstream request failed",
			zap.String("agent_id", res.AgentID), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		s.logger.Warn("upstream returned server error",
			zap.String("agent_id", res.AgentID), zap.Int("status", resp.StatusCode))
		return false
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
	return true
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
