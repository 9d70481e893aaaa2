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
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"go.uber.org/zap"

	"github.com/Propfend/paddler/internal/protocol"
)

// minBackoff and maxBackoff bound the jittered reconnect delay used when
// the persistent connection to the balancer drops. Grounded on the
// reconnect loop dropped from the distillation's monitoring/reporting
// services, which retried on a fixed one-second ticker; a jittered
// exponential backoff avoids every agent in a fleet hammering the
// balancer back to life in lockstep after a restart.
const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Reporter owns the agent's single persistent chunked POST connection to
// the balancer's status ingress. It reads StatusUpdate values from a
// Monitor and re-encodes each as one JSON object per underlying HTTP
// chunk, reconnecting with backoff whenever the connection drops.
type Reporter struct {
	managementAddr string
	agentID        string
	httpClient     *http.Client
	logger         *zap.Logger
}

// ReporterOption customizes a Reporter at construction time.
type ReporterOption func(*Reporter)

// WithReporterLogger attaches a structured logger.
func WithReporterLogger(logger *zap.Logger) ReporterOption {
	return func(r *Reporter) { r.logger = logger }
}

// WithAgentID overrides the generated agent_id, mainly for tests.
func WithAgentID(id string) ReporterOption {
	return func(r *Reporter) { r.agentID = id }
}

// NewReporter builds a Reporter that streams to managementAddr. A stable
// random agent_id is generated once per process lifetime.
func NewReporter(managementAddr string, opts ...ReporterOption) (*Reporter, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("agent: generate agent id: %w", err)
	}

	r := &Reporter{
		managementAddr: managementAddr,
		agentID:        id,
		httpClient:     &http.Client{},
		logger:         zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// AgentID returns the id this reporter identifies itself with.
func (r *Reporter) AgentID() string { return r.agentID }

// Run streams every update received from updates to the balancer until
// ctx is done, reconnecting with jittered backoff whenever the stream
// ends for any other reason.
func (r *Reporter) Run(ctx context.Context, updates <-chan protocol.StatusUpdate) {
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		err := r.connectAndStream(ctx, updates)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.logger.Warn("status reporting connection ended", zap.Error(err))
		} else {
			backoff = minBackoff
		}

		wait := jitter(backoff)
		r.logger.Info("reconnecting to balancer", zap.Duration("after", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}

// connectAndStream opens one chunked POST and relays updates onto it
// until the connection fails, ctx is done, or the channel closes. It
// returns nil when the balancer answered 200 OK and closed the stream,
// when ctx is done, or when the channel closes; Run resets the reconnect
// backoff to minBackoff after a nil return.
func (r *Reporter) connectAndStream(ctx context.Context, updates <-chan protocol.StatusUpdate) error {
	pr, pw := io.Pipe()

	url := fmt.Sprintf("http://%s/status_update/%s", r.managementAddr, r.agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pw.Close()
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Transfer-Encoding", "chunked")

	respCh := make(chan error, 1)
	go func() {
		resp, err := r.httpClient.Do(req)
		if err != nil {
			respCh <- err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			respCh <- fmt.Errorf("agent: balancer returned status %d", resp.StatusCode)
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		respCh <- nil
	}()

	enc := json.NewEncoder(pw)
	for {
		select {
		case <-ctx.Done():
			pw.Close()
			<-respCh
			return nil
		case err := <-respCh:
			pw.Close()
			return err
		case update, ok := <-updates:
			if !ok {
				pw.Close()
				<-respCh
				return nil
			}
			if err := enc.Encode(update); err != nil {
				pw.CloseWithError(err)
				<-respCh
				return err
			}
		}
	}
}
