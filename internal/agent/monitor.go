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

// Package agent implements the agent side of the status-update protocol:
// polling a local backend for slot occupancy and reporting it upstream to
// a balancer over a persistent chunked connection.
package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Propfend/paddler/internal/llamacpp"
	"github.com/Propfend/paddler/internal/protocol"
)

// Monitor polls a local backend on a fixed interval and publishes a
// StatusUpdate for every tick to a Reporter (or any other consumer of
// Updates()).
type Monitor struct {
	client              *llamacpp.Client
	interval            time.Duration
	name                *string
	externalBackendAddr string
	logger              *zap.Logger

	updates chan protocol.StatusUpdate
}

// MonitorOption customizes a Monitor at construction time.
type MonitorOption func(*Monitor)

// WithMonitorLogger attaches a structured logger.
func WithMonitorLogger(logger *zap.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = logger }
}

// WithMonitorName sets the optional human-readable agent name included in
// every status update.
func WithMonitorName(name string) MonitorOption {
	return func(m *Monitor) { m.name = &name }
}

// NewMonitor constructs a Monitor. externalBackendAddr is what the
// balancer will tell clients to connect to; it may differ from the
// address the monitor itself polls when the agent sits behind a NAT or
// reverse proxy.
func NewMonitor(client *llamacpp.Client, externalBackendAddr string, interval time.Duration, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		client:              client,
		interval:            interval,
		externalBackendAddr: externalBackendAddr,
		logger:              zap.NewNop(),
		updates:             make(chan protocol.StatusUpdate, 1),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Updates returns the channel Monitor publishes each tick's StatusUpdate
// to. The channel has a capacity of one; a slow consumer only ever sees
// the most recent snapshot once it catches up, never an unbounded queue.
func (m *Monitor) Updates() <-chan protocol.StatusUpdate { return m.updates }

// Run polls on m.interval until ctx is done, using a ticker-with-delay-on-miss
// pattern: a slow poll skips ahead rather than firing a burst of catch-up
// ticks.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := m.fetchStatus(ctx)
			select {
			case <-m.updates:
			default:
			}
			select {
			case m.updates <- status:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Monitor) fetchStatus(ctx context.Context) protocol.StatusUpdate {
	slots, err := m.client.GetAvailableSlots(ctx)
	if err != nil {
		m.logger.Warn("failed to fetch backend status", zap.Error(err))
		msg := err.Error()
		return protocol.StatusUpdate{
			AgentName:           m.name,
			Error:               &msg,
			ExternalBackendAddr: m.externalBackendAddr,
			IssuedAt:            time.Now(),
		}
	}

	return protocol.StatusUpdate{
		AgentName:            m.name,
		ExternalBackendAddr:  m.externalBackendAddr,
		SlotsIdle:            slots.IdleCount(),
		SlotsProcessing:      slots.ProcessingCount(),
		IsAuthorized:         protocol.FromBool(slots.IsAuthorized),
		IsSlotsEndpointReady: protocol.FromBool(slots.IsSlotsEndpointReady),
		IssuedAt:             time.Now(),
	}
}
