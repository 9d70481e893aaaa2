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

	"github.com/uber-go/tally"
)

// Metrics wraps a tally.Scope with the gauges and counters this package
// emits. A nil-safe no-op implementation is used when metrics are
// disabled, so call sites never need to check for nil. Grounded on the
// teacher's own tally.Scope wiring in its root config.go.
type Metrics struct {
	scope tally.Scope

	poolPeers      tally.Gauge
	poolIdle       tally.Gauge
	poolProcessing tally.Gauge
	poolTaken      tally.Gauge

	admissions        tally.Counter
	reroutes          tally.Counter
	admissionWaitTime tally.Timer

	ingressFrames      tally.Counter
	ingressQuarantines tally.Counter
}

// NewMetrics builds a Metrics sink backed by scope. Pass a scope built
// from a StatsD reporter (see cmd/paddler/balancer.go) to actually emit
// anything; a tally.NoopScope works for tests.
func NewMetrics(scope tally.Scope) *Metrics {
	pool := scope.SubScope("pool")
	router := scope.SubScope("router")
	ingress := scope.SubScope("ingress")

	return &Metrics{
		scope:              scope,
		poolPeers:          pool.Gauge("peers"),
		poolIdle:           pool.Gauge("slots_idle"),
		poolProcessing:     pool.Gauge("slots_processing"),
		poolTaken:          pool.Gauge("slots_taken"),
		admissions:         router.Counter("admissions"),
		reroutes:           router.Counter("reroutes"),
		admissionWaitTime:  router.Timer("admission_wait_ms"),
		ingressFrames:      ingress.Counter("frames"),
		ingressQuarantines: ingress.Counter("quarantines"),
	}
}

// NopMetrics returns a Metrics sink backed by tally's no-op scope.
func NopMetrics() *Metrics {
	return NewMetrics(tally.NoopScope)
}

// ObservePool records the pool's current aggregate slot counts.
func (m *Metrics) ObservePool(peers, idle, processing, taken int) {
	if m == nil {
		return
	}
	m.poolPeers.Update(float64(peers))
	m.poolIdle.Update(float64(idle))
	m.poolProcessing.Update(float64(processing))
	m.poolTaken.Update(float64(taken))
}

// IncAdmission records a request that was admitted onto a peer.
func (m *Metrics) IncAdmission() {
	if m == nil {
		return
	}
	m.admissions.Inc(1)
}

// IncReroute records a request that was rerouted after an upstream
// failure.
func (m *Metrics) IncReroute() {
	if m == nil {
		return
	}
	m.reroutes.Inc(1)
}

// ObserveAdmissionWait records how long a request waited for a slot.
func (m *Metrics) ObserveAdmissionWait(d time.Duration) {
	if m == nil {
		return
	}
	m.admissionWaitTime.Record(d)
}

// IncIngressFrame records one successfully applied status frame.
func (m *Metrics) IncIngressFrame() {
	if m == nil {
		return
	}
	m.ingressFrames.Inc(1)
}

// IncIngressQuarantine records an ingress-triggered quarantine.
func (m *Metrics) IncIngressQuarantine() {
	if m == nil {
		return
	}
	m.ingressQuarantines.Inc(1)
}
