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

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cactusstatsd "github.com/cactus/go-statsd-client/v5/statsd"
	"github.com/uber-go/tally"
	statsdreporter "github.com/uber-go/tally/statsd"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Propfend/paddler/internal/balancer"
)

func runBalancer(args []string) error {
	fs := flag.NewFlagSet("balancer", flag.ExitOnError)

	managementAddr := fs.String("management-addr", "127.0.0.1:8085", "address to serve the agent ingress and management API on")
	reverseProxyAddr := fs.String("reverseproxy-addr", "127.0.0.1:8080", "address to serve the client-facing reverse proxy on")
	rewriteHostHeader := fs.Bool("rewrite-host-header", false, "rewrite the Host header to match the chosen backend")
	slotsEndpointEnable := fs.Bool("slots-endpoint-enable", false, "forward GET /slots to the chosen backend verbatim")
	managementDashboardEnable := fs.Bool("management-dashboard-enable", false, "serve the management dashboard (unsupported in this build; flag accepted for compatibility)")
	quarantineDuration := fs.Duration("quarantine-duration", 10*time.Second, "how long a peer stays quarantined after a failure")
	idleTimeout := fs.Duration("agent-idle-timeout", 30*time.Second, "how long to wait for a status frame before treating an agent stream as dead")

	statsdAddr := fs.String("statsd-addr", "", "StatsD collector address; metrics are disabled if empty")
	statsdPrefix := fs.String("statsd-prefix", "paddler", "StatsD metric name prefix")
	statsdReportingInterval := fs.Duration("statsd-reporting-interval", 10*time.Second, "how often to flush metrics to StatsD")

	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if *managementDashboardEnable {
		logger.Warn("management dashboard was requested but is not built into this binary")
	}

	metrics, stopMetrics, err := buildMetrics(*statsdAddr, *statsdPrefix, *statsdReportingInterval)
	if err != nil {
		return fmt.Errorf("build metrics: %w", err)
	}
	if stopMetrics != nil {
		defer func() {
			if err := stopMetrics(); err != nil {
				logger.Warn("error closing metrics reporter", zap.Error(err))
			}
		}()
	}

	srv := balancer.NewServer(balancer.ServerConfig{
		ManagementAddr:   *managementAddr,
		ReverseProxyAddr: *reverseProxyAddr,
		Ingress: balancer.IngressConfig{
			IdleTimeout:        *idleTimeout,
			QuarantineDuration: *quarantineDuration,
		},
		Router: balancer.RouterConfig{
			RewriteHostHeader:   *rewriteHostHeader,
			QuarantineDuration:  *quarantineDuration,
			SlotsEndpointEnable: *slotsEndpointEnable,
		},
	}, logger, metrics)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start balancer: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	<-sigCh

	logger.Info("shutdown signal received")
	return srv.Stop()
}

// buildMetrics wires a tally.Scope to a StatsD reporter when statsdAddr is
// set, handing the caller-built scope down to long-lived components rather
// than constructing one internally. Returns a no-op scope and a nil stop
// function when metrics are disabled.
func buildMetrics(statsdAddr, prefix string, reportingInterval time.Duration) (*balancer.Metrics, func() error, error) {
	if statsdAddr == "" {
		return balancer.NopMetrics(), nil, nil
	}

	// The prefix is applied once, by the tally root scope below; giving it
	// to the StatsD client as well would emit "<prefix>.<prefix>.<name>".
	statsdClient, err := cactusstatsd.NewBufferedClient(statsdAddr, "", 100*time.Millisecond, 0)
	if err != nil {
		return nil, nil, err
	}

	reporter := statsdreporter.NewReporter(statsdClient, statsdreporter.Options{})
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:   prefix,
		Reporter: reporter,
	}, reportingInterval)

	stop := func() error {
		return multierr.Append(closer.Close(), statsdClient.Close())
	}
	return balancer.NewMetrics(scope), stop, nil
}
