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
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Propfend/paddler/internal/agent"
	"github.com/Propfend/paddler/internal/llamacpp"
)

func runAgent(args []string) error {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)

	localAddr := fs.String("local-llamacpp-addr", "", "address of the local llama.cpp backend to poll (required)")
	externalAddr := fs.String("external-llamacpp-addr", "", "address the balancer should route clients to; defaults to local-llamacpp-addr")
	apiKey := fs.String("llamacpp-api-key", "", "bearer token for the local backend's /slots endpoint")
	managementAddr := fs.String("management-addr", "", "balancer management address to report status to (required)")
	monitoringInterval := fs.Duration("monitoring-interval", 10*time.Second, "how often to poll the local backend")
	name := fs.String("name", "", "optional human-readable name reported alongside every status update")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *localAddr == "" {
		return fmt.Errorf("agent: --local-llamacpp-addr is required")
	}
	if *managementAddr == "" {
		return fmt.Errorf("agent: --management-addr is required")
	}

	externalBackendAddr := *externalAddr
	if externalBackendAddr == "" {
		externalBackendAddr = *localAddr
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	client := llamacpp.NewClient(*localAddr, *apiKey)

	monitorOpts := []agent.MonitorOption{agent.WithMonitorLogger(logger)}
	if *name != "" {
		monitorOpts = append(monitorOpts, agent.WithMonitorName(*name))
	}
	monitor := agent.NewMonitor(client, externalBackendAddr, *monitoringInterval, monitorOpts...)

	reporter, err := agent.NewReporter(*managementAddr, agent.WithReporterLogger(logger))
	if err != nil {
		return fmt.Errorf("build reporter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go monitor.Run(ctx)
	go reporter.Run(ctx, monitor.Updates())

	logger.Info("agent started",
		zap.String("agent_id", reporter.AgentID()),
		zap.String("local_llamacpp_addr", *localAddr),
		zap.String("external_llamacpp_addr", externalBackendAddr),
		zap.String("management_addr", *managementAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	<-sigCh

	logger.Info("shutdown signal received")
	return nil
}
