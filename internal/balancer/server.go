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
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/Propfend/paddler/pkg/lifecycle"
)

// shutdownGrace bounds how long Server.Stop waits for in-flight requests
// to finish before forcibly closing listeners.
const shutdownGrace = 30 * time.Second

// ServerConfig carries everything needed to stand up a balancer process.
type ServerConfig struct {
	ManagementAddr   string
	ReverseProxyAddr string
	Ingress          IngressConfig
	Router           RouterConfig
}

// Server owns the balancer's pool and the two HTTP listeners in front of
// it: the management/status-ingress listener and the reverse-proxy
// listener. Its lifecycle is managed with pkg/lifecycle.Once, giving
// idempotent, thread-safe startup and shutdown.
type Server struct {
	once   *lifecycle.Once
	logger *zap.Logger

	pool *Pool

	managementSrv *http.Server
	proxySrv      *http.Server
}

// NewServer wires a pool, status ingress, slot router, and management API
// into a Server ready to Start.
func NewServer(cfg ServerConfig, logger *zap.Logger, metrics *Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}

	pool := NewPool(WithLogger(logger), WithMetrics(metrics))

	managementRouter := httprouter.New()
	NewManagementAPI(pool).Register(managementRouter)
	NewStatusIngress(pool, cfg.Ingress,
		WithIngressLogger(logger), WithIngressMetrics(metrics),
	).Register(managementRouter)

	proxyHandler := NewSlotRouter(pool, cfg.Router,
		WithRouterLogger(logger), WithRouterMetrics(metrics),
	)

	return &Server{
		once:          lifecycle.NewOnce(),
		logger:        logger,
		pool:          pool,
		managementSrv: &http.Server{Addr: cfg.ManagementAddr, Handler: managementRouter},
		proxySrv:      &http.Server{Addr: cfg.ReverseProxyAddr, Handler: proxyHandler},
	}
}

// Pool exposes the server's pool, mainly for tests and for a future
// in-process dashboard.
func (s *Server) Pool() *Pool { return s.pool }

// Start binds both listeners, serves them on background goroutines, and
// returns; the returned error is the bind error, if either bind failed.
func (s *Server) Start() error {
	return s.once.Start(func() error {
		mgmtLn, err := net.Listen("tcp", s.managementSrv.Addr)
		if err != nil {
			return err
		}
		proxyLn, err := net.Listen("tcp", s.proxySrv.Addr)
		if err != nil {
			mgmtLn.Close()
			return err
		}

		go func() {
			if err := s.managementSrv.Serve(mgmtLn); err != nil && err != http.ErrServerClosed {
				s.logger.Error("management listener stopped", zap.Error(err))
			}
		}()
		go func() {
			if err := s.proxySrv.Serve(proxyLn); err != nil && err != http.ErrServerClosed {
				s.logger.Error("reverse proxy listener stopped", zap.Error(err))
			}
		}()

		s.logger.Info("balancer started",
			zap.String("management_addr", s.managementSrv.Addr),
			zap.String("reverseproxy_addr", s.proxySrv.Addr))
		return nil
	})
}

// WaitUntilRunning blocks until Start has completed, or ctx is done.
func (s *Server) WaitUntilRunning(ctx context.Context) error {
	return s.once.WaitUntilRunning(ctx)
}

// Stop gracefully shuts down both listeners, giving in-flight requests up
// to shutdownGrace to finish.
func (s *Server) Stop() error {
	return s.once.Stop(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		var firstErr error
		if err := s.managementSrv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.proxySrv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		s.logger.Info("balancer stopped")
		return firstErr
	})
}
