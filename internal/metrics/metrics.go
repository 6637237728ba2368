// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes a small ambient Prometheus surface for
// efimond: worker count and system-collector liveness. It is not part
// of the control protocol; the poll transaction remains the source of
// truth for individual worker state.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source is polled periodically to refresh the exported gauges.
type Source interface {
	WorkerCount() int
	SystemRunning() bool
}

// Server runs an HTTP endpoint serving /metrics on addr, refreshed from
// source every interval.
type Server struct {
	addr     string
	interval time.Duration
	source   Source
	log      *slog.Logger

	registry      *prometheus.Registry
	activeWorkers prometheus.Gauge
	systemUp      prometheus.Gauge

	srv *http.Server
}

// New builds a metrics server bound to addr. It does not start
// listening until Run is called.
func New(addr string, interval time.Duration, source Source, log *slog.Logger) *Server {
	registry := prometheus.NewRegistry()

	activeWorkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "efimon",
		Name:      "active_workers",
		Help:      "Number of worker collectors currently tracked by the daemon.",
	})
	systemUp := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "efimon",
		Name:      "system_collector_up",
		Help:      "1 if the background system collector is running, 0 otherwise.",
	})
	registry.MustRegister(activeWorkers, systemUp)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		addr:          addr,
		interval:      interval,
		source:        source,
		log:           log,
		registry:      registry,
		activeWorkers: activeWorkers,
		systemUp:      systemUp,
		srv:           &http.Server{Addr: addr, Handler: mux},
	}
}

func (s *Server) Name() string { return "metrics" }

// Run serves /metrics and refreshes the gauges until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.refresh()
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Server) refresh() {
	s.activeWorkers.Set(float64(s.source.WorkerCount()))
	if s.source.SystemRunning() {
		s.systemUp.Set(1)
	} else {
		s.systemUp.Set(0)
	}
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
