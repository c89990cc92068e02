// Package service runs the optional metrics and health endpoints next to a run.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/mec/metrics"
	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum/go-ethereum/log"
)

type Config struct {
	Metrics     opmetrics.CLIConfig
	HealthzAddr string // empty disables the healthz server
}

type Service struct {
	cfg     Config
	log     log.Logger
	Healthz *HealthzServer

	healthzServer *httputil.HTTPServer
	metricsServer *httputil.HTTPServer
}

func New(cfg Config, l log.Logger) *Service {
	if l == nil {
		l = log.Root()
	}
	l = l.New("component", "service")
	return &Service{
		cfg:     cfg,
		log:     l,
		Healthz: &HealthzServer{log: l},
	}
}

// Start launches the enabled servers. Nothing is started when both are disabled.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.Metrics.Enabled {
		s.log.Info("Starting metrics server", "addr", s.cfg.Metrics.ListenAddr, "port", s.cfg.Metrics.ListenPort)
		srv, err := opmetrics.StartServer(metrics.Registry, s.cfg.Metrics.ListenAddr, s.cfg.Metrics.ListenPort)
		if err != nil {
			metrics.RecordErrorDetails("error starting metrics server", err)
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		s.log.Info("Started metrics server", "endpoint", srv.Addr())
		s.metricsServer = srv
	}

	if s.cfg.HealthzAddr != "" {
		srv, err := httputil.StartHTTPServer(s.cfg.HealthzAddr, s.Healthz.Handler())
		if err != nil {
			metrics.RecordErrorDetails("error starting healthz server", err)
			return errors.Join(fmt.Errorf("failed to start healthz server: %w", err), s.Shutdown(ctx))
		}
		s.log.Info("Started healthz server", "endpoint", srv.Addr())
		s.healthzServer = srv
	}
	return nil
}

func (s *Service) Shutdown(ctx context.Context) error {
	var result error
	if s.healthzServer != nil {
		if err := s.healthzServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop healthz server: %w", err))
		}
		s.healthzServer = nil
		s.log.Info("healthz stopped")
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
		s.metricsServer = nil
		s.log.Info("metrics stopped")
	}
	return result
}
