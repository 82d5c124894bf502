package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/choresyncd/internal/cache"
	"github.com/fyrsmithlabs/choresyncd/internal/chores"
	"github.com/fyrsmithlabs/choresyncd/internal/config"
	"github.com/fyrsmithlabs/choresyncd/internal/events"
	"github.com/fyrsmithlabs/choresyncd/internal/reconcile"
	"github.com/fyrsmithlabs/choresyncd/internal/remote"
	"github.com/fyrsmithlabs/choresyncd/internal/scheduler"
	"github.com/fyrsmithlabs/choresyncd/internal/server"
)

// app wires the daemon's components together.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	cache        *cache.Store
	nc           *nats.Conn
	orchestrator *reconcile.Orchestrator
	scheduler    *scheduler.Scheduler
	server       *server.Server
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	creds := remote.NewCredentials(tokenSource(cfg))

	var direct remote.Store
	if cfg.Direct.Enabled() {
		d, err := remote.NewDirect(cfg.Direct.BaseURL, cfg.Family.ID, creds, logger)
		if err != nil {
			return nil, err
		}
		direct = d
	}

	gateway, err := remote.NewGateway(cfg.Gateway.Endpoint, cfg.Family.ID, logger)
	if err != nil {
		return nil, err
	}

	client, err := remote.NewClient(direct, gateway, creds, logger)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	a.cache, err = cache.Open(cfg.Cache.Path, logger)
	if err != nil {
		return nil, err
	}

	// Event publishing is optional; a broker outage never blocks sync.
	if cfg.Events.NATSURL != "" {
		a.nc, err = nats.Connect(cfg.Events.NATSURL,
			nats.Name("choresyncd"),
			nats.MaxReconnects(-1))
		if err != nil {
			logger.Warn("nats connect failed, events disabled",
				zap.String("url", cfg.Events.NATSURL),
				zap.Error(err))
			a.nc = nil
		}
	}
	publisher := events.NewPublisher(a.nc, cfg.Family.ID, logger)

	a.orchestrator, err = reconcile.New(client, a.cache, publisher, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.scheduler = scheduler.New(a.orchestrator, cfg.Sync.Interval, cfg.Sync.Timeout, logger)

	svc, err := chores.NewService(client, gateway, a.cache, publisher, a.scheduler.Trigger, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.server, err = server.NewServer(a.orchestrator, a.cache, svc, a.scheduler.Trigger, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// tokenSource builds the direct transport's credential source, or nil
// when the daemon runs gateway-only.
func tokenSource(cfg *config.Config) oauth2.TokenSource {
	if !cfg.Direct.Enabled() {
		return nil
	}
	oc := &oauth2.Config{
		ClientID:     cfg.Direct.ClientID,
		ClientSecret: cfg.Direct.ClientSecret.Value(),
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.Direct.TokenURL},
	}
	return oc.TokenSource(context.Background(), &oauth2.Token{
		RefreshToken: cfg.Direct.RefreshToken.Value(),
	})
}

// Run starts the scheduler and HTTP server and blocks until ctx is
// cancelled, then shuts both down.
func (a *app) Run(ctx context.Context) error {
	a.scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start(a.cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		a.scheduler.Stop()
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	a.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", zap.Error(err))
	}
	return nil
}

// Close releases resources. Safe to call on a partially built app.
func (a *app) Close() {
	if a.nc != nil {
		a.nc.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", zap.Error(err))
		}
	}
}
