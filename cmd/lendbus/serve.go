package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lendbus/internal/auth"
	"github.com/alfredjeanlab/lendbus/internal/config"
	"github.com/alfredjeanlab/lendbus/internal/dispatch"
	"github.com/alfredjeanlab/lendbus/internal/events"
	"github.com/alfredjeanlab/lendbus/internal/lifecycle"
	"github.com/alfredjeanlab/lendbus/internal/metrics"
	"github.com/alfredjeanlab/lendbus/internal/registry"
	"github.com/alfredjeanlab/lendbus/internal/server"
	"github.com/alfredjeanlab/lendbus/internal/store"
	"github.com/alfredjeanlab/lendbus/internal/store/memory"
	"github.com/alfredjeanlab/lendbus/internal/store/postgres"
	ledgersync "github.com/alfredjeanlab/lendbus/internal/sync"
)

// newLogger builds the process logger from the configured format and level.
func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("LENDBUS_LOG_LEVEL: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st = pg
		logger.Info("store: postgres")
	} else {
		st = memory.New()
		logger.Warn("store: in-memory (LENDBUS_DATABASE_URL not set), state is lost on restart")
	}

	for _, u := range cfg.SeedUsers {
		if err := st.PutUser(ctx, &u); err != nil {
			st.Close()
			return nil, fmt.Errorf("seeding user %s: %w", u.ID, err)
		}
	}
	if n := len(cfg.SeedUsers); n > 0 {
		logger.Info("store: seeded users", "count", n)
	}
	return st, nil
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the lendbus server",
	GroupID: "system",
	// Override PersistentPreRunE so no client profile is needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.LogFormat, cfg.LogLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		authOpts := []auth.Option{}
		if cfg.JWTIssuer != "" {
			authOpts = append(authOpts, auth.WithIssuer(cfg.JWTIssuer))
		}
		authn, err := auth.New(cfg.JWTSecret, authOpts...)
		if err != nil {
			return err
		}

		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec := metrics.NewRecorder(promReg)

		// Mirror frames to NATS when configured.
		var mirror events.Publisher = events.NoopPublisher{}
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				return err
			}
			mirror = pub
			logger.Info("events: NATS mirror enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("events: NATS mirror disabled (LENDBUS_NATS_URL not set)")
		}
		defer mirror.Close()

		reg := registry.New()
		if cfg.IdleTimeout > 0 {
			reg.StartSweeper(&registry.SweeperConfig{
				IdleThreshold: cfg.IdleTimeout,
				OnClosed: func(connID, userID string) {
					logger.Info("registry: idle connection closed", "conn", connID, "user", userID)
				},
			})
			defer reg.Stop()
		}

		disp := dispatch.New(reg, dispatch.WithMirror(mirror), dispatch.WithMetrics(rec))
		loans := lifecycle.New(st, disp, lifecycle.WithMetrics(rec))
		defer loans.Close()

		srv := server.New(st, loans, authn, reg,
			server.WithMetrics(rec, metrics.Handler(promReg)),
			server.WithSendBuffer(cfg.SendBuffer),
			server.WithPongWait(cfg.PongWait),
		)

		// Ledger export.
		if cfg.ExportInterval > 0 {
			dest, err := ledgersync.NewS3Destination(ctx, ledgersync.S3Config{
				Bucket:   cfg.ExportS3Bucket,
				Key:      cfg.ExportS3Key,
				Region:   cfg.ExportS3Region,
				Endpoint: cfg.ExportS3Endpoint,
			})
			if err != nil {
				logger.Error("export: S3 destination unavailable, export disabled", "err", err)
			} else {
				sched := ledgersync.NewScheduler(st, []ledgersync.Destination{dest}, cfg.ExportInterval, logger, rec)
				sched.Start()
				defer sched.Stop()
				logger.Info("export: scheduler started", "interval", cfg.ExportInterval, "destination", dest.String())
			}
		}

		logger.Info("lendbus server started", "http_addr", cfg.HTTPAddr)
		err = server.ListenAndServe(ctx, cfg.HTTPAddr, srv.NewHTTPHandler())

		// Hijacked WebSocket connections outlive http.Server.Shutdown.
		reg.CloseAll()
		logger.Info("shutdown complete")
		return err
	},
}
