package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"snapportal/src/backend/middleware"
	"snapportal/src/backend/zfscli"
	"snapportal/src/config"
	"snapportal/src/jobs"
	"snapportal/src/selector"
	"snapportal/src/service"
)

// app bundles the one-time backend selection and the service built on it.
type app struct {
	cfg     *config.Config
	svc     *service.Service
	tracker *jobs.Tracker
	log     *logrus.Logger
}

// loadApp reads configuration, performs backend selection, and builds the
// snapshot service. Called once per command invocation.
func loadApp(cmd *cobra.Command, stderr io.Writer) (*app, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	levelStr, _ := cmd.Root().PersistentFlags().GetString("log-level")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetOutput(stderr)
	if level, err := logrus.ParseLevel(levelStr); err == nil {
		log.SetLevel(level)
	}

	tracker := jobs.NewTracker(cfg.JobRetention, log)

	selCfg := selector.Config{
		Override:     cfg.Backend,
		ProbeTimeout: cfg.ProbeTimeout,
		ZFS: zfscli.Options{
			ZFSPath: cfg.Local.ZFSPath,
			Workers: cfg.Local.Workers,
		},
	}
	if cfg.Middleware.URL != "" {
		wsURL, err := cfg.WebSocketURL()
		if err != nil {
			return nil, err
		}
		selCfg.Middleware = middleware.Config{
			URL:         wsURL,
			APIKey:      cfg.Middleware.APIKey,
			VerifyTLS:   cfg.Middleware.VerifyTLS,
			CallTimeout: cfg.RPCTimeout,
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sel, err := selector.Select(ctx, selCfg, tracker, log)
	if err != nil {
		return nil, err
	}

	svc := service.New(sel, tracker, service.Options{
		SnapshotCacheTTL:    cfg.SnapshotCacheTTL,
		HealthCheckInterval: cfg.HealthCheckInterval,
	}, log)
	return &app{cfg: cfg, svc: svc, tracker: tracker, log: log}, nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
