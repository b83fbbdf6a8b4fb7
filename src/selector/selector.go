// Package selector chooses the active backend once per process: an explicit
// override wins unprobed, otherwise the remote daemon is probed first and
// the local tool second.
package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"snapportal/src/backend"
	"snapportal/src/backend/middleware"
	"snapportal/src/backend/zfscli"
	"snapportal/src/jobs"
)

// Backend names accepted as overrides.
const (
	BackendMiddleware = "middleware"
	BackendZFSCLI     = "zfscli"
)

// Config drives selection.
type Config struct {
	// Override pins the backend; probing is skipped and selection is final.
	Override     string
	ProbeTimeout time.Duration
	Middleware   middleware.Config
	ZFS          zfscli.Options
}

// Selection is the immutable result: the chosen transport and its
// capability snapshot, cached for the process lifetime.
type Selection struct {
	Backend      string
	Transport    backend.Transport
	Capabilities backend.CapabilitySet
	Detail       string // e.g. endpoint or tool version

	healthy func() bool
}

// Healthy answers the backend-health introspection query.
func (s *Selection) Healthy() bool {
	if s.healthy == nil {
		return true
	}
	return s.healthy()
}

// Select evaluates override, then the RPC probe, then the local-tool probe.
// First success wins; when everything fails the service is unhealthy and the
// caller gets NoBackendAvailable.
func Select(ctx context.Context, cfg Config, tracker *jobs.Tracker, log logrus.FieldLogger) (*Selection, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}

	switch cfg.Override {
	case "":
	case BackendMiddleware:
		log.Info("backend pinned to middleware")
		sel := newMiddlewareSelection(cfg, tracker, log)
		if err := sel.Transport.(*middleware.Transport).Connect(ctx); err != nil {
			// Override is final: keep the selection, report unhealthy.
			log.WithError(err).Warn("pinned middleware backend is not reachable")
		}
		return sel, nil
	case BackendZFSCLI:
		log.Info("backend pinned to zfscli")
		return newCLISelection(cfg, tracker, log, ""), nil
	default:
		return nil, backend.NoBackendError(fmt.Errorf("invalid backend override %q", cfg.Override))
	}

	if cfg.Middleware.URL != "" && cfg.Middleware.APIKey != "" {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
		sel := newMiddlewareSelection(cfg, tracker, log)
		err := sel.Transport.(*middleware.Transport).Connect(probeCtx)
		cancel()
		if err == nil {
			log.Info("selected middleware backend")
			return sel, nil
		}
		sel.Transport.Close()
		log.WithError(err).Warn("middleware probe failed, trying local tool")
	} else {
		log.Debug("middleware endpoint not configured, skipping probe")
	}

	probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	path, version, err := zfscli.Detect(probeCtx, cfg.ZFS.ZFSPath)
	cancel()
	if err != nil {
		return nil, backend.NoBackendError(err)
	}
	cfg.ZFS.ZFSPath = path
	log.WithField("version", version).Info("selected zfscli backend")
	return newCLISelection(cfg, tracker, log, version), nil
}

func newMiddlewareSelection(cfg Config, tracker *jobs.Tracker, log logrus.FieldLogger) *Selection {
	t := middleware.New(cfg.Middleware, tracker, log)
	return &Selection{
		Backend:      BackendMiddleware,
		Transport:    t,
		Capabilities: t.Capabilities(),
		Detail:       cfg.Middleware.URL,
		healthy:      t.Healthy,
	}
}

func newCLISelection(cfg Config, tracker *jobs.Tracker, log logrus.FieldLogger, version string) *Selection {
	t := zfscli.New(cfg.ZFS, tracker, log)
	detail := cfg.ZFS.ZFSPath
	if version != "" {
		detail = fmt.Sprintf("%s (zfs %s)", detail, version)
	}
	return &Selection{
		Backend:      BackendZFSCLI,
		Transport:    t,
		Capabilities: t.Capabilities(),
		Detail:       detail,
	}
}
