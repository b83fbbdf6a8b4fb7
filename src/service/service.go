// Package service exposes the unified snapshot contract. It is the only
// consumer-facing entry point: every call is capability-checked, every path
// is validated before the active transport sees it.
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"snapportal/src/backend"
	"snapportal/src/diff"
	"snapportal/src/jobs"
	"snapportal/src/pathcheck"
	"snapportal/src/selector"
)

// Options tunes service behavior.
type Options struct {
	// SnapshotCacheTTL bounds how long snapshot listings are reused.
	// Zero disables caching.
	SnapshotCacheTTL time.Duration
	// HealthCheckInterval bounds how often pool health is re-probed.
	// Zero probes on every call.
	HealthCheckInterval time.Duration
}

// Info answers the backend introspection query.
type Info struct {
	Backend      string   `json:"backend"`
	Capabilities []string `json:"capabilities"`
	Detail       string   `json:"detail"`
	Healthy      bool     `json:"healthy"`
}

type snapshotCacheEntry struct {
	at    time.Time
	snaps []backend.Snapshot
}

// Service implements the unified snapshot contract over the selected
// transport.
type Service struct {
	sel     *selector.Selection
	tracker *jobs.Tracker
	opts    Options
	log     logrus.FieldLogger

	cacheMu sync.Mutex
	cache   map[string]snapshotCacheEntry
	now     func() time.Time

	healthMu    sync.Mutex
	healthAt    time.Time
	healthPools []backend.PoolStatus
}

// New builds a service over a completed backend selection.
func New(sel *selector.Selection, tracker *jobs.Tracker, opts Options, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		sel:     sel,
		tracker: tracker,
		opts:    opts,
		log:     log.WithField("component", "service"),
		cache:   make(map[string]snapshotCacheEntry),
		now:     time.Now,
	}
}

// BackendInfo reports the active backend and its capability snapshot.
func (s *Service) BackendInfo() Info {
	return Info{
		Backend:      s.sel.Backend,
		Capabilities: s.sel.Capabilities.Names(),
		Detail:       s.sel.Detail,
		Healthy:      s.sel.Healthy(),
	}
}

// Tracker exposes the job registry for subscriptions.
func (s *Service) Tracker() *jobs.Tracker { return s.tracker }

// jobLookuper is implemented by transports that can fetch jobs submitted by
// other processes and register them with the tracker.
type jobLookuper interface {
	LookupJob(ctx context.Context, jobID string) error
}

// Job returns the tracked state of one restore job. A job unknown to this
// process is looked up on the backend when it supports cross-process jobs.
func (s *Service) Job(ctx context.Context, jobID string) (jobs.Job, error) {
	if err := s.ensureJob(ctx, jobID); err != nil {
		return jobs.Job{}, err
	}
	return s.tracker.Get(jobID)
}

// WatchJob attaches to a job's event stream, resolving the job on the
// backend first when this process has not seen it.
func (s *Service) WatchJob(ctx context.Context, jobID string) (<-chan jobs.Event, func(), error) {
	if err := s.ensureJob(ctx, jobID); err != nil {
		return nil, nil, err
	}
	return s.tracker.Subscribe(jobID)
}

func (s *Service) ensureJob(ctx context.Context, jobID string) error {
	_, err := s.tracker.Get(jobID)
	if err == nil {
		return nil
	}
	if !backend.IsKind(err, backend.KindJobNotFound) {
		return err
	}
	if !s.sel.Capabilities.Has(backend.CapJobs) {
		return &backend.Error{
			Kind:    backend.KindUnsupported,
			Message: "restore jobs on this backend do not outlive the submitting process",
		}
	}
	lookup, ok := s.sel.Transport.(jobLookuper)
	if !ok {
		return err
	}
	return lookup.LookupJob(ctx, jobID)
}

func (s *Service) require(op backend.Capability) error {
	if !s.sel.Capabilities.Has(op) {
		return backend.UnsupportedError(op)
	}
	return nil
}

// ListDatasets re-lists datasets on every call; discovery is never cached.
func (s *Service) ListDatasets(ctx context.Context) ([]backend.Dataset, error) {
	return s.sel.Transport.ListDatasets(ctx)
}

// ListSnapshots returns a dataset's snapshots newest-first, reusing a
// listing younger than the cache TTL.
func (s *Service) ListSnapshots(ctx context.Context, dataset string) ([]backend.Snapshot, error) {
	if s.opts.SnapshotCacheTTL > 0 {
		s.cacheMu.Lock()
		entry, ok := s.cache[dataset]
		s.cacheMu.Unlock()
		if ok && s.now().Sub(entry.at) < s.opts.SnapshotCacheTTL {
			return entry.snaps, nil
		}
	}
	snaps, err := s.sel.Transport.ListSnapshots(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if s.opts.SnapshotCacheTTL > 0 {
		s.cacheMu.Lock()
		s.cache[dataset] = snapshotCacheEntry{at: s.now(), snaps: snaps}
		s.cacheMu.Unlock()
	}
	return snaps, nil
}

func (s *Service) invalidateSnapshots(datasets ...string) {
	s.cacheMu.Lock()
	for _, ds := range datasets {
		delete(s.cache, ds)
	}
	delete(s.cache, "")
	s.cacheMu.Unlock()
}

func (s *Service) findDataset(ctx context.Context, name string) (backend.Dataset, error) {
	datasets, err := s.sel.Transport.ListDatasets(ctx)
	if err != nil {
		return backend.Dataset{}, err
	}
	for _, ds := range datasets {
		if ds.Name == name {
			return ds, nil
		}
	}
	return backend.Dataset{}, backend.ValidationError("unknown dataset %q", name)
}

// ListDirectory lists one directory of a snapshot. The requested path is
// validated against the dataset's mount root before the transport is
// involved.
func (s *Service) ListDirectory(ctx context.Context, dataset, snapshot, dirPath string) ([]backend.SnapshotEntry, error) {
	ds, err := s.findDataset(ctx, dataset)
	if err != nil {
		return nil, err
	}
	rel, err := s.validateBrowsePath(ds, dirPath)
	if err != nil {
		return nil, err
	}
	return s.sel.Transport.ListEntries(ctx, ds, snapshot, rel)
}

func (s *Service) validateBrowsePath(ds backend.Dataset, dirPath string) (string, error) {
	if ds.MountPoint == "" {
		return "", backend.ValidationError("dataset %s is not mounted", ds.Name)
	}
	resolved, err := pathcheck.Resolve(ds.MountPoint, dirPath)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(strings.TrimPrefix(resolved, ds.MountPoint), "/"), nil
}

// Diff lists the same directory in two snapshots and classifies every path
// present in either listing.
func (s *Service) Diff(ctx context.Context, dataset, snapshotA, snapshotB, dirPath string) (diff.Result, error) {
	if err := s.require(backend.CapDiff); err != nil {
		return nil, err
	}
	ds, err := s.findDataset(ctx, dataset)
	if err != nil {
		return nil, err
	}
	rel, err := s.validateBrowsePath(ds, dirPath)
	if err != nil {
		return nil, err
	}
	entriesA, err := s.sel.Transport.ListEntries(ctx, ds, snapshotA, rel)
	if err != nil {
		return nil, err
	}
	entriesB, err := s.sel.Transport.ListEntries(ctx, ds, snapshotB, rel)
	if err != nil {
		return nil, err
	}
	return diff.Compute(entriesA, entriesB), nil
}

// Restore validates the destination, fails fast without touching the
// backend when it is invalid, and otherwise submits the copy and returns
// the tracked job.
func (s *Service) Restore(ctx context.Context, dataset, snapshot, sourcePath, destPath string, overwrite bool) (jobs.Job, error) {
	if err := s.require(backend.CapRestore); err != nil {
		return jobs.Job{}, err
	}
	ds, err := s.findDataset(ctx, dataset)
	if err != nil {
		return jobs.Job{}, err
	}
	if ds.MountPoint == "" {
		return jobs.Job{}, backend.ValidationError("dataset %s is not mounted", ds.Name)
	}
	src, err := pathcheck.Relative(sourcePath)
	if err != nil {
		return jobs.Job{}, err
	}
	dest, err := pathcheck.ResolveDestination(ds.MountPoint, destPath)
	if err != nil {
		return jobs.Job{}, err
	}

	jobID, err := s.sel.Transport.SubmitRestore(ctx, backend.RestoreRequest{
		Dataset:     ds,
		Snapshot:    snapshot,
		SourcePath:  src,
		Destination: dest,
		Overwrite:   overwrite,
	})
	if err != nil {
		if jobID == "" {
			return jobs.Job{}, err
		}
		// Submission reached the backend; hand the job back with the error.
		if job, gerr := s.tracker.Get(jobID); gerr == nil {
			return job, err
		}
		return jobs.Job{}, err
	}
	return s.tracker.Get(jobID)
}

// Rollback reverts a dataset to a snapshot.
func (s *Service) Rollback(ctx context.Context, dataset, snapshot string) error {
	if err := s.require(backend.CapRollback); err != nil {
		return err
	}
	ds, err := s.findDataset(ctx, dataset)
	if err != nil {
		return err
	}
	if err := s.sel.Transport.RollbackSnapshot(ctx, ds, snapshot); err != nil {
		return err
	}
	s.invalidateSnapshots(dataset)
	return nil
}

// Clone creates a new dataset from a snapshot.
func (s *Service) Clone(ctx context.Context, dataset, snapshot, target string) error {
	if err := s.require(backend.CapClone); err != nil {
		return err
	}
	ds, err := s.findDataset(ctx, dataset)
	if err != nil {
		return err
	}
	if err := s.sel.Transport.CloneSnapshot(ctx, ds, snapshot, target); err != nil {
		return err
	}
	s.invalidateSnapshots(dataset, target)
	return nil
}

// PoolHealth reports per-pool status for the health introspection query,
// reusing a probe younger than the health-check interval.
func (s *Service) PoolHealth(ctx context.Context) ([]backend.PoolStatus, error) {
	if err := s.require(backend.CapHealth); err != nil {
		return nil, err
	}
	if s.opts.HealthCheckInterval > 0 {
		s.healthMu.Lock()
		fresh := !s.healthAt.IsZero() && s.now().Sub(s.healthAt) < s.opts.HealthCheckInterval
		pools := s.healthPools
		s.healthMu.Unlock()
		if fresh {
			return pools, nil
		}
	}
	pools, err := s.sel.Transport.PoolHealth(ctx)
	if err != nil {
		return nil, err
	}
	if s.opts.HealthCheckInterval > 0 {
		s.healthMu.Lock()
		s.healthAt = s.now()
		s.healthPools = pools
		s.healthMu.Unlock()
	}
	return pools, nil
}
