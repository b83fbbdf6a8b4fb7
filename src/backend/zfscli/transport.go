// Package zfscli implements the local backend: it drives the zfs and zpool
// binaries plus the .zfs/snapshot control directory through subprocesses.
package zfscli

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"snapportal/src/backend"
	"snapportal/src/jobs"
)

// Options configures the local transport.
type Options struct {
	ZFSPath string // resolved zfs binary path
	Workers int    // subprocess pool size
}

// Transport is the local-tool implementation of backend.Transport.
type Transport struct {
	zfs     string
	pool    *workerPool
	tracker *jobs.Tracker
	log     logrus.FieldLogger
}

// New creates the local transport. The tracker receives every restore job
// this transport submits.
func New(opts Options, tracker *jobs.Tracker, log logrus.FieldLogger) *Transport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	zfs := opts.ZFSPath
	if zfs == "" {
		zfs = "zfs"
	}
	return &Transport{
		zfs:     zfs,
		pool:    newWorkerPool(opts.Workers),
		tracker: tracker,
		log:     log.WithField("backend", "zfscli"),
	}
}

func (t *Transport) Name() string { return "zfscli" }

// Capabilities: everything except middleware-style asynchronous jobs. The
// local copy is synchronous, so jobs reach a terminal state at submission.
func (t *Transport) Capabilities() backend.CapabilitySet {
	return backend.CapabilitySet{
		backend.CapDiff:     true,
		backend.CapRestore:  true,
		backend.CapJobs:     false,
		backend.CapHealth:   true,
		backend.CapRollback: true,
		backend.CapClone:    true,
	}
}

func (t *Transport) ListDatasets(ctx context.Context) ([]backend.Dataset, error) {
	var out string
	err := t.pool.do(ctx, func() error {
		var err error
		out, err = run(ctx, t.zfs, "list", "-H", "-p", "-o", "name,mountpoint,used,avail")
		return err
	})
	if err != nil {
		return nil, err
	}
	return parseDatasets(out)
}

func parseDatasets(out string) ([]backend.Dataset, error) {
	var datasets []backend.Dataset
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			return nil, backend.BackendError(fmt.Sprintf("unparseable zfs list line: %q", line), nil)
		}
		ds := backend.Dataset{
			Name: fields[0],
			Pool: strings.SplitN(fields[0], "/", 2)[0],
		}
		if mp := fields[1]; mp != "none" && mp != "legacy" && mp != "-" {
			ds.MountPoint = mp
		}
		ds.Used, _ = strconv.ParseInt(fields[2], 10, 64)
		ds.Available, _ = strconv.ParseInt(fields[3], 10, 64)
		datasets = append(datasets, ds)
	}
	return datasets, nil
}

func (t *Transport) ListSnapshots(ctx context.Context, dataset string) ([]backend.Snapshot, error) {
	var out string
	err := t.pool.do(ctx, func() error {
		var err error
		out, err = run(ctx, t.zfs, "list", "-H", "-p", "-t", "snapshot",
			"-o", "name,creation", "-s", "creation", "-d", "1", dataset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return parseSnapshots(out)
}

func parseSnapshots(out string) ([]backend.Snapshot, error) {
	var snaps []backend.Snapshot
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, backend.BackendError(fmt.Sprintf("unparseable snapshot line: %q", line), nil)
		}
		name := fields[0]
		at := strings.LastIndex(name, "@")
		if at < 0 {
			continue
		}
		created, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, backend.BackendError(fmt.Sprintf("unparseable snapshot creation time: %q", fields[1]), err)
		}
		snaps = append(snaps, backend.Snapshot{
			Dataset:   name[:at],
			Name:      name[at+1:],
			CreatedAt: time.Unix(created, 0).UTC(),
		})
	}
	backend.SortSnapshots(snaps)
	return snaps, nil
}

// snapshotRoot is where ZFS exposes a snapshot's files under the live mount.
func snapshotRoot(ds backend.Dataset, snapshot string) string {
	return path.Join(ds.MountPoint, ".zfs", "snapshot", snapshot)
}

func (t *Transport) ListEntries(ctx context.Context, ds backend.Dataset, snapshot, relPath string) ([]backend.SnapshotEntry, error) {
	if ds.MountPoint == "" {
		return nil, backend.ValidationError("dataset %s is not mounted", ds.Name)
	}
	dir := path.Join(snapshotRoot(ds, snapshot), relPath)
	var out string
	err := t.pool.do(ctx, func() error {
		var err error
		out, err = run(ctx, "find", dir, "-mindepth", "1", "-maxdepth", "1",
			"-printf", "%y\t%s\t%T@\t%f\n")
		return err
	})
	if err != nil {
		return nil, err
	}
	return parseEntries(out)
}

func parseEntries(out string) ([]backend.SnapshotEntry, error) {
	var entries []backend.SnapshotEntry
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 4)
		if len(fields) < 4 {
			return nil, backend.BackendError(fmt.Sprintf("unparseable find line: %q", line), nil)
		}
		entry := backend.SnapshotEntry{Path: fields[3]}
		switch fields[0] {
		case "d":
			entry.Kind = backend.EntryDir
		case "l":
			entry.Kind = backend.EntrySymlink
		default:
			entry.Kind = backend.EntryFile
		}
		if entry.Kind != backend.EntryDir {
			entry.Size, _ = strconv.ParseInt(fields[1], 10, 64)
		}
		entry.ModTime = parseFindTime(fields[2])
		entries = append(entries, entry)
	}
	backend.SortEntries(entries)
	return entries, nil
}

// parseFindTime parses find's %T@ format, seconds with fractional part.
func parseFindTime(s string) time.Time {
	sec := s
	nsec := int64(0)
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		sec = s[:dot]
		frac := s[dot+1:]
		if len(frac) > 9 {
			frac = frac[:9]
		}
		for len(frac) < 9 {
			frac += "0"
		}
		nsec, _ = strconv.ParseInt(frac, 10, 64)
	}
	secs, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, nsec).UTC()
}

// SubmitRestore copies from the snapshot view into the live dataset. The
// local tool is synchronous: the job is registered QUEUED, the copy runs on
// the pool, and a single terminal event follows. There are no intermediate
// RUNNING events on this backend.
func (t *Transport) SubmitRestore(ctx context.Context, req backend.RestoreRequest) (string, error) {
	if req.Dataset.MountPoint == "" {
		return "", backend.ValidationError("dataset %s is not mounted", req.Dataset.Name)
	}
	src := path.Join(snapshotRoot(req.Dataset, req.Snapshot), req.SourcePath)

	jobID := uuid.NewString()
	t.tracker.Register(jobs.Job{
		ID:          jobID,
		Dataset:     req.Dataset.Name,
		Snapshot:    req.Snapshot,
		SourcePath:  req.SourcePath,
		Destination: req.Destination,
		State:       jobs.StateQueued,
	})

	args := []string{"-a"}
	if !req.Overwrite {
		args = append(args, "-n")
	}
	args = append(args, "--", src, req.Destination)

	done := make(chan error, 1)
	task := func() {
		_, err := run(context.Background(), "cp", args...)
		if err != nil {
			t.tracker.Ingest(jobs.Event{JobID: jobID, State: jobs.StateFailed, Error: err.Error()})
		} else {
			t.tracker.Ingest(jobs.Event{JobID: jobID, State: jobs.StateSucceeded, Message: "copy complete"})
		}
		done <- err
	}

	select {
	case t.pool.tasks <- task:
	case <-ctx.Done():
		// Never executed; terminate the job so subscribers are not stranded.
		t.tracker.Ingest(jobs.Event{JobID: jobID, State: jobs.StateCancelled, Error: "abandoned before execution"})
		return jobID, backend.TimeoutError("restore abandoned before execution")
	}

	select {
	case err := <-done:
		if err != nil {
			t.log.WithFields(logrus.Fields{"job": jobID, "src": src}).WithError(err).Warn("restore copy failed")
			return jobID, err
		}
	case <-ctx.Done():
		// The copy keeps running; its terminal event still reaches the tracker.
		return jobID, backend.TimeoutError("restore still running, caller stopped waiting")
	}
	t.log.WithFields(logrus.Fields{"job": jobID, "src": src, "dst": req.Destination}).Info("restore copy complete")
	return jobID, nil
}

func (t *Transport) RollbackSnapshot(ctx context.Context, ds backend.Dataset, snapshot string) error {
	return t.pool.do(ctx, func() error {
		_, err := run(ctx, t.zfs, "rollback", ds.Name+"@"+snapshot)
		return err
	})
}

func (t *Transport) CloneSnapshot(ctx context.Context, ds backend.Dataset, snapshot, target string) error {
	return t.pool.do(ctx, func() error {
		_, err := run(ctx, t.zfs, "clone", ds.Name+"@"+snapshot, target)
		return err
	})
}

func (t *Transport) PoolHealth(ctx context.Context) ([]backend.PoolStatus, error) {
	var out string
	err := t.pool.do(ctx, func() error {
		var err error
		out, err = run(ctx, "zpool", "list", "-H", "-o", "name,health")
		return err
	})
	if err != nil {
		return nil, err
	}
	var pools []backend.PoolStatus
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		pools = append(pools, backend.PoolStatus{Name: fields[0], Status: fields[1]})
	}
	return pools, nil
}

func (t *Transport) Close() error {
	t.pool.close()
	return nil
}
