package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"snapportal/src/backend"
	"snapportal/src/jobs"
)

// Transport is the remote implementation of backend.Transport, speaking the
// daemon's method surface: zfs.dataset.query, zfs.snapshot.query,
// filesystem.listdir, filesystem.copy, zfs.snapshot.rollback/clone,
// pool.query, core.get_jobs.
type Transport struct {
	client  *Client
	tracker *jobs.Tracker
	log     logrus.FieldLogger
}

// New wires a transport over cfg. Pushed job events flow into tracker.
func New(cfg Config, tracker *jobs.Tracker, log logrus.FieldLogger) *Transport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &Transport{tracker: tracker, log: log.WithField("backend", "middleware")}
	t.client = NewClient(cfg, t.ingestJobFields, log)
	return t
}

// Connect establishes the authenticated session.
func (t *Transport) Connect(ctx context.Context) error { return t.client.Connect(ctx) }

// Healthy reports the session state, surfaced via backend-health.
func (t *Transport) Healthy() bool { return t.client.Healthy() }

func (t *Transport) Name() string { return "middleware" }

func (t *Transport) Capabilities() backend.CapabilitySet {
	return backend.CapabilitySet{
		backend.CapDiff:     true,
		backend.CapRestore:  true,
		backend.CapJobs:     true,
		backend.CapHealth:   true,
		backend.CapRollback: true,
		backend.CapClone:    true,
	}
}

// parsedProp is the daemon's {rawvalue, value, parsed} property wrapper.
type parsedProp struct {
	Parsed json.RawMessage `json:"parsed"`
}

func (p parsedProp) int64() int64 {
	var n int64
	if err := json.Unmarshal(p.Parsed, &n); err == nil {
		return n
	}
	var f float64
	if err := json.Unmarshal(p.Parsed, &f); err == nil {
		return int64(f)
	}
	return 0
}

func (p parsedProp) timestamp() time.Time {
	var f float64
	if err := json.Unmarshal(p.Parsed, &f); err == nil {
		return time.Unix(int64(f), 0).UTC()
	}
	var s string
	if err := json.Unmarshal(p.Parsed, &s); err == nil {
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC()
			}
		}
	}
	return time.Time{}
}

type datasetObject struct {
	Name       string `json:"name"`
	Mountpoint string `json:"mountpoint"`
	Properties struct {
		Used      parsedProp `json:"used"`
		Available parsedProp `json:"available"`
	} `json:"properties"`
}

func (t *Transport) ListDatasets(ctx context.Context) ([]backend.Dataset, error) {
	raw, err := t.client.Call(ctx, "zfs.dataset.query")
	if err != nil {
		return nil, err
	}
	var objects []datasetObject
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, backend.BackendError("unparseable zfs.dataset.query result", err)
	}
	datasets := make([]backend.Dataset, 0, len(objects))
	for _, o := range objects {
		if o.Name == "" {
			continue
		}
		mp := o.Mountpoint
		if mp == "none" || mp == "legacy" || mp == "-" {
			mp = ""
		}
		datasets = append(datasets, backend.Dataset{
			Name:       o.Name,
			Pool:       strings.SplitN(o.Name, "/", 2)[0],
			MountPoint: mp,
			Used:       o.Properties.Used.int64(),
			Available:  o.Properties.Available.int64(),
		})
	}
	return datasets, nil
}

type snapshotObject struct {
	Name       string `json:"name"` // dataset@snapshot
	Dataset    string `json:"dataset"`
	Properties struct {
		Creation parsedProp `json:"creation"`
	} `json:"properties"`
}

func (t *Transport) ListSnapshots(ctx context.Context, dataset string) ([]backend.Snapshot, error) {
	params := []any{}
	if dataset != "" {
		params = append(params, [][]any{{"dataset", "=", dataset}})
	}
	raw, err := t.client.Call(ctx, "zfs.snapshot.query", params...)
	if err != nil {
		return nil, err
	}
	var objects []snapshotObject
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, backend.BackendError("unparseable zfs.snapshot.query result", err)
	}
	snaps := make([]backend.Snapshot, 0, len(objects))
	for _, o := range objects {
		at := strings.LastIndex(o.Name, "@")
		if at < 0 {
			continue
		}
		ds := o.Dataset
		if ds == "" {
			ds = o.Name[:at]
		}
		snaps = append(snaps, backend.Snapshot{
			Dataset:   ds,
			Name:      o.Name[at+1:],
			CreatedAt: o.Properties.Creation.timestamp(),
		})
	}
	backend.SortSnapshots(snaps)
	return snaps, nil
}

type listdirEntry struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"` // FILE | DIRECTORY | SYMLINK
	Size  int64    `json:"size"`
	Mtime *float64 `json:"mtime"`
}

func snapshotRoot(ds backend.Dataset, snapshot string) string {
	return path.Join(ds.MountPoint, ".zfs", "snapshot", snapshot)
}

func (t *Transport) ListEntries(ctx context.Context, ds backend.Dataset, snapshot, relPath string) ([]backend.SnapshotEntry, error) {
	if ds.MountPoint == "" {
		return nil, backend.ValidationError("dataset %s is not mounted", ds.Name)
	}
	dir := path.Join(snapshotRoot(ds, snapshot), relPath)
	raw, err := t.client.Call(ctx, "filesystem.listdir", dir)
	if err != nil {
		return nil, err
	}
	var listed []listdirEntry
	if err := json.Unmarshal(raw, &listed); err != nil {
		return nil, backend.BackendError("unparseable filesystem.listdir result", err)
	}
	entries := make([]backend.SnapshotEntry, 0, len(listed))
	for _, e := range listed {
		entry := backend.SnapshotEntry{Path: e.Name}
		switch strings.ToUpper(e.Type) {
		case "DIRECTORY":
			entry.Kind = backend.EntryDir
		case "SYMLINK":
			entry.Kind = backend.EntrySymlink
		default:
			entry.Kind = backend.EntryFile
			entry.Size = e.Size
		}
		if e.Mtime != nil {
			sec, frac := int64(*e.Mtime), *e.Mtime-float64(int64(*e.Mtime))
			entry.ModTime = time.Unix(sec, int64(frac*1e9)).UTC()
		}
		entries = append(entries, entry)
	}
	backend.SortEntries(entries)
	return entries, nil
}

// SubmitRestore schedules a daemon-side copy job. The daemon assigns the job
// id; after registering it the transport queries the job once so a pushed
// event raced past registration cannot strand the job in QUEUED.
func (t *Transport) SubmitRestore(ctx context.Context, req backend.RestoreRequest) (string, error) {
	if req.Dataset.MountPoint == "" {
		return "", backend.ValidationError("dataset %s is not mounted", req.Dataset.Name)
	}
	src := path.Join(snapshotRoot(req.Dataset, req.Snapshot), req.SourcePath)
	raw, err := t.client.Call(ctx, "filesystem.copy", src, req.Destination,
		map[string]any{"recursive": true, "preserve": true, "overwrite": req.Overwrite})
	if err != nil {
		return "", err
	}
	jobID, err := parseJobID(raw)
	if err != nil {
		return "", err
	}

	t.tracker.Register(jobs.Job{
		ID:          jobID,
		Dataset:     req.Dataset.Name,
		Snapshot:    req.Snapshot,
		SourcePath:  req.SourcePath,
		Destination: req.Destination,
		State:       jobs.StateQueued,
	})
	t.log.WithFields(logrus.Fields{"job": jobID, "src": src, "dst": req.Destination}).Info("restore job submitted")

	t.seedJobState(ctx, jobID)
	return jobID, nil
}

// parseJobID accepts the two shapes the daemon returns: a bare integer or an
// object carrying an id field.
func parseJobID(raw json.RawMessage) (string, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	var obj struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.ID != nil {
		return strconv.FormatInt(*obj.ID, 10), nil
	}
	return "", backend.BackendError(fmt.Sprintf("unexpected filesystem.copy result: %s", string(raw)), nil)
}

func (t *Transport) seedJobState(ctx context.Context, jobID string) {
	fields, err := t.queryJob(ctx, jobID)
	if err != nil {
		t.log.WithField("job", jobID).WithError(err).Debug("job state seed failed")
		return
	}
	for _, f := range fields {
		t.ingestJobFields(f)
	}
}

// LookupJob fetches a daemon job this process has not seen, typically one
// submitted by an earlier invocation, and registers it with the tracker so
// it can be shown and watched.
func (t *Transport) LookupJob(ctx context.Context, jobID string) error {
	fields, err := t.queryJob(ctx, jobID)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return backend.JobNotFoundError(jobID)
	}
	t.tracker.Register(jobs.Job{ID: jobID, State: jobs.StateQueued})
	for _, f := range fields {
		t.ingestJobFields(f)
	}
	return nil
}

func (t *Transport) queryJob(ctx context.Context, jobID string) ([]json.RawMessage, error) {
	id, err := strconv.ParseInt(jobID, 10, 64)
	if err != nil {
		return nil, backend.JobNotFoundError(jobID)
	}
	raw, err := t.client.Call(ctx, "core.get_jobs", [][]any{{"id", "=", id}})
	if err != nil {
		return nil, err
	}
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, backend.BackendError("unparseable core.get_jobs result", err)
	}
	return fields, nil
}

// jobFields is the daemon's job representation, both in core.get_jobs
// results and in pushed collection events.
type jobFields struct {
	ID       int64  `json:"id"`
	State    string `json:"state"` // WAITING RUNNING SUCCESS FAILED ABORTED
	Error    string `json:"error"`
	Progress struct {
		Percent     float64 `json:"percent"`
		Description string  `json:"description"`
	} `json:"progress"`
}

func mapJobState(state string) (jobs.State, bool) {
	switch state {
	case "WAITING":
		return jobs.StateQueued, true
	case "RUNNING":
		return jobs.StateRunning, true
	case "SUCCESS":
		return jobs.StateSucceeded, true
	case "FAILED":
		return jobs.StateFailed, true
	case "ABORTED":
		return jobs.StateCancelled, true
	}
	return "", false
}

// ingestJobFields translates one daemon job payload into a tracker event.
// Malformed payloads are dropped; ingestion never raises.
func (t *Transport) ingestJobFields(raw json.RawMessage) {
	var f jobFields
	if err := json.Unmarshal(raw, &f); err != nil || f.ID == 0 {
		t.log.Debug("dropping malformed job event")
		return
	}
	state, ok := mapJobState(f.State)
	if !ok {
		t.log.WithField("state", f.State).Debug("dropping job event with unknown state")
		return
	}
	t.tracker.Ingest(jobs.Event{
		JobID:    strconv.FormatInt(f.ID, 10),
		State:    state,
		Progress: f.Progress.Percent,
		Message:  f.Progress.Description,
		Error:    f.Error,
	})
}

func (t *Transport) RollbackSnapshot(ctx context.Context, ds backend.Dataset, snapshot string) error {
	_, err := t.client.Call(ctx, "zfs.snapshot.rollback", ds.Name+"@"+snapshot)
	return err
}

func (t *Transport) CloneSnapshot(ctx context.Context, ds backend.Dataset, snapshot, target string) error {
	_, err := t.client.Call(ctx, "zfs.snapshot.clone", ds.Name+"@"+snapshot, target)
	return err
}

type poolObject struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

func (t *Transport) PoolHealth(ctx context.Context) ([]backend.PoolStatus, error) {
	raw, err := t.client.Call(ctx, "pool.query")
	if err != nil {
		return nil, err
	}
	var objects []poolObject
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, backend.BackendError("unparseable pool.query result", err)
	}
	pools := make([]backend.PoolStatus, 0, len(objects))
	for _, o := range objects {
		status := o.Status
		if status == "" {
			status = "UNKNOWN"
		}
		pools = append(pools, backend.PoolStatus{Name: o.Name, Status: status})
	}
	return pools, nil
}

func (t *Transport) Close() error { return t.client.Close() }
