package middleware

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"snapportal/src/backend"
	"snapportal/src/jobs"
)

func newConnectedTransport(t *testing.T, d *fakeDaemon) (*Transport, *jobs.Tracker) {
	t.Helper()
	tracker := jobs.NewTracker(time.Minute, nil)
	tr := New(Config{URL: d.url(), APIKey: testAPIKey, CallTimeout: 2 * time.Second}, tracker, nil)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, tracker
}

func TestTransportListDatasets(t *testing.T) {
	d := startFakeDaemon(t, func(method string, params []json.RawMessage) (any, string) {
		if method != "zfs.dataset.query" {
			return nil, "unexpected method " + method
		}
		return []map[string]any{
			{
				"name":       "tank/data",
				"mountpoint": "/mnt/tank/data",
				"properties": map[string]any{
					"used":      map[string]any{"parsed": 1024},
					"available": map[string]any{"parsed": 4096},
				},
			},
			{
				"name":       "tank/secret",
				"mountpoint": "none",
				"properties": map[string]any{},
			},
		}, ""
	})

	tr, _ := newConnectedTransport(t, d)
	datasets, err := tr.ListDatasets(context.Background())
	if err != nil {
		t.Fatalf("ListDatasets: %v", err)
	}
	if len(datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(datasets))
	}
	want := backend.Dataset{Name: "tank/data", Pool: "tank", MountPoint: "/mnt/tank/data", Used: 1024, Available: 4096}
	if datasets[0] != want {
		t.Fatalf("unexpected dataset: %#v", datasets[0])
	}
	if datasets[1].MountPoint != "" {
		t.Fatalf("none mountpoint should map to empty, got %q", datasets[1].MountPoint)
	}
}

func TestTransportListSnapshotsFiltersAndSorts(t *testing.T) {
	var gotParams []json.RawMessage
	d := startFakeDaemon(t, func(method string, params []json.RawMessage) (any, string) {
		gotParams = params
		return []map[string]any{
			{
				"name":       "tank/data@old",
				"properties": map[string]any{"creation": map[string]any{"parsed": 1700000000}},
			},
			{
				"name":       "tank/data@new",
				"properties": map[string]any{"creation": map[string]any{"parsed": 1700100000}},
			},
		}, ""
	})

	tr, _ := newConnectedTransport(t, d)
	snaps, err := tr.ListSnapshots(context.Background(), "tank/data")
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 2 || snaps[0].Name != "new" || snaps[1].Name != "old" {
		t.Fatalf("expected newest first, got %#v", snaps)
	}
	if snaps[0].Dataset != "tank/data" {
		t.Fatalf("unexpected dataset %q", snaps[0].Dataset)
	}

	if len(gotParams) != 1 {
		t.Fatalf("expected one filter param, got %d", len(gotParams))
	}
	var filters [][]any
	if err := json.Unmarshal(gotParams[0], &filters); err != nil {
		t.Fatalf("unmarshal filter: %v", err)
	}
	if len(filters) != 1 || filters[0][0] != "dataset" || filters[0][1] != "=" || filters[0][2] != "tank/data" {
		t.Fatalf("unexpected filter: %#v", filters)
	}
}

func TestTransportListSnapshotsAllDatasets(t *testing.T) {
	var gotParams []json.RawMessage
	d := startFakeDaemon(t, func(method string, params []json.RawMessage) (any, string) {
		gotParams = params
		return []map[string]any{}, ""
	})

	tr, _ := newConnectedTransport(t, d)
	if _, err := tr.ListSnapshots(context.Background(), ""); err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(gotParams) != 0 {
		t.Fatalf("empty dataset should query unfiltered, got %v", gotParams)
	}
}

func TestTransportListEntries(t *testing.T) {
	var gotDir string
	d := startFakeDaemon(t, func(method string, params []json.RawMessage) (any, string) {
		if method != "filesystem.listdir" {
			return nil, "unexpected method " + method
		}
		_ = json.Unmarshal(params[0], &gotDir)
		return []map[string]any{
			{"name": "docs", "type": "DIRECTORY", "size": 4096, "mtime": 1700000001.0},
			{"name": "a.txt", "type": "FILE", "size": 42, "mtime": 1700000000.5},
			{"name": "link", "type": "SYMLINK", "size": 9, "mtime": 1700000002.0},
		}, ""
	})

	tr, _ := newConnectedTransport(t, d)
	ds := backend.Dataset{Name: "tank/data", MountPoint: "/mnt/tank/data"}
	entries, err := tr.ListEntries(context.Background(), ds, "daily", "sub")
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if gotDir != "/mnt/tank/data/.zfs/snapshot/daily/sub" {
		t.Fatalf("unexpected listdir path %q", gotDir)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Path != "a.txt" || entries[0].Kind != backend.EntryFile || entries[0].Size != 42 {
		t.Fatalf("unexpected entry: %#v", entries[0])
	}
	if entries[1].Kind != backend.EntryDir || entries[1].Size != 0 {
		t.Fatalf("directory size should be suppressed: %#v", entries[1])
	}
	if entries[2].Kind != backend.EntrySymlink {
		t.Fatalf("unexpected entry: %#v", entries[2])
	}
}

func TestTransportListEntriesUnmounted(t *testing.T) {
	d := startFakeDaemon(t, nil)
	tr, _ := newConnectedTransport(t, d)
	_, err := tr.ListEntries(context.Background(), backend.Dataset{Name: "tank/raw"}, "daily", "")
	if !backend.IsKind(err, backend.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransportSubmitRestore(t *testing.T) {
	var copySrc, copyDst string
	var copyOpts map[string]any
	d := startFakeDaemon(t, func(method string, params []json.RawMessage) (any, string) {
		switch method {
		case "filesystem.copy":
			_ = json.Unmarshal(params[0], &copySrc)
			_ = json.Unmarshal(params[1], &copyDst)
			_ = json.Unmarshal(params[2], &copyOpts)
			return 42, ""
		case "core.get_jobs":
			return []map[string]any{
				{"id": 42, "state": "RUNNING", "progress": map[string]any{"percent": 30.0, "description": "copying"}},
			}, ""
		}
		return nil, "unexpected method " + method
	})

	tr, tracker := newConnectedTransport(t, d)
	jobID, err := tr.SubmitRestore(context.Background(), backend.RestoreRequest{
		Dataset:     backend.Dataset{Name: "tank/data", MountPoint: "/mnt/tank/data"},
		Snapshot:    "daily",
		SourcePath:  "docs/a.txt",
		Destination: "/mnt/tank/data/restored/a.txt",
		Overwrite:   true,
	})
	if err != nil {
		t.Fatalf("SubmitRestore: %v", err)
	}
	if jobID != "42" {
		t.Fatalf("unexpected job id %q", jobID)
	}
	if copySrc != "/mnt/tank/data/.zfs/snapshot/daily/docs/a.txt" || copyDst != "/mnt/tank/data/restored/a.txt" {
		t.Fatalf("unexpected copy args %q -> %q", copySrc, copyDst)
	}
	if copyOpts["overwrite"] != true || copyOpts["recursive"] != true {
		t.Fatalf("unexpected copy options: %#v", copyOpts)
	}

	// The post-submit seed query already moved the job to RUNNING.
	job, err := tracker.Get(jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.State != jobs.StateRunning || job.Progress != 30 {
		t.Fatalf("seed query not applied: %#v", job)
	}
}

func TestTransportPushedEventCompletesJob(t *testing.T) {
	d := startFakeDaemon(t, func(method string, params []json.RawMessage) (any, string) {
		switch method {
		case "filesystem.copy":
			return map[string]any{"id": 7}, ""
		case "core.get_jobs":
			return []map[string]any{}, ""
		}
		return nil, "unexpected method " + method
	})

	tr, tracker := newConnectedTransport(t, d)
	jobID, err := tr.SubmitRestore(context.Background(), backend.RestoreRequest{
		Dataset:     backend.Dataset{Name: "tank/data", MountPoint: "/mnt/tank/data"},
		Snapshot:    "daily",
		SourcePath:  "a.txt",
		Destination: "/mnt/tank/data/a.txt",
	})
	if err != nil {
		t.Fatalf("SubmitRestore: %v", err)
	}

	d.push(jobsCollection, map[string]any{"id": 7, "state": "SUCCESS", "progress": map[string]any{"percent": 100.0}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		job, err := tracker.Get(jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.State == jobs.StateSucceeded {
			if job.Result == nil || !job.Result.Success {
				t.Fatalf("unexpected result: %#v", job.Result)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("pushed terminal event never applied, state %s", job.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTransportLookupJobRegistersDaemonJob(t *testing.T) {
	d := startFakeDaemon(t, func(method string, params []json.RawMessage) (any, string) {
		if method != "core.get_jobs" {
			return nil, "unexpected method " + method
		}
		var filters [][]any
		_ = json.Unmarshal(params[0], &filters)
		if len(filters) != 1 || filters[0][0] != "id" || filters[0][2] != float64(99) {
			return nil, "unexpected filter"
		}
		return []map[string]any{
			{"id": 99, "state": "RUNNING", "progress": map[string]any{"percent": 55.0, "description": "copying"}},
		}, ""
	})

	// The tracker starts empty, as in a fresh process inspecting a job
	// submitted by an earlier one.
	tr, tracker := newConnectedTransport(t, d)
	if _, err := tracker.Get("99"); !backend.IsKind(err, backend.KindJobNotFound) {
		t.Fatalf("job unexpectedly tracked before lookup: %v", err)
	}

	if err := tr.LookupJob(context.Background(), "99"); err != nil {
		t.Fatalf("LookupJob: %v", err)
	}
	job, err := tracker.Get("99")
	if err != nil {
		t.Fatalf("Get after lookup: %v", err)
	}
	if job.State != jobs.StateRunning || job.Progress != 55 {
		t.Fatalf("daemon state not applied: %#v", job)
	}
}

func TestTransportLookupJobUnknown(t *testing.T) {
	d := startFakeDaemon(t, func(method string, params []json.RawMessage) (any, string) {
		return []map[string]any{}, ""
	})

	tr, tracker := newConnectedTransport(t, d)
	if err := tr.LookupJob(context.Background(), "5"); !backend.IsKind(err, backend.KindJobNotFound) {
		t.Fatalf("expected job-not-found, got %v", err)
	}
	if err := tr.LookupJob(context.Background(), "not-a-number"); !backend.IsKind(err, backend.KindJobNotFound) {
		t.Fatalf("expected job-not-found for malformed id, got %v", err)
	}
	if _, err := tracker.Get("5"); !backend.IsKind(err, backend.KindJobNotFound) {
		t.Fatalf("unknown job must not be registered: %v", err)
	}
}

func TestTransportRollbackAndClone(t *testing.T) {
	var calls []string
	var args [][]json.RawMessage
	d := startFakeDaemon(t, func(method string, params []json.RawMessage) (any, string) {
		calls = append(calls, method)
		args = append(args, params)
		return true, ""
	})

	tr, _ := newConnectedTransport(t, d)
	ds := backend.Dataset{Name: "tank/data", MountPoint: "/mnt/tank/data"}
	if err := tr.RollbackSnapshot(context.Background(), ds, "daily"); err != nil {
		t.Fatalf("RollbackSnapshot: %v", err)
	}
	if err := tr.CloneSnapshot(context.Background(), ds, "daily", "tank/data-clone"); err != nil {
		t.Fatalf("CloneSnapshot: %v", err)
	}

	if len(calls) != 2 || calls[0] != "zfs.snapshot.rollback" || calls[1] != "zfs.snapshot.clone" {
		t.Fatalf("unexpected calls: %v", calls)
	}
	var name string
	_ = json.Unmarshal(args[0][0], &name)
	if name != "tank/data@daily" {
		t.Fatalf("unexpected rollback target %q", name)
	}
}

func TestTransportPoolHealth(t *testing.T) {
	d := startFakeDaemon(t, func(method string, params []json.RawMessage) (any, string) {
		if method != "pool.query" {
			return nil, "unexpected method " + method
		}
		return []map[string]any{
			{"name": "tank", "status": "ONLINE"},
			{"name": "backup"},
		}, ""
	})

	tr, _ := newConnectedTransport(t, d)
	pools, err := tr.PoolHealth(context.Background())
	if err != nil {
		t.Fatalf("PoolHealth: %v", err)
	}
	if len(pools) != 2 {
		t.Fatalf("expected 2 pools, got %d", len(pools))
	}
	if pools[0].Name != "tank" || pools[0].Status != "ONLINE" {
		t.Fatalf("unexpected pool: %#v", pools[0])
	}
	if pools[1].Status != "UNKNOWN" {
		t.Fatalf("missing status should map to UNKNOWN, got %q", pools[1].Status)
	}
}

func TestTransportMethodError(t *testing.T) {
	d := startFakeDaemon(t, func(method string, params []json.RawMessage) (any, string) {
		return nil, "dataset does not exist"
	})

	tr, _ := newConnectedTransport(t, d)
	_, err := tr.ListDatasets(context.Background())
	if !backend.IsKind(err, backend.KindBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestParseJobID(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"42", "42", true},
		{`{"id": 7}`, "7", true},
		{`"weird"`, "", false},
		{`{}`, "", false},
	}
	for _, c := range cases {
		got, err := parseJobID(json.RawMessage(c.raw))
		if c.ok && (err != nil || got != c.want) {
			t.Fatalf("parseJobID(%s) = %q, %v", c.raw, got, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("parseJobID(%s): expected error", c.raw)
		}
	}
}

func TestMapJobState(t *testing.T) {
	cases := map[string]jobs.State{
		"WAITING": jobs.StateQueued,
		"RUNNING": jobs.StateRunning,
		"SUCCESS": jobs.StateSucceeded,
		"FAILED":  jobs.StateFailed,
		"ABORTED": jobs.StateCancelled,
	}
	for in, want := range cases {
		got, ok := mapJobState(in)
		if !ok || got != want {
			t.Fatalf("mapJobState(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := mapJobState("HOLD"); ok {
		t.Fatalf("unknown state accepted")
	}
}

func TestParsedPropTimestamp(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Time
	}{
		{"1700000000", time.Unix(1700000000, 0).UTC()},
		{`"2023-11-14T22:13:20Z"`, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)},
		{`"2023-11-14 22:13:20"`, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)},
		{`"bogus"`, time.Time{}},
	}
	for _, c := range cases {
		p := parsedProp{Parsed: json.RawMessage(c.raw)}
		if got := p.timestamp(); !got.Equal(c.want) {
			t.Fatalf("timestamp(%s) = %v, want %v", c.raw, got, c.want)
		}
	}
}
