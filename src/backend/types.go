package backend

import (
	"context"
	"sort"
	"time"
)

// Dataset is a named, independently-versioned storage volume. Immutable
// after discovery; discovery re-lists on every call.
type Dataset struct {
	Name       string // full name, e.g. tank/data
	Pool       string // leading path component
	MountPoint string // absolute mount root, e.g. /mnt/tank/data
	Used       int64  // bytes, 0 when the backend does not report it
	Available  int64  // bytes
}

// Snapshot is an immutable point-in-time view of a dataset.
type Snapshot struct {
	Dataset   string
	Name      string // short name, the part after '@'
	CreatedAt time.Time
}

// EntryKind classifies a snapshot directory entry.
type EntryKind string

const (
	EntryFile    EntryKind = "file"
	EntryDir     EntryKind = "directory"
	EntrySymlink EntryKind = "symlink"
)

// SnapshotEntry is one normalized listing entry. Path is always relative to
// the listed directory and never contains parent segments.
type SnapshotEntry struct {
	Path     string
	Kind     EntryKind
	Size     int64
	ModTime  time.Time
	Checksum string // optional, empty when the backend does not provide one
}

// RestoreRequest carries validated paths only; SnapshotService performs the
// validation before a transport ever sees the request.
type RestoreRequest struct {
	Dataset     Dataset
	Snapshot    string
	SourcePath  string // relative path inside the snapshot, may be empty
	Destination string // absolute path inside the dataset mount root
	Overwrite   bool
}

// PoolStatus reports one storage pool's health, e.g. ONLINE or DEGRADED.
type PoolStatus struct {
	Name   string
	Status string
}

// Capability names an operation a backend is known to support.
type Capability string

const (
	CapDiff     Capability = "diff"
	CapRestore  Capability = "restore"
	CapJobs     Capability = "jobs"
	CapHealth   Capability = "health"
	CapRollback Capability = "rollback"
	CapClone    Capability = "clone"
)

// CapabilitySet is the read-only capability snapshot taken at selection time.
type CapabilitySet map[Capability]bool

func (c CapabilitySet) Has(op Capability) bool { return c[op] }

// Names returns the supported capabilities in sorted order.
func (c CapabilitySet) Names() []string {
	out := make([]string, 0, len(c))
	for op, ok := range c {
		if ok {
			out = append(out, string(op))
		}
	}
	sort.Strings(out)
	return out
}

// Transport is the contract both execution environments implement. Methods
// that reach storage take a context so callers can bound them; transports
// map their native failures onto the *Error taxonomy.
type Transport interface {
	// Name identifies the backend ("middleware" or "zfscli").
	Name() string
	Capabilities() CapabilitySet

	ListDatasets(ctx context.Context) ([]Dataset, error)
	ListSnapshots(ctx context.Context, dataset string) ([]Snapshot, error)
	// ListEntries lists one directory inside a snapshot. relPath is relative
	// to the snapshot root and already validated.
	ListEntries(ctx context.Context, ds Dataset, snapshot, relPath string) ([]SnapshotEntry, error)

	// SubmitRestore submits a restore and returns the job id. The transport
	// registers the job with its tracker before returning.
	SubmitRestore(ctx context.Context, req RestoreRequest) (string, error)

	RollbackSnapshot(ctx context.Context, ds Dataset, snapshot string) error
	CloneSnapshot(ctx context.Context, ds Dataset, snapshot, target string) error
	PoolHealth(ctx context.Context) ([]PoolStatus, error)

	Close() error
}

// SortSnapshots orders snapshots newest-first for display.
func SortSnapshots(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
		}
		return snaps[i].Name < snaps[j].Name
	})
}

// SortEntries orders listing entries byte-wise by path, the canonical order
// the diff engine relies on.
func SortEntries(entries []SnapshotEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}
