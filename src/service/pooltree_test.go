package service

import (
	"testing"
	"time"

	"snapportal/src/backend"
)

func TestBuildPoolTree(t *testing.T) {
	datasets := []backend.Dataset{
		{Name: "tank/data", Pool: "tank", MountPoint: "/mnt/tank/data"},
		{Name: "tank/Apps", Pool: "tank"},
		{Name: "backup/archive", Pool: "backup"},
	}
	snaps := []backend.Snapshot{
		{Dataset: "tank/data", Name: "old", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Dataset: "tank/data", Name: "new", CreatedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	}

	tree := BuildPoolTree(datasets, snaps)
	if len(tree) != 2 {
		t.Fatalf("expected 2 pools, got %d", len(tree))
	}
	// Pools sort lexically.
	if tree[0].Name != "backup" || tree[1].Name != "tank" {
		t.Fatalf("unexpected pool order: %s, %s", tree[0].Name, tree[1].Name)
	}

	tank := tree[1]
	if len(tank.Datasets) != 2 {
		t.Fatalf("expected 2 tank datasets, got %d", len(tank.Datasets))
	}
	// Datasets sort case-insensitively.
	if tank.Datasets[0].Name != "tank/Apps" || tank.Datasets[1].Name != "tank/data" {
		t.Fatalf("unexpected dataset order: %#v", tank.Datasets)
	}

	data := tank.Datasets[1]
	if data.SnapshotCount != 2 || data.LatestSnapshot != "new" {
		t.Fatalf("unexpected snapshot metadata: %#v", data)
	}
	if tank.Datasets[0].SnapshotCount != 0 || tank.Datasets[0].LatestSnapshot != "" {
		t.Fatalf("dataset without snapshots should carry zero metadata: %#v", tank.Datasets[0])
	}
}

func TestBuildPoolTreeEmpty(t *testing.T) {
	if tree := BuildPoolTree(nil, nil); len(tree) != 0 {
		t.Fatalf("expected empty tree, got %#v", tree)
	}
}
