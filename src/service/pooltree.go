package service

import (
	"context"
	"sort"
	"strings"

	"snapportal/src/backend"
)

// DatasetNode is a dataset annotated with snapshot metadata for display.
type DatasetNode struct {
	backend.Dataset
	SnapshotCount  int
	LatestSnapshot string
}

// PoolNode groups a pool's datasets.
type PoolNode struct {
	Name     string
	Datasets []DatasetNode
}

// PoolTree builds the pool -> dataset tree with per-dataset snapshot counts.
// Snapshots are fetched once for all datasets rather than per node.
func (s *Service) PoolTree(ctx context.Context) ([]PoolNode, error) {
	datasets, err := s.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := s.ListSnapshots(ctx, "")
	if err != nil {
		return nil, err
	}
	return BuildPoolTree(datasets, snaps), nil
}

// BuildPoolTree groups datasets by pool and annotates each with its snapshot
// count and latest snapshot name. Pools sort lexically, datasets
// case-insensitively.
func BuildPoolTree(datasets []backend.Dataset, snaps []backend.Snapshot) []PoolNode {
	type meta struct {
		count  int
		latest backend.Snapshot
	}
	byDataset := make(map[string]*meta)
	for _, snap := range snaps {
		m := byDataset[snap.Dataset]
		if m == nil {
			m = &meta{}
			byDataset[snap.Dataset] = m
		}
		m.count++
		if snap.CreatedAt.After(m.latest.CreatedAt) {
			m.latest = snap
		}
	}

	pools := make(map[string][]DatasetNode)
	for _, ds := range datasets {
		if ds.Name == "" {
			continue
		}
		node := DatasetNode{Dataset: ds}
		if m := byDataset[ds.Name]; m != nil {
			node.SnapshotCount = m.count
			node.LatestSnapshot = m.latest.Name
		}
		pools[ds.Pool] = append(pools[ds.Pool], node)
	}

	names := make([]string, 0, len(pools))
	for name := range pools {
		names = append(names, name)
	}
	sort.Strings(names)

	tree := make([]PoolNode, 0, len(names))
	for _, name := range names {
		nodes := pools[name]
		sort.Slice(nodes, func(i, j int) bool {
			return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
		})
		tree = append(tree, PoolNode{Name: name, Datasets: nodes})
	}
	return tree
}
