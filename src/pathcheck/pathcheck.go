// Package pathcheck validates browse and restore paths against a dataset's
// mount root. It is pure string work: no filesystem access, so it behaves
// identically for both backends and can run before any I/O.
package pathcheck

import (
	"path"
	"strings"

	"snapportal/src/backend"
)

// SnapshotControlDir is the ZFS control namespace under every dataset root.
// Listing may read beneath it; restore destinations must never resolve into it.
const SnapshotControlDir = ".zfs"

// Relative normalizes a requested path relative to a snapshot or dataset
// root. The result is "" for the root itself, otherwise a clean relative
// path with forward slashes and no parent segments.
func Relative(requested string) (string, error) {
	p := strings.TrimSpace(requested)
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", backend.ValidationError("path %q contains a parent-directory segment", requested)
		}
	}
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", nil
	}
	clean := path.Clean(p)
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// Resolve validates requested against root and returns the canonical
// absolute path. The result is always root itself or a strict descendant.
func Resolve(root, requested string) (string, error) {
	if root == "" || !path.IsAbs(root) {
		return "", backend.ValidationError("dataset mount root %q is not absolute", root)
	}
	rootClean := path.Clean(root)
	// An absolute request naming a path under the mount root is accepted
	// as-is; any other leading slash is treated as root-relative.
	if path.IsAbs(requested) {
		clean := path.Clean(requested)
		if clean == rootClean || strings.HasPrefix(clean, rootClean+"/") {
			requested = strings.TrimPrefix(clean, rootClean)
		}
	}
	rel, err := Relative(requested)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return rootClean, nil
	}
	resolved := path.Join(rootClean, rel)
	if resolved != rootClean && !strings.HasPrefix(resolved, rootClean+"/") {
		return "", backend.ValidationError("path %q resolves outside %s", requested, root)
	}
	return resolved, nil
}

// ResolveDestination validates a restore destination. On top of the Resolve
// containment rules, the destination must be a strict descendant of the
// mount root, and any path that enters the snapshot control namespace is
// rejected: a restore must only ever write into the live dataset.
func ResolveDestination(root, requested string) (string, error) {
	resolved, err := Resolve(root, requested)
	if err != nil {
		return "", err
	}
	rootClean := path.Clean(root)
	if resolved == rootClean {
		return "", backend.ValidationError("destination must be inside the dataset, not the mount root itself")
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(resolved, rootClean), "/")
	for _, seg := range strings.Split(rel, "/") {
		if seg == SnapshotControlDir {
			return "", backend.ValidationError("destination %q is inside the snapshot control namespace", requested)
		}
	}
	return resolved, nil
}
