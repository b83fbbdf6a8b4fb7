// Package diff classifies the entries of two snapshot listings.
package diff

import "snapportal/src/backend"

// Classification of one path across the two listings.
type Classification string

const (
	Added     Classification = "added"
	Removed   Classification = "removed"
	Modified  Classification = "modified"
	Unchanged Classification = "unchanged"
)

// Entry is one classified path in a diff result.
type Entry struct {
	Path           string
	Classification Classification
	Kind           backend.EntryKind
}

// Result is the ordered classification of every path present in either
// listing, exactly once, in merged byte-wise path order.
type Result []Entry

// Compute compares the listing of snapshot A against snapshot B. Both inputs
// are sorted here, so callers may pass backend output directly. Directories
// are compared by presence only; callers recurse by diffing a subdirectory.
func Compute(a, b []backend.SnapshotEntry) Result {
	backend.SortEntries(a)
	backend.SortEntries(b)

	out := make(Result, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Path < b[j].Path:
			out = append(out, Entry{Path: a[i].Path, Classification: Removed, Kind: a[i].Kind})
			i++
		case a[i].Path > b[j].Path:
			out = append(out, Entry{Path: b[j].Path, Classification: Added, Kind: b[j].Kind})
			j++
		default:
			out = append(out, Entry{Path: b[j].Path, Classification: classify(a[i], b[j]), Kind: b[j].Kind})
			i++
			j++
		}
	}
	for ; i < len(a); i++ {
		out = append(out, Entry{Path: a[i].Path, Classification: Removed, Kind: a[i].Kind})
	}
	for ; j < len(b); j++ {
		out = append(out, Entry{Path: b[j].Path, Classification: Added, Kind: b[j].Kind})
	}
	return out
}

// Changed returns the result without unchanged entries, preserving order.
func (r Result) Changed() Result {
	out := make(Result, 0, len(r))
	for _, e := range r {
		if e.Classification != Unchanged {
			out = append(out, e)
		}
	}
	return out
}

func classify(a, b backend.SnapshotEntry) Classification {
	// Directories carry no meaningful size or checksum across snapshots.
	if a.Kind == backend.EntryDir && b.Kind == backend.EntryDir {
		return Unchanged
	}
	if a.Kind != b.Kind {
		return Modified
	}
	if a.Size != b.Size || !a.ModTime.Equal(b.ModTime) {
		return Modified
	}
	if a.Checksum != "" && b.Checksum != "" && a.Checksum != b.Checksum {
		return Modified
	}
	return Unchanged
}
