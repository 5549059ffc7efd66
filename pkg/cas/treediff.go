package cas

import (
	"path"

	"github.com/flanes-dev/flanes/pkg/types"
)

// DiffResult is the three-set tree-diff spec.md §4.3/§4.4 names:
// paths present only in the target tree, paths removed, and paths
// whose hash or mode changed. Keyed by slash-separated path relative
// to the tree root.
type DiffResult struct {
	Added    map[string]types.TreeEntry
	Removed  map[string]types.TreeEntry
	Modified map[string]types.TreeEntry
}

// Flatten walks a tree (given by hash) depth-first, returning every
// blob entry keyed by its full slash-separated path. An empty hash
// flattens to an empty map (the ∅ tree).
func (s *Store) Flatten(hash types.Hash) (map[string]types.TreeEntry, error) {
	out := make(map[string]types.TreeEntry)
	if hash == "" {
		return out, nil
	}
	if err := s.flattenInto(hash, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) flattenInto(hash types.Hash, prefix string, out map[string]types.TreeEntry) error {
	tree, err := s.GetTree(hash)
	if err != nil {
		return err
	}
	for _, e := range tree.Entries {
		p := e.Name
		if prefix != "" {
			p = path.Join(prefix, e.Name)
		}
		switch e.Kind {
		case types.EntryTree:
			if err := s.flattenInto(e.Hash, p, out); err != nil {
				return err
			}
		default:
			out[p] = types.TreeEntry{Name: p, Kind: e.Kind, Hash: e.Hash, Mode: e.Mode}
		}
	}
	return nil
}

// Diff computes the three-set tree-diff between two trees (given by
// hash; empty hash means the ∅ tree).
func (s *Store) Diff(from, to types.Hash) (DiffResult, error) {
	fromFlat, err := s.Flatten(from)
	if err != nil {
		return DiffResult{}, err
	}
	toFlat, err := s.Flatten(to)
	if err != nil {
		return DiffResult{}, err
	}

	result := DiffResult{
		Added:    map[string]types.TreeEntry{},
		Removed:  map[string]types.TreeEntry{},
		Modified: map[string]types.TreeEntry{},
	}
	for p, toEntry := range toFlat {
		fromEntry, ok := fromFlat[p]
		if !ok {
			result.Added[p] = toEntry
			continue
		}
		if fromEntry.Hash != toEntry.Hash || fromEntry.Mode != toEntry.Mode {
			result.Modified[p] = toEntry
		}
	}
	for p, fromEntry := range fromFlat {
		if _, ok := toFlat[p]; !ok {
			result.Removed[p] = fromEntry
		}
	}
	return result, nil
}
