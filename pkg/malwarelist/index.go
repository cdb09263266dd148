package malwarelist

import "github.com/AikidoSec/safechain-internals-sub000/pkg/version"

// index is the immutable snapshot swapped atomically on each refresh. It is
// never mutated after construction, which is what lets readers skip locking.
type index struct {
	byKey map[string][]Entry
}

func newIndex() *index {
	return &index{byKey: make(map[string][]Entry)}
}

func buildIndex(entries []ListDataEntry, formatter EntryFormatter) *index {
	idx := newIndex()
	for _, e := range entries {
		keys := formatter(e)
		if len(keys) == 0 {
			continue
		}
		rec := Entry{Version: e.versionOrAny(), Reason: ReasonMalware}
		for _, k := range keys {
			idx.byKey[k] = append(idx.byKey[k], rec)
		}
	}
	return idx
}

// find returns the entries registered under id, or (nil, false) if id has no
// entries.
func (idx *index) find(id string) ([]Entry, bool) {
	if idx == nil {
		return nil, false
	}
	entries, ok := idx.byKey[id]
	if !ok || len(entries) == 0 {
		return nil, false
	}
	return entries, true
}

// hasEntryWithVersion reports whether any entry under id equals v under
// PackageVersion equality semantics.
func (idx *index) hasEntryWithVersion(id string, v version.PackageVersion) bool {
	entries, ok := idx.find(id)
	if !ok {
		return false
	}
	for _, e := range entries {
		if e.Version.Equal(v) {
			return true
		}
	}
	return false
}
