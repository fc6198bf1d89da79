// Package archive parses archive files into immutable indexes and holds the
// current index of each archive kind behind a lock.
package archive

import (
	"strings"
	"time"

	repoarchive "github.com/wolfeidau/repo-archive"
)

// Kind names an archive kind.
type Kind string

const (
	// KindGit is an archive of version-control remote URLs with mirror metadata.
	KindGit Kind = "git"

	// KindHuggingface is an archive of model-repository identifiers.
	KindHuggingface Kind = "huggingface"
)

// RepoRecord is one line of a git archive.
type RepoRecord struct {
	RawURL         string
	LocalPath      string
	LastCommitHash string
	LastCommitDate string
	LastFetchTime  string
}

// Key returns the canonical lookup key: the raw URL lowercased verbatim.
func (r RepoRecord) Key() string {
	return strings.ToLower(r.RawURL)
}

// GitIndex maps canonical keys to records. It is never mutated after parsing.
type GitIndex struct {
	records map[string]RepoRecord
}

// NewGitIndex builds an index from records in file order; later records win
// on duplicate keys.
func NewGitIndex(records ...RepoRecord) *GitIndex {
	idx := &GitIndex{records: make(map[string]RepoRecord, len(records))}
	for _, rec := range records {
		idx.records[rec.Key()] = rec
	}
	return idx
}

// Get returns the record stored under key. The key must already be lowercase.
func (idx *GitIndex) Get(key string) (RepoRecord, bool) {
	if idx == nil {
		return RepoRecord{}, false
	}
	rec, ok := idx.records[key]
	return rec, ok
}

// Len returns the number of records.
func (idx *GitIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.records)
}

// HuggingfaceIndex is the set of model-repository identifiers, stored as given
// and compared case-insensitively.
type HuggingfaceIndex struct {
	ids     map[string]struct{}
	lowered map[string]struct{}
}

// NewHuggingfaceIndex builds an index from identifiers.
func NewHuggingfaceIndex(ids ...string) *HuggingfaceIndex {
	idx := &HuggingfaceIndex{
		ids:     make(map[string]struct{}, len(ids)),
		lowered: make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		idx.ids[id] = struct{}{}
		idx.lowered[strings.ToLower(id)] = struct{}{}
	}
	return idx
}

// Contains reports whether some stored identifier, lowercased, equals repo
// lowercased.
func (idx *HuggingfaceIndex) Contains(repo string) bool {
	if idx == nil {
		return false
	}
	_, ok := idx.lowered[strings.ToLower(repo)]
	return ok
}

// Len returns the number of distinct identifiers as stored.
func (idx *HuggingfaceIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.ids)
}

// Index is implemented by every archive index type.
type Index interface {
	*GitIndex | *HuggingfaceIndex
	Len() int
}

// Snapshot is the value held by a Store: an index plus facts about the load
// that produced it.
type Snapshot[T Index] struct {
	Index    T
	Digest   repoarchive.Digest
	LoadedAt time.Time
}

// Entries returns the number of entries in the snapshot's index.
func (s Snapshot[T]) Entries() int {
	return s.Index.Len()
}
