package store

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"skillatlas/internal/fsutil"
)

// State is the in-memory form of the resolution/skip document. The skip set
// only grows during a sweep; ClearSkips is the external reset.
type State struct {
	skip  map[string]struct{}
	paths map[string]string
}

type stateDoc struct {
	SkipIDs   []string          `json:"skip_ids"`
	PathCache map[string]string `json:"path_cache"`
}

func NewState() *State {
	return &State{skip: map[string]struct{}{}, paths: map[string]string{}}
}

// CacheKey is the path cache key for a skill inside a repository.
func CacheKey(repo, skillID string) string {
	return repo + "|" + skillID
}

// LoadState reads the state document at path. The returned state is always
// usable: a missing document yields empty state, and an unreadable or
// malformed one yields empty state plus a non-nil error describing why the
// previous contents were discarded.
func LoadState(path string) (*State, error) {
	st := NewState()
	var doc stateDoc
	if err := fsutil.ReadJSON(path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("DOC_STATE_PARSE: %w", err)
	}
	for _, id := range doc.SkipIDs {
		if id != "" {
			st.skip[id] = struct{}{}
		}
	}
	for k, v := range doc.PathCache {
		if k != "" && v != "" {
			st.paths[k] = v
		}
	}
	return st, nil
}

func (s *State) Save(path string) error {
	if err := fsutil.WriteJSON(path, s.doc()); err != nil {
		return fmt.Errorf("DOC_STATE_SAVE: %w", err)
	}
	return nil
}

func (s *State) doc() stateDoc {
	paths := make(map[string]string, len(s.paths))
	for k, v := range s.paths {
		paths[k] = v
	}
	return stateDoc{SkipIDs: s.SkipIDs(), PathCache: paths}
}

func (s *State) IsSkipped(skillID string) bool {
	_, ok := s.skip[skillID]
	return ok
}

func (s *State) MarkSkipped(skillID string) {
	s.skip[skillID] = struct{}{}
}

// SkipIDs returns the skip set sorted.
func (s *State) SkipIDs() []string {
	out := make([]string, 0, len(s.skip))
	for id := range s.skip {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ClearSkips empties the skip set and returns how many ids were dropped.
func (s *State) ClearSkips() int {
	n := len(s.skip)
	s.skip = map[string]struct{}{}
	return n
}

func (s *State) ClearPaths() int {
	n := len(s.paths)
	s.paths = map[string]string{}
	return n
}

func (s *State) CachedPath(repo, skillID string) (string, bool) {
	p, ok := s.paths[CacheKey(repo, skillID)]
	return p, ok
}

func (s *State) RememberPath(repo, skillID, path string) {
	if path == "" {
		return
	}
	s.paths[CacheKey(repo, skillID)] = path
}

// PathCache returns a copy of the cache keyed by CacheKey.
func (s *State) PathCache() map[string]string {
	return s.doc().PathCache
}
