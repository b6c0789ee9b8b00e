package resolver

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// conventions lists in-repository layouts in descending likelihood. The bare
// id stays last as the degenerate case.
var conventions = []string{
	"skills/%s",
	"skill/%s",
	"plugins/%s",
	"skills/.curated/%s",
	"skills/curated/%s",
	".curated/%s",
	"skills/public/%s",
	"skills/private/%s",
	"%s",
}

// PathCache is the read side of the resolution cache.
type PathCache interface {
	CachedPath(repo, skillID string) (string, bool)
}

// Repository is an "owner/name" source reference.
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string { return r.Owner + "/" + r.Name }

func ParseRepository(raw string) (Repository, error) {
	parts := strings.Split(strings.TrimSpace(raw), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repository{}, fmt.Errorf("RES_REPO_PARSE: expected owner/name, got %q", raw)
	}
	return Repository{Owner: parts[0], Name: parts[1]}, nil
}

// CandidatePaths returns the convention-based candidates for skillID.
func CandidatePaths(skillID string) []string {
	out := make([]string, 0, len(conventions))
	for _, c := range conventions {
		out = append(out, fmt.Sprintf(c, skillID))
	}
	return out
}

// Resolve puts the cached path for (repo, skillID), if any, ahead of the
// convention candidates. Duplicates keep their first position.
func Resolve(repo, skillID string, cache PathCache) []string {
	var ordered []string
	if cache != nil {
		if cached, ok := cache.CachedPath(repo, skillID); ok && cached != "" {
			ordered = append(ordered, cached)
		}
	}
	ordered = append(ordered, CandidatePaths(skillID)...)
	return dedupe(ordered)
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// PickBestPath chooses the directory most likely to hold skillID among
// manifest-bearing directories: the shortest exact basename match, else the
// shortest path containing the id as a path segment, else the shortest
// candidate. Length ties keep input order.
func PickBestPath(paths []string, skillID string) (string, bool) {
	if len(paths) == 0 {
		return "", false
	}
	id := strings.ToLower(skillID)

	var exact, segment []string
	for _, p := range paths {
		lp := strings.ToLower(p)
		if path.Base(lp) == id {
			exact = append(exact, p)
		}
		if strings.Contains("/"+lp, "/"+id) || strings.HasSuffix(lp, id) {
			segment = append(segment, p)
		}
	}
	if len(exact) > 0 {
		return shortest(exact), true
	}
	if len(segment) > 0 {
		return shortest(segment), true
	}
	return shortest(paths), true
}

func shortest(items []string) string {
	sorted := append([]string(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) < len(sorted[j]) })
	return sorted[0]
}
