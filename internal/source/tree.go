package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"skillatlas/internal/resolver"
)

// ErrRefNotFound is returned when the hosting API has no tree for a ref.
var ErrRefNotFound = errors.New("ref not found")

// ErrTruncated marks a miss against a tree listing the host cut short, which
// proves nothing about the skill.
var ErrTruncated = errors.New("tree listing truncated")

type TreeOptions struct {
	APIBase   string
	Token     string
	Manifest  string
	Timeout   time.Duration
	UserAgent string
}

// TreeLookup discovers skill directories from a repository's full file
// tree. Listings are memoized per owner/repo@ref for the lifetime of the
// value, so one TreeLookup should be created per sweep.
type TreeLookup struct {
	client *http.Client
	opts   TreeOptions

	mu    sync.Mutex
	cache map[string]*listing
}

// listing is a memoized tree query. A nil value in the cache records a ref
// the host does not know.
type listing struct {
	dirs      []string
	truncated bool
}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

func NewTreeLookup(client *http.Client, opts TreeOptions) *TreeLookup {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.APIBase == "" {
		opts.APIBase = "https://api.github.com"
	}
	if opts.Manifest == "" {
		opts.Manifest = "SKILL.md"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "skillatlas"
	}
	return &TreeLookup{client: client, opts: opts, cache: map[string]*listing{}}
}

// TokenFromEnv returns the first non-empty value among the named variables.
func TokenFromEnv(names []string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

// FindPath returns the best directory for skillID at ref. A ref the host does
// not know yields ("", false, nil). On a truncated listing only a directory
// naming skillID is trusted; anything else is an ErrTruncated lookup error.
func (t *TreeLookup) FindPath(ctx context.Context, owner, repo, skillID, ref string) (string, bool, error) {
	l, err := t.listing(ctx, owner, repo, ref)
	if err != nil {
		if errors.Is(err, ErrRefNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	p, ok := resolver.PickBestPath(l.dirs, skillID)
	if l.truncated && (!ok || !namesSkill(p, skillID)) {
		return "", false, fmt.Errorf("LKP_TREE: %s/%s@%s: %w", owner, repo, ref, ErrTruncated)
	}
	return p, ok, nil
}

// ManifestDirs lists every directory holding a manifest file at ref.
func (t *TreeLookup) ManifestDirs(ctx context.Context, owner, repo, ref string) ([]string, error) {
	l, err := t.listing(ctx, owner, repo, ref)
	if err != nil {
		return nil, err
	}
	return l.dirs, nil
}

func (t *TreeLookup) listing(ctx context.Context, owner, repo, ref string) (*listing, error) {
	key := fmt.Sprintf("%s/%s@%s", owner, repo, ref)
	t.mu.Lock()
	l, ok := t.cache[key]
	t.mu.Unlock()
	if ok {
		if l == nil {
			return nil, ErrRefNotFound
		}
		return l, nil
	}

	l, err := t.fetch(ctx, owner, repo, ref)
	if err != nil && !errors.Is(err, ErrRefNotFound) {
		return nil, err
	}
	t.mu.Lock()
	t.cache[key] = l
	t.mu.Unlock()
	if l == nil {
		return nil, ErrRefNotFound
	}
	return l, nil
}

func namesSkill(dir, skillID string) bool {
	return strings.Contains("/"+strings.ToLower(dir)+"/", "/"+strings.ToLower(skillID)+"/")
}

func (t *TreeLookup) fetch(ctx context.Context, owner, repo, ref string) (*listing, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	u := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1",
		strings.TrimRight(t.opts.APIBase, "/"), url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("LKP_TREE: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", t.opts.UserAgent)
	if t.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.opts.Token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("LKP_TREE: timeout after %s", t.opts.Timeout)
		}
		return nil, fmt.Errorf("LKP_TREE: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, ErrRefNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("LKP_TREE: %s/%s@%s returned status %d", owner, repo, ref, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("LKP_TREE: %w", err)
	}
	var tree treeResponse
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("LKP_TREE: invalid tree payload: %w", err)
	}

	suffix := "/" + t.opts.Manifest
	dirs := []string{}
	for _, e := range tree.Tree {
		if e.Type != "blob" || !strings.HasSuffix(e.Path, suffix) {
			continue
		}
		if dir := strings.TrimSuffix(e.Path, suffix); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return &listing{dirs: dirs, truncated: tree.Truncated}, nil
}
