package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agents/skillatlas.toml"
	}
	return filepath.Join(home, ".agents", "skillatlas.toml")
}

func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

// Paths holds the expanded locations of every persisted document.
type Paths struct {
	Root   string `json:"root"`
	Dest   string `json:"dest"`
	State  string `json:"state"`
	Report string `json:"report"`
	Log    string `json:"log"`
	Job    string `json:"job"`
	Audit  string `json:"audit"`
}

// ResolvePaths expands the storage section, deriving unset document paths
// from the storage root.
func ResolvePaths(cfg Config) (Paths, error) {
	root, err := ExpandPath(cfg.Storage.Root)
	if err != nil {
		return Paths{}, err
	}
	root = filepath.Clean(root)
	pick := func(v, name string) (string, error) {
		if v == "" {
			return filepath.Join(root, name), nil
		}
		p, err := ExpandPath(v)
		if err != nil {
			return "", err
		}
		return filepath.Clean(p), nil
	}
	out := Paths{Root: root}
	fields := []struct {
		dst  *string
		v    string
		name string
	}{
		{&out.Dest, cfg.Storage.Dest, "skills"},
		{&out.State, cfg.Storage.State, ".skillatlas-state.json"},
		{&out.Report, cfg.Storage.Report, ".skillatlas-report.json"},
		{&out.Log, cfg.Storage.Log, ".skillatlas.log"},
		{&out.Job, cfg.Storage.Job, ".skillatlas-job.json"},
		{&out.Audit, cfg.Storage.Audit, ".skillatlas-audit.log"},
	}
	for _, f := range fields {
		p, err := pick(f.v, f.name)
		if err != nil {
			return Paths{}, err
		}
		*f.dst = p
	}
	return out, nil
}

// ExpandCommand expands a leading "~/" in every installer argv element.
func ExpandCommand(argv []string) []string {
	out := make([]string, 0, len(argv))
	for _, a := range argv {
		if strings.HasPrefix(a, "~/") {
			if p, err := ExpandPath(a); err == nil {
				a = p
			}
		}
		out = append(out, a)
	}
	return out
}
