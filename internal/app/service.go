package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"skillatlas/internal/audit"
	"skillatlas/internal/config"
	"skillatlas/internal/doctor"
	"skillatlas/internal/installer"
	"skillatlas/internal/logging"
	"skillatlas/internal/registry"
	"skillatlas/internal/store"
	"skillatlas/internal/supervisor"
)

// SkillSource lists skills from the registry.
type SkillSource interface {
	FetchSkills(ctx context.Context, view string, limit int) ([]registry.Skill, error)
}

type Options struct {
	ConfigPath string
	HTTPClient *http.Client
	// Stdout receives sweep progress lines. Defaults to os.Stdout.
	Stdout io.Writer
	// Logger overrides the configured slog logger.
	Logger *slog.Logger

	Registry SkillSource
	Runner   installer.Runner
	Launcher supervisor.Launcher
	Probe    supervisor.Probe
	// Executable is the binary the supervisor launches for background sweeps.
	Executable string
}

type Service struct {
	ConfigPath string
	Config     config.Config
	Paths      config.Paths

	Registry   SkillSource
	Runner     installer.Runner
	Supervisor *supervisor.Supervisor
	Doctor     *doctor.Service
	Audit      *audit.Logger
	Logger     *slog.Logger

	httpClient *http.Client
	stdout     io.Writer
	executable string
}

func New(opts Options) (*Service, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Ensure(configPath)
	if err != nil {
		return nil, err
	}
	paths, err := config.ResolvePaths(cfg)
	if err != nil {
		return nil, fmt.Errorf("DOC_CONFIG_STORAGE: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.New(cfg.Logging, os.Stderr)
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	reg := opts.Registry
	if reg == nil {
		c, err := registry.New(registry.Options{
			BaseURL:     cfg.Registry.BaseURL,
			FallbackIPs: cfg.Registry.FallbackIPs,
			Resolver:    registry.DNSResolver{Server: cfg.Registry.Resolver},
			Timeout:     cfg.RegistryTimeout(),
			UserAgent:   userAgent(),
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		reg = c
	}

	executable := opts.Executable
	if executable == "" {
		if exe, err := os.Executable(); err == nil {
			executable = exe
		} else {
			executable = "skillatlas"
		}
	}

	sup := supervisor.New(supervisor.Options{
		JobPath:    paths.Job,
		LogPath:    paths.Log,
		ReportPath: paths.Report,
		Launcher:   opts.Launcher,
		Probe:      opts.Probe,
		Logger:     logger,
	})
	return &Service{
		ConfigPath: configPath,
		Config:     cfg,
		Paths:      paths,
		Registry:   reg,
		Runner:     opts.Runner,
		Supervisor: sup,
		Doctor:     &doctor.Service{ConfigPath: configPath, Config: cfg, Paths: paths},
		Audit:      audit.New(paths.Audit),
		Logger:     logger,
		httpClient: httpClient,
		stdout:     stdout,
		executable: executable,
	}, nil
}

func userAgent() string {
	return "skillatlas/" + config.Version
}

// ListInstalled returns the names of non-hidden directories, or symlinks to
// directories, under the destination.
func (s *Service) ListInstalled() ([]string, error) {
	entries, err := os.ReadDir(s.Paths.Dest)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := os.Stat(filepath.Join(s.Paths.Dest, e.Name()))
		if err != nil || !info.IsDir() {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// StateSnapshot is the human-facing view of the state document.
type StateSnapshot struct {
	Path      string            `json:"path"`
	SkipIDs   []string          `json:"skipIds"`
	PathCache map[string]string `json:"pathCache"`
	Warning   string            `json:"warning,omitempty"`
}

func (s *Service) State() StateSnapshot {
	st, err := store.LoadState(s.Paths.State)
	snap := StateSnapshot{Path: s.Paths.State, SkipIDs: st.SkipIDs(), PathCache: st.PathCache()}
	if err != nil {
		snap.Warning = err.Error()
	}
	return snap
}

type ResetResult struct {
	SkipsCleared int `json:"skipsCleared"`
	PathsCleared int `json:"pathsCleared"`
}

// ResetState clears the skip set and, unless keepPaths, the path cache.
func (s *Service) ResetState(keepPaths bool) (ResetResult, error) {
	lock, err := acquireSweepLock(s.Paths.State)
	if err != nil {
		return ResetResult{}, err
	}
	defer lock.Release()

	st, _ := store.LoadState(s.Paths.State)
	res := ResetResult{SkipsCleared: st.ClearSkips()}
	if !keepPaths {
		res.PathsCleared = st.ClearPaths()
	}
	if err := st.Save(s.Paths.State); err != nil {
		return ResetResult{}, err
	}
	_ = s.Audit.Log(audit.Event{
		Operation: "state-reset",
		Status:    "ok",
		Fields:    map[string]string{"skips": fmt.Sprint(res.SkipsCleared), "paths": fmt.Sprint(res.PathsCleared)},
	})
	return res, nil
}

func (s *Service) Report() (store.Report, error) {
	return store.LoadReport(s.Paths.Report)
}

// LogTail returns the last n lines of the sweep log, or "" when no sweep has
// logged yet.
func (s *Service) LogTail(n int) (string, error) {
	text, err := store.TailLog(s.Paths.Log, n)
	if errors.Is(err, store.ErrNotAvailable) {
		return "", nil
	}
	return text, err
}

type PathsInfo struct {
	Root   string `json:"root"`
	Custom string `json:"custom"`
	Shared string `json:"shared"`
	Agents string `json:"agents"`
}

func (s *Service) PathsInfo() PathsInfo {
	root := s.Paths.Root
	if ws := s.Config.Server.Workspace; ws != "" {
		if p, err := config.ExpandPath(ws); err == nil {
			root = filepath.Clean(p)
		}
	}
	return PathsInfo{
		Root:   root,
		Custom: filepath.Join(root, "custom"),
		Shared: filepath.Join(root, "shared"),
		Agents: s.Paths.Dest,
	}
}

func (s *Service) DoctorRun(ctx context.Context) doctor.Report {
	return s.Doctor.Run(ctx)
}

// links returns the enabled consumer directories minus those named in
// disabled.
func (s *Service) links(disabled []string) []installer.Link {
	off := map[string]struct{}{}
	for _, n := range disabled {
		off[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	var out []installer.Link
	for _, l := range s.Config.Links {
		if !l.Enabled {
			continue
		}
		if _, ok := off[strings.ToLower(l.Name)]; ok {
			continue
		}
		dir, err := config.ExpandPath(l.Dir)
		if err != nil {
			continue
		}
		out = append(out, installer.Link{Name: l.Name, Dir: dir})
	}
	return out
}
