package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"skillatlas/internal/audit"
	"skillatlas/internal/config"
	"skillatlas/internal/fsutil"
	"skillatlas/internal/installer"
	"skillatlas/internal/registry"
	"skillatlas/internal/source"
	"skillatlas/internal/store"
)

type SweepOptions struct {
	Limit          int
	View           string
	ResolveMissing bool
	Refresh        bool
	// TimeBudget stops the sweep between skills once exceeded. Zero means no
	// limit.
	TimeBudget     time.Duration
	CommandTimeout time.Duration
	// NoLink names consumer directories that receive no symlinks.
	NoLink []string
}

type SweepResult struct {
	Report     *store.Report `json:"report"`
	ReportPath string        `json:"reportPath"`
	Processed  int           `json:"processed"`
	Listed     int           `json:"listed"`
	// BudgetExhausted is set when the time budget cut the sweep short.
	BudgetExhausted bool `json:"budgetExhausted"`
}

// Sweep installs every skill the registry lists for opts.View, one at a
// time. State and report are flushed after each skill.
func (s *Service) Sweep(ctx context.Context, opts SweepOptions) (SweepResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 80
	}
	opts.View = registry.NormalizeView(opts.View)
	if opts.View == "" {
		opts.View = "all-time"
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = s.Config.InstallerTimeout()
	}

	runner := s.Runner
	if runner == nil {
		argv := config.ExpandCommand(s.Config.Installer.Command)
		if script := installer.ScriptPath(argv); script != "" {
			if _, err := os.Stat(script); err != nil {
				return SweepResult{}, fmt.Errorf("INS_NOT_FOUND: installer not found: %s", script)
			}
		}
		runner = installer.ExecRunner{Command: argv, Timeout: opts.CommandTimeout}
	}

	lock, err := acquireSweepLock(s.Paths.State)
	if err != nil {
		return SweepResult{}, err
	}
	defer lock.Release()

	if err := os.MkdirAll(s.Paths.Dest, 0o755); err != nil {
		return SweepResult{}, fmt.Errorf("SWP_DEST: %w", err)
	}
	state, err := store.LoadState(s.Paths.State)
	if err != nil {
		s.Logger.Warn("state document discarded", "path", s.Paths.State, "err", err)
	}

	skills, err := s.Registry.FetchSkills(ctx, opts.View, opts.Limit)
	if err != nil {
		_ = s.Audit.Log(audit.Event{Operation: "sweep", Status: "error", Message: err.Error()})
		return SweepResult{}, err
	}
	_ = s.Audit.Log(audit.Event{
		Operation: "sweep",
		Status:    "start",
		Fields:    map[string]string{"view": opts.View, "limit": fmt.Sprint(opts.Limit), "listed": fmt.Sprint(len(skills))},
	})

	svc := &installer.Service{
		Runner: runner,
		State:  state,
		Audit:  s.Audit,
		Logger: s.Logger,
		Options: installer.Options{
			Dest:            s.Paths.Dest,
			Method:          s.Config.Installer.Method,
			PrimaryBranch:   s.Config.Installer.PrimaryBranch,
			SecondaryBranch: s.Config.Installer.SecondaryBranch,
			Refresh:         opts.Refresh,
			ResolveMissing:  opts.ResolveMissing,
			Links:           s.links(opts.NoLink),
		},
	}
	if opts.ResolveMissing {
		svc.Lookup = source.NewTreeLookup(s.httpClient, source.TreeOptions{
			APIBase:   s.Config.Lookup.APIBase,
			Token:     source.TokenFromEnv(s.Config.Lookup.TokenEnv),
			Manifest:  s.Config.Lookup.Manifest,
			Timeout:   s.Config.LookupTimeout(),
			UserAgent: s.lookupUserAgent(),
		})
	}

	res := SweepResult{Report: store.NewReport(), ReportPath: s.Paths.Report, Listed: len(skills)}
	start := time.Now()
	for _, sk := range skills {
		if ctx.Err() != nil {
			return res, s.interrupted(ctx, state, res)
		}
		if opts.TimeBudget > 0 && time.Since(start) > opts.TimeBudget {
			res.BudgetExhausted = true
			s.Logger.Info("time budget exhausted", "budget", opts.TimeBudget, "processed", res.Processed)
			break
		}
		if sk.ID == "" || sk.TopSource == "" {
			continue
		}

		out := svc.InstallSkill(ctx, installer.SkillDescriptor{ID: sk.ID, Repo: sk.TopSource})
		if out.Status == installer.StatusFailed && ctx.Err() != nil {
			// The failure came from the interruption; the skill stays undecided.
			return res, s.interrupted(ctx, state, res)
		}
		entry := store.Entry{ID: sk.ID, Repo: sk.TopSource, Reason: out.Reason}
		switch out.Status {
		case installer.StatusInstalled:
			res.Report.Installed = append(res.Report.Installed, entry)
		case installer.StatusSkipped:
			res.Report.Skipped = append(res.Report.Skipped, entry)
		default:
			res.Report.Failed = append(res.Report.Failed, entry)
		}
		res.Processed++
		s.progress("[%d/%d] %s %s %s", res.Processed, len(skills), out.Status, sk.ID, out.Reason)

		if err := state.Save(s.Paths.State); err != nil {
			return res, err
		}
		if err := store.SaveReport(s.Paths.Report, res.Report); err != nil {
			return res, err
		}
	}

	if err := store.SaveReport(s.Paths.Report, res.Report); err != nil {
		return res, err
	}
	_ = s.Audit.Log(audit.Event{
		Operation: "sweep",
		Status:    "finish",
		Fields: map[string]string{
			"installed": fmt.Sprint(len(res.Report.Installed)),
			"skipped":   fmt.Sprint(len(res.Report.Skipped)),
			"failed":    fmt.Sprint(len(res.Report.Failed)),
		},
	})
	s.progress("installed: %d", len(res.Report.Installed))
	s.progress("skipped: %d", len(res.Report.Skipped))
	s.progress("failed: %d", len(res.Report.Failed))
	s.progress("report: %s", s.Paths.Report)
	return res, nil
}

// interrupted flushes what was decided before ctx ended and reports the
// sweep as stopped.
func (s *Service) interrupted(ctx context.Context, state *store.State, res SweepResult) error {
	if err := state.Save(s.Paths.State); err != nil {
		return err
	}
	if err := store.SaveReport(s.Paths.Report, res.Report); err != nil {
		return err
	}
	_ = s.Audit.Log(audit.Event{
		Operation: "sweep",
		Status:    "interrupted",
		Fields:    map[string]string{"processed": fmt.Sprint(res.Processed), "listed": fmt.Sprint(res.Listed)},
	})
	s.progress("interrupted after %d of %d", res.Processed, res.Listed)
	return fmt.Errorf("SWP_INTERRUPTED: %w", context.Cause(ctx))
}

func (s *Service) progress(format string, args ...any) {
	fmt.Fprintln(s.stdout, strings.TrimRight(fmt.Sprintf(format, args...), " "))
}

func (s *Service) lookupUserAgent() string {
	if ua := s.Config.Lookup.UserAgent; ua != "" {
		return ua
	}
	return userAgent()
}

// acquireSweepLock serializes writers of the state document across
// processes.
func acquireSweepLock(statePath string) (*fsutil.Lock, error) {
	lock, err := fsutil.AcquireLock(statePath + ".lock")
	if err != nil {
		if errors.Is(err, fsutil.ErrLocked) {
			return nil, fmt.Errorf("SWP_LOCKED: another sweep holds %s.lock", statePath)
		}
		return nil, fmt.Errorf("SWP_LOCK: %w", err)
	}
	return lock, nil
}
