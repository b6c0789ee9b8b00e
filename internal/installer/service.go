package installer

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"skillatlas/internal/audit"
	"skillatlas/internal/fsutil"
	"skillatlas/internal/resolver"
	"skillatlas/internal/store"
)

type Status string

const (
	StatusInstalled Status = "installed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

const (
	ReasonAlreadyExists      = "already exists"
	ReasonRemoveFailed       = "failed to remove existing"
	ReasonPathUnresolved     = "path unresolved"
	ReasonInvalidRepository  = "invalid source repository"
	ReasonInvalidSkillID     = "invalid skill id"
	ReasonDestinationExisted = "destination already exists"
)

// SkillDescriptor names a skill and the repository it is published from.
type SkillDescriptor struct {
	ID   string
	Repo string
}

type Result struct {
	Status Status `json:"status"`
	Path   string `json:"path,omitempty"`
	Reason string `json:"reason,omitempty"`
	// Attempts counts installer invocations.
	Attempts int      `json:"attempts"`
	Links    []string `json:"links,omitempty"`
}

// Lookup finds a skill directory that the layout conventions missed. A clean
// miss is ("", false, nil).
type Lookup interface {
	FindPath(ctx context.Context, owner, repo, skillID, ref string) (string, bool, error)
}

// Link is a consumer directory that receives a symlink per installed skill.
type Link struct {
	Name string
	Dir  string
}

type Options struct {
	Dest            string
	Method          string
	PrimaryBranch   string
	SecondaryBranch string
	Refresh         bool
	ResolveMissing  bool
	Links           []Link
}

// Service drives resolve, attempt, classify and retry for one skill at a
// time. It is not safe for concurrent use.
type Service struct {
	Runner     Runner
	Classifier *Classifier
	State      *store.State
	Lookup     Lookup
	Audit      *audit.Logger
	Logger     *slog.Logger
	Options    Options
}

// attemptLog accumulates what happened across every candidate of one skill.
type attemptLog struct {
	tried    map[string]struct{}
	attempts int
	allPath  bool
	lastErr  string
}

// InstallSkill decides one skill. A failure caused by ctx ending is returned
// without being recorded.
func (s *Service) InstallSkill(ctx context.Context, d SkillDescriptor) Result {
	res := s.install(ctx, d)
	if res.Status == StatusFailed && ctx.Err() != nil {
		return res
	}
	s.record(d, res)
	return res
}

func (s *Service) install(ctx context.Context, d SkillDescriptor) Result {
	if !validSkillID(d.ID) {
		return Result{Status: StatusFailed, Reason: ReasonInvalidSkillID}
	}
	destDir := filepath.Join(s.Options.Dest, d.ID)
	if fsutil.Exists(destDir) {
		if !s.Options.Refresh {
			return Result{Status: StatusSkipped, Reason: ReasonAlreadyExists}
		}
		if err := fsutil.RemoveEntry(destDir); err != nil {
			s.logger().Warn("refresh removal failed", "skill", d.ID, "err", err)
			return Result{Status: StatusSkipped, Reason: ReasonRemoveFailed}
		}
	}
	if s.State.IsSkipped(d.ID) {
		return Result{Status: StatusSkipped, Reason: ReasonPathUnresolved}
	}
	repo, err := resolver.ParseRepository(d.Repo)
	if err != nil {
		return Result{Status: StatusFailed, Reason: ReasonInvalidRepository}
	}

	log := &attemptLog{tried: map[string]struct{}{}, allPath: true}
	systemic := false
	for _, p := range resolver.Resolve(repo.String(), d.ID, s.State) {
		outcome := s.tryCandidate(ctx, repo, p, log)
		if done, res := s.settle(d, repo, destDir, p, outcome, log); done {
			return res
		}
		if outcome == OutcomeFailure {
			systemic = true
			break
		}
	}

	if !systemic && s.Options.ResolveMissing && s.Lookup != nil {
		if p, ok := s.lookupPath(ctx, repo, d.ID, log); ok {
			if _, seen := log.tried[p]; !seen {
				outcome := s.tryCandidate(ctx, repo, p, log)
				if done, res := s.settle(d, repo, destDir, p, outcome, log); done {
					return res
				}
			}
		}
	}

	if log.attempts > 0 && log.allPath && ctx.Err() == nil {
		s.State.MarkSkipped(d.ID)
	}
	return Result{Status: StatusFailed, Reason: log.lastErr, Attempts: log.attempts}
}

// tryCandidate attempts p on the primary branch, then once on the secondary
// branch when the primary is missing.
func (s *Service) tryCandidate(ctx context.Context, repo resolver.Repository, p string, log *attemptLog) Outcome {
	log.tried[p] = struct{}{}
	attempt := s.attempt(ctx, repo, p, s.Options.PrimaryBranch, log)
	outcome := s.classifier().Classify(attempt)
	if outcome == OutcomeBranchNotFound && s.Options.SecondaryBranch != "" {
		attempt = s.attempt(ctx, repo, p, s.Options.SecondaryBranch, log)
		outcome = s.classifier().Classify(attempt)
	}
	if outcome != OutcomeSuccess && outcome != OutcomeAlreadyExists {
		log.lastErr = attempt.Message()
		if outcome != OutcomePathNotFound {
			log.allPath = false
		}
	}
	return outcome
}

func (s *Service) attempt(ctx context.Context, repo resolver.Repository, p, ref string, log *attemptLog) Attempt {
	log.attempts++
	a := s.Runner.Install(ctx, Request{
		Repo:   repo.String(),
		Path:   p,
		Ref:    ref,
		Dest:   s.Options.Dest,
		Method: s.Options.Method,
	})
	s.logger().Debug("install attempt", "repo", repo.String(), "path", p, "ref", ref, "exit", a.ExitCode)
	return a
}

// settle turns a successful outcome into the final result.
func (s *Service) settle(d SkillDescriptor, repo resolver.Repository, destDir, p string, outcome Outcome, log *attemptLog) (bool, Result) {
	if outcome != OutcomeSuccess && outcome != OutcomeAlreadyExists {
		return false, Result{}
	}
	s.State.RememberPath(repo.String(), d.ID, p)
	res := Result{Status: StatusInstalled, Path: p, Attempts: log.attempts, Links: s.fanOut(destDir)}
	if outcome == OutcomeAlreadyExists {
		res.Reason = ReasonDestinationExisted
	}
	return true, res
}

// lookupPath asks the tree lookup on each branch in turn. Transport errors
// rule out skip-list membership because they may be transient.
func (s *Service) lookupPath(ctx context.Context, repo resolver.Repository, skillID string, log *attemptLog) (string, bool) {
	for _, ref := range []string{s.Options.PrimaryBranch, s.Options.SecondaryBranch} {
		if ref == "" {
			continue
		}
		p, ok, err := s.Lookup.FindPath(ctx, repo.Owner, repo.Name, skillID, ref)
		if err != nil {
			s.logger().Warn("tree lookup failed", "repo", repo.String(), "ref", ref, "err", err)
			log.allPath = false
			if log.lastErr == "" {
				log.lastErr = err.Error()
			}
			continue
		}
		if ok {
			return p, true
		}
	}
	return "", false
}

// fanOut links destDir into every consumer directory. Link errors never fail
// an install.
func (s *Service) fanOut(destDir string) []string {
	var linked []string
	for _, l := range s.Options.Links {
		ok, err := fsutil.EnsureSymlink(destDir, l.Dir)
		if err != nil {
			s.logger().Debug("symlink failed", "link", l.Name, "dir", l.Dir, "err", err)
			continue
		}
		if ok {
			linked = append(linked, l.Name)
		}
	}
	return linked
}

func (s *Service) record(d SkillDescriptor, res Result) {
	s.logger().Info("skill processed", "skill", d.ID, "repo", d.Repo, "status", string(res.Status), "path", res.Path, "reason", res.Reason)
	_ = s.Audit.Log(audit.Event{
		Operation: "install",
		Status:    string(res.Status),
		Skill:     d.ID,
		Repo:      d.Repo,
		Path:      res.Path,
		Message:   res.Reason,
	})
}

func (s *Service) classifier() *Classifier {
	if s.Classifier == nil {
		s.Classifier = NewClassifier()
	}
	return s.Classifier
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

func validSkillID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
