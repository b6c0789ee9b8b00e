package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"skillatlas/internal/audit"
	"skillatlas/internal/resolver"
	"skillatlas/internal/store"
)

const pathMissing = "error: skill path not found in repository"

// scriptedRunner answers by "path@ref" and fails everything else with a
// path error. It records every request in order.
type scriptedRunner struct {
	answers map[string]Attempt
	calls   []string
}

func (r *scriptedRunner) Install(_ context.Context, req Request) Attempt {
	key := req.Path + "@" + req.Ref
	r.calls = append(r.calls, key)
	if a, ok := r.answers[key]; ok {
		return a
	}
	return Attempt{ExitCode: 1, Stderr: pathMissing}
}

type fakeLookup struct {
	paths map[string]string
	err   error
	calls []string
}

func (f *fakeLookup) FindPath(_ context.Context, owner, repo, skillID, ref string) (string, bool, error) {
	f.calls = append(f.calls, ref)
	if f.err != nil {
		return "", false, f.err
	}
	p, ok := f.paths[ref]
	return p, ok, nil
}

func newService(t *testing.T, runner Runner) *Service {
	t.Helper()
	return &Service{
		Runner: runner,
		State:  store.NewState(),
		Options: Options{
			Dest:            t.TempDir(),
			Method:          "git",
			PrimaryBranch:   "main",
			SecondaryBranch: "master",
		},
	}
}

var foo = SkillDescriptor{ID: "foo", Repo: "acme/foo-skill"}

func TestInstallSkillFirstCandidateSucceeds(t *testing.T) {
	runner := &scriptedRunner{answers: map[string]Attempt{"skills/foo@main": {ExitCode: 0}}}
	svc := newService(t, runner)

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusInstalled || res.Path != "skills/foo" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got, ok := svc.State.CachedPath("acme/foo-skill", "foo"); !ok || got != "skills/foo" {
		t.Fatalf("expected cache acme/foo-skill|foo -> skills/foo, got %q %v", got, ok)
	}
	if !reflect.DeepEqual(runner.calls, []string{"skills/foo@main"}) {
		t.Fatalf("unexpected calls %v", runner.calls)
	}
}

func TestInstallSkillExistingDestinationSkipsWithoutInstaller(t *testing.T) {
	runner := &scriptedRunner{}
	svc := newService(t, runner)
	if err := os.MkdirAll(filepath.Join(svc.Options.Dest, "foo"), 0o755); err != nil {
		t.Fatal(err)
	}

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusSkipped || res.Reason != ReasonAlreadyExists {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("installer must not run, got %v", runner.calls)
	}
}

func TestInstallSkillRefreshRemovesExisting(t *testing.T) {
	runner := &scriptedRunner{answers: map[string]Attempt{"skills/foo@main": {ExitCode: 0}}}
	svc := newService(t, runner)
	svc.Options.Refresh = true
	existing := filepath.Join(svc.Options.Dest, "foo")
	if err := os.MkdirAll(filepath.Join(existing, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusInstalled {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(existing); !os.IsNotExist(err) {
		t.Fatalf("expected existing destination to be removed, stat err=%v", err)
	}
}

func TestInstallSkillSkipSetShortCircuits(t *testing.T) {
	runner := &scriptedRunner{}
	svc := newService(t, runner)
	svc.State.MarkSkipped("foo")

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusSkipped || res.Reason != ReasonPathUnresolved {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("installer must not run, got %v", runner.calls)
	}
}

func TestInstallSkillCachedPathTriedFirst(t *testing.T) {
	runner := &scriptedRunner{answers: map[string]Attempt{"tools/foo@main": {ExitCode: 0}}}
	svc := newService(t, runner)
	svc.State.RememberPath("acme/foo-skill", "foo", "tools/foo")

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusInstalled || res.Path != "tools/foo" {
		t.Fatalf("unexpected result %+v", res)
	}
	if runner.calls[0] != "tools/foo@main" || len(runner.calls) != 1 {
		t.Fatalf("cached path should be attempted first, got %v", runner.calls)
	}
}

func TestInstallSkillStaleCacheFallsThrough(t *testing.T) {
	runner := &scriptedRunner{answers: map[string]Attempt{"skills/foo@main": {ExitCode: 0}}}
	svc := newService(t, runner)
	svc.State.RememberPath("acme/foo-skill", "foo", "old/foo")

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusInstalled || res.Path != "skills/foo" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !reflect.DeepEqual(runner.calls, []string{"old/foo@main", "skills/foo@main"}) {
		t.Fatalf("unexpected calls %v", runner.calls)
	}
	if got, _ := svc.State.CachedPath("acme/foo-skill", "foo"); got != "skills/foo" {
		t.Fatalf("expected cache to self-correct, got %q", got)
	}
}

func TestInstallSkillBranchErrorRetriesSameCandidate(t *testing.T) {
	runner := &scriptedRunner{answers: map[string]Attempt{
		"skills/foo@main":   {ExitCode: 128, Stderr: "fatal: Remote branch main not found in upstream origin"},
		"skills/foo@master": {ExitCode: 0},
	}}
	svc := newService(t, runner)

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusInstalled || res.Path != "skills/foo" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !reflect.DeepEqual(runner.calls, []string{"skills/foo@main", "skills/foo@master"}) {
		t.Fatalf("unexpected calls %v", runner.calls)
	}
}

func TestInstallSkillPathErrorNeverRetriesBranch(t *testing.T) {
	runner := &scriptedRunner{answers: map[string]Attempt{"skill/foo@main": {ExitCode: 0}}}
	svc := newService(t, runner)

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusInstalled || res.Path != "skill/foo" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !reflect.DeepEqual(runner.calls, []string{"skills/foo@main", "skill/foo@main"}) {
		t.Fatalf("unexpected calls %v", runner.calls)
	}
}

func TestInstallSkillAllPathErrorsJoinSkipSet(t *testing.T) {
	runner := &scriptedRunner{}
	svc := newService(t, runner)

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Reason != pathMissing {
		t.Fatalf("expected last path error as reason, got %q", res.Reason)
	}
	if len(runner.calls) != len(resolver.CandidatePaths("foo")) || res.Attempts != len(runner.calls) {
		t.Fatalf("expected one attempt per convention, got %v", runner.calls)
	}
	if !svc.State.IsSkipped("foo") {
		t.Fatalf("expected foo in skip set")
	}
	if _, ok := svc.State.CachedPath("acme/foo-skill", "foo"); ok {
		t.Fatalf("cache must not change on failure")
	}
}

func TestInstallSkillSystemicErrorStopsWithoutSkip(t *testing.T) {
	runner := &scriptedRunner{answers: map[string]Attempt{
		"skill/foo@main": {ExitCode: 128, Stderr: "fatal: unable to access: Could not resolve host: github.com"},
	}}
	svc := newService(t, runner)
	lookup := &fakeLookup{paths: map[string]string{"main": "x/foo"}}
	svc.Lookup = lookup
	svc.Options.ResolveMissing = true

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	if !reflect.DeepEqual(runner.calls, []string{"skills/foo@main", "skill/foo@main"}) {
		t.Fatalf("systemic error should stop iteration, got %v", runner.calls)
	}
	if len(lookup.calls) != 0 {
		t.Fatalf("tree lookup should not run after a systemic error")
	}
	if svc.State.IsSkipped("foo") {
		t.Fatalf("systemic error must not earn skip membership")
	}
}

func TestInstallSkillBranchMissingOnBothAdvancesWithoutSkip(t *testing.T) {
	answers := map[string]Attempt{}
	for _, p := range resolver.CandidatePaths("foo") {
		answers[p+"@main"] = Attempt{ExitCode: 128, Stderr: "fatal: couldn't find remote ref main"}
		answers[p+"@master"] = Attempt{ExitCode: 128, Stderr: "fatal: couldn't find remote ref master"}
	}
	runner := &scriptedRunner{answers: answers}
	svc := newService(t, runner)

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(runner.calls) != 2*len(resolver.CandidatePaths("foo")) {
		t.Fatalf("expected both branches per candidate, got %d calls", len(runner.calls))
	}
	if svc.State.IsSkipped("foo") {
		t.Fatalf("branch errors must not earn skip membership")
	}
}

func TestInstallSkillTreeLookupFindsPath(t *testing.T) {
	runner := &scriptedRunner{answers: map[string]Attempt{
		"catalog/foo@main":   {ExitCode: 1, Stderr: "error: remote ref main missing"},
		"catalog/foo@master": {ExitCode: 0},
	}}
	svc := newService(t, runner)
	lookup := &fakeLookup{paths: map[string]string{"master": "catalog/foo"}}
	svc.Lookup = lookup
	svc.Options.ResolveMissing = true

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusInstalled || res.Path != "catalog/foo" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !reflect.DeepEqual(lookup.calls, []string{"main", "master"}) {
		t.Fatalf("expected lookup on main then master, got %v", lookup.calls)
	}
	if got, _ := svc.State.CachedPath("acme/foo-skill", "foo"); got != "catalog/foo" {
		t.Fatalf("expected tree path cached, got %q", got)
	}
}

func TestInstallSkillTreeLookupPathErrorStillSkips(t *testing.T) {
	runner := &scriptedRunner{}
	svc := newService(t, runner)
	svc.Lookup = &fakeLookup{paths: map[string]string{"main": "catalog/foo"}}
	svc.Options.ResolveMissing = true

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	if last := runner.calls[len(runner.calls)-1]; last != "catalog/foo@main" {
		t.Fatalf("expected tree path attempted last, got %v", runner.calls)
	}
	if !svc.State.IsSkipped("foo") {
		t.Fatalf("expected skip membership when every candidate is a path error")
	}
}

func TestInstallSkillTreeLookupTransportErrorSparesSkipSet(t *testing.T) {
	runner := &scriptedRunner{}
	svc := newService(t, runner)
	svc.Lookup = &fakeLookup{err: errors.New("LKP_TREE: timeout after 30s")}
	svc.Options.ResolveMissing = true

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	if svc.State.IsSkipped("foo") {
		t.Fatalf("lookup transport errors must not earn skip membership")
	}
}

func TestInstallSkillDestinationConflictCountsAsInstalled(t *testing.T) {
	runner := &scriptedRunner{answers: map[string]Attempt{
		"skills/foo@main": {ExitCode: 1, Stderr: "Destination already exists: /tmp/skills/foo"},
	}}
	svc := newService(t, runner)

	res := svc.InstallSkill(context.Background(), foo)
	if res.Status != StatusInstalled || res.Reason != ReasonDestinationExisted {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestInstallSkillRejectsBadDescriptors(t *testing.T) {
	runner := &scriptedRunner{}
	svc := newService(t, runner)

	if res := svc.InstallSkill(context.Background(), SkillDescriptor{ID: "foo", Repo: "acme"}); res.Reason != ReasonInvalidRepository {
		t.Fatalf("unexpected result %+v", res)
	}
	if res := svc.InstallSkill(context.Background(), SkillDescriptor{ID: "../etc", Repo: "acme/x"}); res.Reason != ReasonInvalidSkillID {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("installer must not run, got %v", runner.calls)
	}
}

func TestInstallSkillLinksIntoConsumers(t *testing.T) {
	runner := &scriptedRunner{answers: map[string]Attempt{"skills/foo@main": {ExitCode: 0}}}
	svc := newService(t, runner)
	codex := t.TempDir()
	missing := filepath.Join(t.TempDir(), "absent")
	svc.Options.Links = []Link{{Name: "codex", Dir: codex}, {Name: "claude", Dir: missing}}

	res := svc.InstallSkill(context.Background(), foo)
	if !reflect.DeepEqual(res.Links, []string{"codex"}) {
		t.Fatalf("unexpected links %v", res.Links)
	}
	target, err := os.Readlink(filepath.Join(codex, "foo"))
	if err != nil {
		t.Fatalf("expected symlink: %v", err)
	}
	if target != filepath.Join(svc.Options.Dest, "foo") {
		t.Fatalf("unexpected link target %q", target)
	}
	if _, err := os.Lstat(missing); !os.IsNotExist(err) {
		t.Fatalf("absent consumer dir must not be created")
	}
}

func TestInstallSkillCancelledFailureIsNotRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &scriptedRunner{}
	svc := newService(t, runner)
	auditPath := filepath.Join(t.TempDir(), "audit.log")
	svc.Audit = audit.New(auditPath)

	res := svc.InstallSkill(ctx, foo)
	if res.Status != StatusFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(auditPath); !os.IsNotExist(err) {
		t.Fatalf("cancelled failure must not be audited, stat err=%v", err)
	}
	if svc.State.IsSkipped("foo") {
		t.Fatalf("cancelled failure must not enter the skip set")
	}

	svc.Audit = audit.New(auditPath)
	if res := svc.InstallSkill(context.Background(), foo); res.Status != StatusFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(auditPath); err != nil {
		t.Fatalf("decided failure should be audited: %v", err)
	}
}
