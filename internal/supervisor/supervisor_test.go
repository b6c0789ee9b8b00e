package supervisor

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"skillatlas/internal/store"
)

type fakeProcess struct {
	pid  int
	exit chan int
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Wait() (int, error) { return <-p.exit, nil }

// fakeLauncher hands out fake processes whose liveness is tracked in alive.
type fakeLauncher struct {
	mu       sync.Mutex
	launches int
	procs    []*fakeProcess
	alive    map[int]bool
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{alive: map[int]bool{}}
}

func (l *fakeLauncher) Launch(argv []string, logPath string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	p := &fakeProcess{pid: 4000 + l.launches, exit: make(chan int, 1)}
	l.procs = append(l.procs, p)
	l.alive[p.pid] = true
	return p, nil
}

func (l *fakeLauncher) Alive(pid int, _ time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alive[pid]
}

func (l *fakeLauncher) exit(i, code int) {
	l.mu.Lock()
	p := l.procs[i]
	l.alive[p.pid] = false
	l.mu.Unlock()
	p.exit <- code
}

func newSupervisor(t *testing.T, l *fakeLauncher) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	return New(Options{
		JobPath:    filepath.Join(dir, "job.json"),
		LogPath:    filepath.Join(dir, "sweep.log"),
		ReportPath: filepath.Join(dir, "report.json"),
		Launcher:   l,
		Probe:      l,
	}), dir
}

func TestStartPersistsJobDocument(t *testing.T) {
	l := newFakeLauncher()
	s, dir := newSupervisor(t, l)

	res, err := s.Start([]string{"skillatlas", "sweep", "--limit", "80"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != StatusStarted || res.Job == nil || res.PID != 4001 {
		t.Fatalf("unexpected start result %+v", res)
	}
	job, ok := store.LoadJob(filepath.Join(dir, "job.json"))
	if !ok {
		t.Fatalf("expected persisted job")
	}
	if job.PID != 4001 || job.Log != filepath.Join(dir, "sweep.log") || job.Report != filepath.Join(dir, "report.json") {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(job.Command) != 4 || job.Command[1] != "sweep" {
		t.Fatalf("unexpected command %v", job.Command)
	}
	if job.StartedAt <= 0 {
		t.Fatalf("expected startedAt to be recorded")
	}
}

func TestStartWhileRunningLaunchesOnce(t *testing.T) {
	l := newFakeLauncher()
	s, _ := newSupervisor(t, l)

	first, err := s.Start([]string{"sweep"})
	if err != nil || first.Status != StatusStarted {
		t.Fatalf("first start: %+v %v", first, err)
	}
	second, err := s.Start([]string{"sweep"})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.Status != StatusRunning || second.Job == nil || second.PID != first.PID {
		t.Fatalf("expected running with the live job, got %+v", second)
	}
	if l.launches != 1 {
		t.Fatalf("expected exactly one launch, got %d", l.launches)
	}
}

func TestConcurrentStartLaunchesOnce(t *testing.T) {
	l := newFakeLauncher()
	s, _ := newSupervisor(t, l)

	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Start([]string{"sweep"})
			if err != nil {
				t.Errorf("start: %v", err)
				return
			}
			if res.Status == StatusStarted {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if started != 1 || l.launches != 1 {
		t.Fatalf("expected one started result and one launch, got started=%d launches=%d", started, l.launches)
	}
}

func TestStatusReportsExitCode(t *testing.T) {
	l := newFakeLauncher()
	s, _ := newSupervisor(t, l)
	if _, err := s.Start([]string{"sweep"}); err != nil {
		t.Fatal(err)
	}
	if st := s.Status(); !st.Running || st.ExitCode != nil {
		t.Fatalf("expected running without exit code, got %+v", st)
	}

	l.exit(0, 3)
	if !s.Wait(2 * time.Second) {
		t.Fatalf("sweep did not exit")
	}
	st := s.Status()
	if st.Running || st.ExitCode == nil || *st.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %+v", st)
	}

	res, err := s.Start([]string{"sweep"})
	if err != nil || res.Status != StatusStarted || l.launches != 2 {
		t.Fatalf("expected relaunch after exit, got %+v launches=%d err=%v", res, l.launches, err)
	}
}

func TestStatusSurvivesSupervisorRestart(t *testing.T) {
	l := newFakeLauncher()
	s, dir := newSupervisor(t, l)
	if _, err := s.Start([]string{"sweep"}); err != nil {
		t.Fatal(err)
	}

	restarted := New(Options{
		JobPath:  filepath.Join(dir, "job.json"),
		LogPath:  filepath.Join(dir, "sweep.log"),
		Launcher: l,
		Probe:    l,
	})
	st := restarted.Status()
	if !st.Running || st.PID != 4001 || st.ExitCode != nil {
		t.Fatalf("expected live job from persisted pid, got %+v", st)
	}
	if res, _ := restarted.Start([]string{"sweep"}); res.Status != StatusRunning {
		t.Fatalf("restarted supervisor must not relaunch, got %+v", res)
	}

	l.mu.Lock()
	l.alive[4001] = false
	l.mu.Unlock()
	if st := restarted.Status(); st.Running || st.ExitCode != nil {
		t.Fatalf("expected not running with unknown exit code, got %+v", st)
	}
}

func TestStatusWithoutJob(t *testing.T) {
	s, _ := newSupervisor(t, newFakeLauncher())
	st := s.Status()
	if st.Running || st.Job != nil || st.ExitCode != nil {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestExecLauncherAppendsToLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "sweep.log")
	if err := os.WriteFile(logPath, []byte("previous run\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(Options{JobPath: filepath.Join(dir, "job.json"), LogPath: logPath})

	res, err := s.Start([]string{"sh", "-c", "echo installed: 1; echo oops >&2; exit 2"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != StatusStarted {
		t.Fatalf("unexpected result %+v", res)
	}
	if !s.Wait(5 * time.Second) {
		t.Fatalf("sweep did not exit")
	}
	st := s.Status()
	if st.Running || st.ExitCode == nil || *st.ExitCode != 2 {
		t.Fatalf("expected exit 2, got %+v", st)
	}
	blob, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	text := string(blob)
	if !strings.HasPrefix(text, "previous run\n") || !strings.Contains(text, "installed: 1") || !strings.Contains(text, "oops") {
		t.Fatalf("unexpected log contents %q", text)
	}
}

func TestOSProbe(t *testing.T) {
	p := OSProbe{}
	self := os.Getpid()
	if !p.Alive(self, time.Now()) {
		t.Fatalf("current process should be alive")
	}
	if !p.Alive(self, time.Time{}) {
		t.Fatalf("zero start time skips the create-time check")
	}
	if p.Alive(self, time.Now().Add(-24*time.Hour)) {
		t.Fatalf("a process created long after the recorded start is a reused pid")
	}
	if p.Alive(0, time.Now()) || p.Alive(-5, time.Now()) {
		t.Fatalf("non-positive pids are never alive")
	}
}
