package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"skillatlas/internal/fsutil"
	"skillatlas/internal/store"
)

const (
	StatusStarted = "started"
	StatusRunning = "running"
)

type Options struct {
	JobPath    string
	LogPath    string
	ReportPath string
	Launcher   Launcher
	Probe      Probe
	Logger     *slog.Logger
	Now        func() time.Time
}

// Supervisor runs at most one background sweep. The persisted job document
// is the only durable record; liveness is derived from the OS on every query.
type Supervisor struct {
	opts Options

	mu      sync.Mutex
	current *child
}

// child tracks a process launched by this supervisor so it is reaped and its
// exit code is known.
type child struct {
	pid      int
	done     chan struct{}
	exitCode int
}

type StartResult struct {
	Status string `json:"status"`
	*store.Job
}

type JobStatus struct {
	*store.Job
	Running  bool `json:"running"`
	ExitCode *int `json:"exitCode"`
}

func New(opts Options) *Supervisor {
	if opts.Launcher == nil {
		opts.Launcher = ExecLauncher{}
	}
	if opts.Probe == nil {
		opts.Probe = OSProbe{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Supervisor{opts: opts}
}

// Start launches argv unless a sweep is already live, in which case it
// reports running without launching.
func (s *Supervisor) Start(argv []string) (StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := fsutil.AcquireLock(s.opts.JobPath + ".lock")
	if err != nil {
		if errors.Is(err, fsutil.ErrLocked) {
			return StartResult{Status: StatusRunning}, nil
		}
		return StartResult{}, fmt.Errorf("SUP_LOCK: %w", err)
	}
	defer lock.Release()

	if st := s.status(); st.Running {
		return StartResult{Status: StatusRunning, Job: st.Job}, nil
	}

	started := s.opts.Now()
	proc, err := s.opts.Launcher.Launch(argv, s.opts.LogPath)
	if err != nil {
		return StartResult{}, err
	}
	job := store.Job{
		PID:       proc.Pid(),
		StartedAt: store.UnixSeconds(started),
		Command:   append([]string(nil), argv...),
		Log:       s.opts.LogPath,
		Report:    s.opts.ReportPath,
	}
	c := &child{pid: job.PID, done: make(chan struct{})}
	go func() {
		code, err := proc.Wait()
		if err != nil {
			s.opts.Logger.Warn("sweep wait failed", "pid", c.pid, "err", err)
		}
		c.exitCode = code
		close(c.done)
		s.opts.Logger.Info("sweep exited", "pid", c.pid, "exit", code)
	}()
	s.current = c
	s.opts.Logger.Info("sweep started", "pid", job.PID, "log", job.Log)

	res := StartResult{Status: StatusStarted, Job: &job}
	if err := store.SaveJob(s.opts.JobPath, job); err != nil {
		return res, fmt.Errorf("SUP_JOB_SAVE: %w", err)
	}
	return res, nil
}

func (s *Supervisor) Status() JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status()
}

func (s *Supervisor) status() JobStatus {
	job, ok := store.LoadJob(s.opts.JobPath)
	if !ok {
		return JobStatus{}
	}
	st := JobStatus{Job: &job, Running: s.opts.Probe.Alive(job.PID, job.Started())}
	if c := s.current; c != nil && c.pid == job.PID {
		select {
		case <-c.done:
			code := c.exitCode
			st.Running = false
			st.ExitCode = &code
		default:
		}
	}
	return st
}

// Wait blocks until the sweep launched by this supervisor exits or timeout
// elapses, and reports whether it exited.
func (s *Supervisor) Wait(timeout time.Duration) bool {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil {
		return true
	}
	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
