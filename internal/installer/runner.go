package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// TimeoutExitCode is reported when an install attempt exceeds its deadline.
const TimeoutExitCode = 124

// Request is one install attempt for a (path, ref) pair.
type Request struct {
	Repo   string
	Path   string
	Ref    string
	Dest   string
	Method string
}

type Attempt struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Message is the diagnostic text recorded for a failed attempt.
func (a Attempt) Message() string {
	if msg := strings.TrimSpace(a.Stderr); msg != "" {
		return msg
	}
	return strings.TrimSpace(a.Stdout)
}

// Runner invokes the external installer.
type Runner interface {
	Install(ctx context.Context, req Request) Attempt
}

// ExecRunner runs Command followed by the installer flags. Each invocation
// is bounded by Timeout.
type ExecRunner struct {
	Command []string
	Timeout time.Duration
}

func (r ExecRunner) Install(ctx context.Context, req Request) Attempt {
	if len(r.Command) == 0 {
		return Attempt{ExitCode: 127, Stderr: "installer command is empty"}
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append([]string(nil), r.Command[1:]...)
	args = append(args,
		"--repo", req.Repo,
		"--path", req.Path,
		"--dest", req.Dest,
		"--method", req.Method,
		"--ref", req.Ref,
	)
	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Attempt{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.ExitCode = TimeoutExitCode
		if strings.TrimSpace(out.Stderr) == "" {
			out.Stderr = fmt.Sprintf("timeout after %ds", int(r.Timeout.Seconds()))
		}
		return out
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		out.ExitCode = exitErr.ExitCode()
		return out
	}
	out.ExitCode = 127
	if strings.TrimSpace(out.Stderr) == "" {
		out.Stderr = err.Error()
	}
	return out
}

// ScriptPath returns the last argv element that names a file path, which is
// the installer script for interpreter-style commands such as
// "python3 ~/path/install.py". It is empty when no element looks like a path.
func ScriptPath(argv []string) string {
	for i := len(argv) - 1; i >= 0; i-- {
		if strings.ContainsRune(argv[i], '/') {
			return argv[i]
		}
	}
	return ""
}
