package installer

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestExecRunnerPassesInstallerFlags(t *testing.T) {
	r := ExecRunner{Command: []string{"sh", "-c", `echo "$@"; echo oops >&2; exit 3`, "installer"}, Timeout: 5 * time.Second}
	a := r.Install(context.Background(), Request{Repo: "acme/foo", Path: "skills/foo", Ref: "main", Dest: "/tmp/d", Method: "git"})
	if a.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d (%s)", a.ExitCode, a.Stderr)
	}
	want := "--repo acme/foo --path skills/foo --dest /tmp/d --method git --ref main"
	if strings.TrimSpace(a.Stdout) != want {
		t.Fatalf("unexpected argv %q", a.Stdout)
	}
	if a.Message() != "oops" {
		t.Fatalf("unexpected message %q", a.Message())
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	r := ExecRunner{Command: []string{"sh", "-c", "sleep 5"}, Timeout: 200 * time.Millisecond}
	a := r.Install(context.Background(), Request{})
	if a.ExitCode != TimeoutExitCode {
		t.Fatalf("expected exit %d, got %d", TimeoutExitCode, a.ExitCode)
	}
	if !strings.HasPrefix(a.Stderr, "timeout after") {
		t.Fatalf("expected synthesized timeout message, got %q", a.Stderr)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	r := ExecRunner{Command: []string{"/nonexistent/installer"}}
	a := r.Install(context.Background(), Request{})
	if a.ExitCode == 0 || a.Message() == "" {
		t.Fatalf("expected start failure, got %+v", a)
	}
}

func TestScriptPath(t *testing.T) {
	cases := map[string][]string{
		"/opt/install.py": {"python3", "/opt/install.py"},
		"./bin/inst":      {"./bin/inst", "--verbose"},
		"":                {"installer"},
	}
	for want, argv := range cases {
		if got := ScriptPath(argv); got != want {
			t.Fatalf("ScriptPath(%v) = %q, want %q", argv, got, want)
		}
	}
}
