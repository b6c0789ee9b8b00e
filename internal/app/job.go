package app

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"skillatlas/internal/registry"
	"skillatlas/internal/supervisor"
)

// InstallRequest is the body of a background sweep request.
type InstallRequest struct {
	Limit          int    `json:"limit"`
	View           string `json:"view"`
	ResolveMissing bool   `json:"resolveMissing"`
	Refresh        bool   `json:"refresh"`
	// TimeBudget and CmdTimeout are whole seconds.
	TimeBudget int `json:"timeBudget"`
	CmdTimeout int `json:"cmdTimeout"`
}

// UnmarshalJSON decodes a request object over the receiver's current values.
// Numbers may arrive as JSON numbers (fractions truncate) or numeric strings,
// and flags as booleans, numbers or strings. Absent and null fields keep
// their current value.
func (r *InstallRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ints := map[string]*int{"limit": &r.Limit, "timeBudget": &r.TimeBudget, "cmdTimeout": &r.CmdTimeout}
	for name, dst := range ints {
		v, ok := raw[name]
		if !ok || v == nil {
			continue
		}
		n, err := looseInt(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}
	bools := map[string]*bool{"resolveMissing": &r.ResolveMissing, "refresh": &r.Refresh}
	for name, dst := range bools {
		v, ok := raw[name]
		if !ok || v == nil {
			continue
		}
		b, err := looseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
	}
	if v, ok := raw["view"]; ok && v != nil {
		view, ok := v.(string)
		if !ok {
			return fmt.Errorf("view: expected string, got %T", v)
		}
		r.View = strings.ToLower(strings.TrimSpace(view))
	}
	return nil
}

func looseInt(v any) (int, error) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("invalid number")
		}
		return int(x), nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.Atoi(s); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("invalid number %q", x)
		}
		return int(f), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func looseBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		return x != 0, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return false, fmt.Errorf("invalid flag %q", x)
		}
		return b, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

func DefaultInstallRequest() InstallRequest {
	return InstallRequest{Limit: 80, View: "all-time", ResolveMissing: true, CmdTimeout: 40}
}

// SweepArgs is the command line that runs req in a separate process.
func (s *Service) SweepArgs(req InstallRequest) []string {
	def := DefaultInstallRequest()
	if req.Limit <= 0 {
		req.Limit = def.Limit
	}
	if req.View == "" || !registry.IsValidView(req.View) {
		req.View = def.View
	}
	if req.CmdTimeout <= 0 {
		req.CmdTimeout = def.CmdTimeout
	}
	argv := []string{
		s.executable,
		"--config", s.ConfigPath,
		"sweep",
		"--limit", strconv.Itoa(req.Limit),
		"--view", req.View,
		"--cmd-timeout", strconv.Itoa(req.CmdTimeout),
	}
	if req.ResolveMissing {
		argv = append(argv, "--resolve-missing")
	}
	if req.Refresh {
		argv = append(argv, "--refresh")
	}
	if req.TimeBudget > 0 {
		argv = append(argv, "--time-budget", strconv.Itoa(req.TimeBudget))
	}
	return argv
}

// StartJob launches a background sweep unless one is already live.
func (s *Service) StartJob(req InstallRequest) (supervisor.StartResult, error) {
	return s.Supervisor.Start(s.SweepArgs(req))
}

func (s *Service) JobStatus() supervisor.JobStatus {
	return s.Supervisor.Status()
}
