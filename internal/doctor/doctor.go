package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"skillatlas/internal/config"
	"skillatlas/internal/installer"
	"skillatlas/internal/source"
	"skillatlas/internal/store"
)

type Finding struct {
	Code    string `json:"code"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type Report struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

type Service struct {
	ConfigPath string
	Config     config.Config
	Paths      config.Paths
}

func (s *Service) Run(_ context.Context) Report {
	findings := []Finding{}
	add := func(code, level, msg string) {
		findings = append(findings, Finding{Code: code, Level: level, Message: msg})
	}

	if _, err := os.Stat(s.ConfigPath); err != nil {
		add("DOC_CONFIG_MISSING", "error", err.Error())
	} else if _, err := config.Load(s.ConfigPath); err != nil {
		add("DOC_CONFIG_INVALID", "error", err.Error())
	}

	argv := config.ExpandCommand(s.Config.Installer.Command)
	if script := installer.ScriptPath(argv); script != "" {
		if _, err := os.Stat(script); err != nil {
			add("INS_NOT_FOUND", "error", "installer not found: "+script)
		}
	}

	if err := checkWritable(s.Paths.Dest); err != nil {
		add("DOC_DEST_UNWRITABLE", "error", err.Error())
	}

	if _, err := store.LoadState(s.Paths.State); err != nil {
		add("DOC_STATE_INVALID", "warn", err.Error()+" (state will be reset on next sweep)")
	}
	if _, err := store.LoadReport(s.Paths.Report); err != nil && !errors.Is(err, store.ErrNotAvailable) {
		add("DOC_REPORT_INVALID", "warn", err.Error())
	}

	for _, l := range s.Config.Links {
		if !l.Enabled {
			continue
		}
		dir, err := config.ExpandPath(l.Dir)
		if err != nil {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			add("LNK_DIR_MISSING", "warn", fmt.Sprintf("%s link directory %s does not exist; links will be skipped", l.Name, dir))
		}
	}

	if source.TokenFromEnv(s.Config.Lookup.TokenEnv) == "" {
		add("LKP_TOKEN_MISSING", "info", "no hosting API token set; tree lookups are rate limited")
	}

	healthy := true
	for _, f := range findings {
		if f.Level == "error" {
			healthy = false
			break
		}
	}
	return Report{Healthy: healthy, Findings: findings}
}

// checkWritable creates dir if needed and probes it with a temp file.
func checkWritable(dir string) error {
	if dir == "" {
		return errors.New("destination is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}
