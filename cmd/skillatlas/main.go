package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"skillatlas/internal/app"
	"skillatlas/internal/registry"
	"skillatlas/internal/statusapi"
	"skillatlas/internal/supervisor"
)

type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ex, ok := err.(ExitCoder); ok {
			os.Exit(ex.ExitCode())
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var jsonOutput bool

	newSvc := func() (*app.Service, error) {
		return app.New(app.Options{ConfigPath: configPath})
	}

	cmd := &cobra.Command{
		Use:           "skillatlas",
		Short:         "Bulk installer for registry-listed agent skills",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")

	cmd.AddCommand(newSweepCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newServeCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newJobCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newStateCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newReportCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newLogCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newDoctorCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newPathsCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newVersionCmd(newSvc, &jsonOutput))

	return cmd
}

// sweepFlags are shared by "sweep" and "job start"; durations are whole
// seconds so they survive the round trip through a background command line.
type sweepFlags struct {
	limit          int
	view           string
	resolveMissing bool
	refresh        bool
	timeBudget     int
	cmdTimeout     int
	noLink         []string
}

func (f *sweepFlags) register(cmd *cobra.Command, def app.InstallRequest) {
	cmd.Flags().IntVar(&f.limit, "limit", def.Limit, "number of registry skills to process")
	cmd.Flags().StringVar(&f.view, "view", def.View, "registry view: "+strings.Join(registry.ValidViews(), "|"))
	cmd.Flags().BoolVar(&f.resolveMissing, "resolve-missing", def.ResolveMissing, "query the repository tree when direct paths fail")
	cmd.Flags().BoolVar(&f.refresh, "refresh", def.Refresh, "remove and reinstall skills that already exist")
	cmd.Flags().IntVar(&f.timeBudget, "time-budget", def.TimeBudget, "stop between skills after this many seconds (0 = unlimited)")
	cmd.Flags().IntVar(&f.cmdTimeout, "cmd-timeout", def.CmdTimeout, "per-install command timeout in seconds")
}

func (f *sweepFlags) validate() error {
	if f.limit <= 0 {
		return fmt.Errorf("SWP_ARGS: --limit must be positive")
	}
	if !registry.IsValidView(f.view) {
		return fmt.Errorf("SWP_ARGS: unknown view %q (want %s)", f.view, strings.Join(registry.ValidViews(), "|"))
	}
	if f.timeBudget < 0 || f.cmdTimeout < 0 {
		return fmt.Errorf("SWP_ARGS: --time-budget and --cmd-timeout must not be negative")
	}
	return nil
}

func (f *sweepFlags) options() app.SweepOptions {
	return app.SweepOptions{
		Limit:          f.limit,
		View:           strings.ToLower(f.view),
		ResolveMissing: f.resolveMissing,
		Refresh:        f.refresh,
		TimeBudget:     time.Duration(f.timeBudget) * time.Second,
		CommandTimeout: time.Duration(f.cmdTimeout) * time.Second,
		NoLink:         f.noLink,
	}
}

func (f *sweepFlags) request() app.InstallRequest {
	return app.InstallRequest{
		Limit:          f.limit,
		View:           strings.ToLower(f.view),
		ResolveMissing: f.resolveMissing,
		Refresh:        f.refresh,
		TimeBudget:     f.timeBudget,
		CmdTimeout:     f.cmdTimeout,
	}
}

func newSweepCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	flags := &sweepFlags{}
	cmd := &cobra.Command{
		Use:     "sweep",
		Aliases: []string{"install", "run"},
		Short:   "Install every skill listed by the registry",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			res, err := svc.Sweep(ctx, flags.options())
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, res, "")
			}
			if res.BudgetExhausted {
				fmt.Printf("time budget exhausted after %d of %d skills\n", res.Processed, res.Listed)
			}
			return nil
		},
	}
	// A foreground sweep resolves missing paths only when asked; background
	// requests default to resolving.
	def := app.DefaultInstallRequest()
	def.ResolveMissing = false
	flags.register(cmd, def)
	cmd.Flags().StringSliceVar(&flags.noLink, "no-link", nil, "consumer link names to skip (repeatable)")
	return cmd
}

func newServeCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var host string
	var port int
	var uiDir string
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server", "ui"},
		Short:   "Serve installer status over HTTP",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			opts := statusapi.Options{
				Backend: svc,
				Host:    svc.Config.Server.Host,
				Port:    svc.Config.Server.Port,
				UIDir:   svc.Config.Server.UIDir,
				Logger:  svc.Logger,
			}
			if cmd.Flags().Changed("host") {
				opts.Host = host
			}
			if cmd.Flags().Changed("port") {
				opts.Port = port
			}
			if cmd.Flags().Changed("ui-dir") {
				opts.UIDir = uiDir
			}
			srv, err := statusapi.New(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := srv.Start(ctx); err != nil {
				return err
			}
			if err := print(*jsonOutput, map[string]string{"addr": srv.Addr()}, "listening on http://"+srv.Addr()); err != nil {
				return err
			}
			<-ctx.Done()
			return srv.Close()
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	cmd.Flags().StringVar(&uiDir, "ui-dir", "", "static UI directory served at /")
	return cmd
}

func newJobCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	jobCmd := &cobra.Command{Use: "job", Aliases: []string{"jobs", "bg"}, Short: "Manage the background sweep"}

	flags := &sweepFlags{}
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Launch a background sweep unless one is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.StartJob(flags.request())
			if err != nil {
				return err
			}
			return print(*jsonOutput, res, fmt.Sprintf("%s pid=%d log=%s", res.Status, res.PID, res.Log))
		},
	}
	flags.register(startCmd, app.DefaultInstallRequest())

	statusCmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"show", "st"},
		Short:   "Show background sweep status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			st := svc.JobStatus()
			return print(*jsonOutput, st, jobStatusLine(st))
		},
	}

	jobCmd.AddCommand(startCmd, statusCmd)
	return jobCmd
}

func jobStatusLine(st supervisor.JobStatus) string {
	if st.Job == nil {
		return "no job"
	}
	switch {
	case st.Running:
		return fmt.Sprintf("running pid=%d log=%s", st.PID, st.Log)
	case st.ExitCode != nil:
		return fmt.Sprintf("exited pid=%d code=%d log=%s", st.PID, *st.ExitCode, st.Log)
	default:
		return fmt.Sprintf("not running pid=%d log=%s", st.PID, st.Log)
	}
}

func newStateCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	stateCmd := &cobra.Command{Use: "state", Short: "Inspect or reset the installer state"}

	showCmd := &cobra.Command{
		Use:     "show",
		Aliases: []string{"ls", "list"},
		Short:   "Show the skip set and path cache",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			snap := svc.State()
			if *jsonOutput {
				return print(true, snap, "")
			}
			if snap.Warning != "" {
				fmt.Printf("warning: %s\n", snap.Warning)
			}
			fmt.Printf("state: %s\n", snap.Path)
			fmt.Printf("skipped ids: %d\n", len(snap.SkipIDs))
			for _, id := range snap.SkipIDs {
				fmt.Printf("- %s\n", id)
			}
			fmt.Printf("cached paths: %d\n", len(snap.PathCache))
			return nil
		},
	}

	var keepPaths bool
	resetCmd := &cobra.Command{
		Use:     "reset",
		Aliases: []string{"clear"},
		Short:   "Clear the skip set so skipped skills are retried",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.ResetState(keepPaths)
			if err != nil {
				return err
			}
			return print(*jsonOutput, res, fmt.Sprintf("cleared skips=%d paths=%d", res.SkipsCleared, res.PathsCleared))
		},
	}
	resetCmd.Flags().BoolVar(&keepPaths, "keep-paths", false, "keep the resolved path cache")

	stateCmd.AddCommand(showCmd, resetCmd)
	return stateCmd
}

func newReportCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show the last sweep report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			rep, err := svc.Report()
			if err != nil {
				return &exitError{code: 2, msg: "RPT_NOT_FOUND: report not found"}
			}
			if *jsonOutput {
				return print(true, rep, "")
			}
			fmt.Printf("installed: %d\n", len(rep.Installed))
			fmt.Printf("skipped: %d\n", len(rep.Skipped))
			for _, e := range rep.Skipped {
				fmt.Printf("- %s (%s): %s\n", e.ID, e.Repo, e.Reason)
			}
			fmt.Printf("failed: %d\n", len(rep.Failed))
			for _, e := range rep.Failed {
				fmt.Printf("- %s (%s): %s\n", e.ID, e.Repo, e.Reason)
			}
			return nil
		},
	}
}

func newLogCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:     "log",
		Aliases: []string{"logs", "tail"},
		Short:   "Show the tail of the background sweep log",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			text, err := svc.LogTail(lines)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, map[string]string{"log": text}, "")
			}
			fmt.Print(text)
			if text != "" && !strings.HasSuffix(text, "\n") {
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 120, "number of trailing lines")
	return cmd
}

func newDoctorCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag", "checkup"},
		Short:   "Run diagnostics",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report := svc.DoctorRun(context.Background())
			if *jsonOutput {
				return print(true, report, "")
			}
			if report.Healthy && len(report.Findings) == 0 {
				fmt.Println("healthy")
				return nil
			}
			if report.Healthy {
				fmt.Println("healthy with notes:")
			} else {
				fmt.Println("issues found:")
			}
			for _, f := range report.Findings {
				fmt.Printf("- [%s] %s: %s\n", f.Level, f.Code, f.Message)
			}
			return nil
		},
	}
}

func newPathsCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show workspace and document locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			info := svc.PathsInfo()
			if *jsonOutput {
				return print(true, map[string]any{
					"workspace": info,
					"documents": map[string]string{
						"config": svc.ConfigPath,
						"state":  svc.Paths.State,
						"report": svc.Paths.Report,
						"log":    svc.Paths.Log,
						"job":    svc.Paths.Job,
						"audit":  svc.Paths.Audit,
					},
				}, "")
			}
			fmt.Printf("root: %s\ncustom: %s\nshared: %s\nagents: %s\n", info.Root, info.Custom, info.Shared, info.Agents)
			fmt.Printf("config: %s\nstate: %s\nreport: %s\nlog: %s\njob: %s\n", svc.ConfigPath, svc.Paths.State, svc.Paths.Report, svc.Paths.Log, svc.Paths.Job)
			return nil
		},
	}
}

func print(jsonOutput bool, payload any, message string) error {
	if jsonOutput {
		blob, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	}
	if message != "" {
		fmt.Println(message)
	}
	return nil
}
