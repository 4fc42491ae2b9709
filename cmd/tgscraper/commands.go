package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"tgscraper/internal/app"
	"tgscraper/internal/config"
	logx "tgscraper/pkg/logx"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

// exitError carries a process status out of a cobra RunE.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	var ee exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ee):
		return ee.code
	default:
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "tgscraper",
		Short:         "Scrape public Telegram channels on a fixed interval",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScraper(cmd.Context(), cfgPath, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", envOr("TGSCRAPER_CONFIG", "./config.yaml"),
		"path to the config file (.yaml, .json or .toml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the scrape loop until SIGINT/SIGTERM",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScraper(cmd.Context(), cfgPath, stderr)
			},
		},
		newCheckCmd(&cfgPath),
		newVersionCmd(),
	)
	return root
}

func runScraper(ctx context.Context, cfgPath string, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(cfgPath)
	if err != nil {
		logx.NewJSON(stderr, "info").Error("fatal startup error", logx.String("config", cfgPath), logx.Err(err))
		return exitError{code: 1}
	}
	if code := app.ExitCode(a.Run(ctx)); code != 0 {
		return exitError{code: code}
	}
	return nil
}

func newCheckCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and print the resolved channel registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Parse()
			if err != nil {
				return fmt.Errorf("config %s: %w", *cfgPath, err)
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			schedule := cfg.Scrape.EffectiveSchedule()
			if schedule == "" {
				schedule = "every " + cfg.Scrape.IntervalDuration().String()
			}
			if cfg.Scrape.ScheduleOverridden() {
				schedule += fmt.Sprintf(" (%s overrides scrape.schedule %q)", config.IntervalEnv, cfg.Scrape.Schedule)
			}
			fmt.Fprintf(out, "config:   %s\n", *cfgPath)
			fmt.Fprintf(out, "schedule: %s\n", schedule)
			fmt.Fprintf(out, "cooldown: %s\n", cfg.Scrape.CooldownDuration())
			fmt.Fprintf(out, "storage:  %s\n", cfg.Storage.Driver)
			fmt.Fprintf(out, "channels: %d\n", reg.Len())
			for _, it := range reg.Items() {
				fmt.Fprintf(out, "  - %s (max_pages=%d)\n", it.Name, it.Config.MaxPages)
			}
			if reg.Empty() {
				fmt.Fprintln(out, "warning: no channels configured; run would exit immediately")
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := map[string]string{
				"version":  version,
				"commit":   commit,
				"go":       runtime.Version(),
				"platform": runtime.GOOS + "/" + runtime.GOARCH,
			}
			out := cmd.OutOrStdout()
			if format == "json" {
				b, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(b))
				return nil
			}
			fmt.Fprintf(out, "tgscraper %s (commit %s, %s, %s)\n", info["version"], info["commit"], info["go"], info["platform"])
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Output format (json)")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
