package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/user-provisioner/internal/account"
	"github.com/cuongbtq/user-provisioner/internal/bootstrap"
	"github.com/cuongbtq/user-provisioner/internal/config"
	"github.com/cuongbtq/user-provisioner/internal/importer"
	"github.com/cuongbtq/user-provisioner/internal/scheduler"
	"github.com/cuongbtq/user-provisioner/internal/scheduler/storage"
)

const maxPrintedProblems = 20

// optionFlags are the flags that map onto importer.Options keys
var optionFlags = []string{"role", "group", "now", "step", "lead", "delimiter", "limit", "match", "idcol", "meta-mode", "dry-run"}

type rootOptions struct {
	configPath string
	asJSON     bool
}

func newRootCmd() *cobra.Command {
	var ro rootOptions

	defaultConfigPath := os.Getenv("IMPORTCTL_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/importctl/config.yaml"
	}

	root := &cobra.Command{
		Use:           "importctl",
		Short:         "Schedule user provisioning jobs from CSV files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&ro.configPath, "config", defaultConfigPath, "Path to configuration file")
	root.PersistentFlags().BoolVar(&ro.asJSON, "json", false, "Print the report as JSON")

	root.AddCommand(
		newImportCmd(&ro, "core", "Schedule one user-creation job per CSV row"),
		newImportCmd(&ro, "meta", "Schedule one metadata-update job per CSV row"),
	)

	return root
}

func newImportCmd(ro *rootOptions, kind, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   kind + " <file.csv> [key=value ...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, ro, kind, args)
		},
	}

	f := cmd.Flags()
	f.String("role", "", "Role for created users (core)")
	f.String("group", "", "Job group label")
	f.Bool("now", false, "Run metadata jobs without the default lead time (meta)")
	f.String("step", "", "Spacing between jobs, seconds or a duration")
	f.String("lead", "", "Delay before the first metadata job, seconds or a duration (meta)")
	f.String("delimiter", "", `CSV delimiter, e.g. ";" or "\t"`)
	f.Int("limit", 0, "Stop after this many scheduled jobs (0 = no limit)")
	f.String("match", "", "Identity column for metadata rows: by-login, by-email or by-id (meta)")
	f.String("idcol", "", "Explicit identity column header (meta)")
	f.String("meta-mode", "", "allowlist or open (meta)")
	f.Bool("dry-run", false, "Map rows and report without scheduling")

	return cmd
}

func runImport(cmd *cobra.Command, ro *rootOptions, kind string, args []string) error {
	ctx := cmd.Context()

	path, positional, err := importer.SplitArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(ro.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts, err := resolveOptions(cmd, cfg, kind, positional, os.Getenv("ROLE"))
	if err != nil {
		return err
	}

	if !opts.DryRun {
		if err := cfg.ValidateCLIConfig(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	// stdout carries the report
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open csv: %w", err)
	}
	defer file.Close()

	var im *importer.Importer
	if opts.DryRun {
		im = importer.New(nil, nil, appLogger.Logger)
	} else {
		dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		sched := scheduler.New(storage.NewStorage(dbClient.GetDB(), appLogger.Logger), scheduler.Config{
			MaxRetries:     cfg.Scheduler.MaxRetries,
			TimeoutSeconds: cfg.Scheduler.TimeoutSeconds,
		}, appLogger.Logger)
		im = importer.New(sched, account.NewPostgresStore(dbClient.GetDB(), appLogger.Logger), appLogger.Logger)
	}

	if err := importAndReport(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), im, kind, file, opts, ro.asJSON); err != nil {
		return err
	}

	appLogger.Info("importctl finished", slog.String("kind", kind), slog.String("file", path))
	return nil
}

// importAndReport runs one import and prints its report. Only file-level
// errors fail the run; rows that could not be scheduled are a warning.
func importAndReport(ctx context.Context, out, errOut io.Writer, im *importer.Importer, kind string, r io.Reader, opts importer.Options, asJSON bool) error {
	report, err := runKind(ctx, im, kind, r, opts)
	if err != nil {
		return err
	}

	if err := printReport(out, report, asJSON); err != nil {
		return err
	}

	if report.Failed > 0 {
		fmt.Fprintf(errOut, "warning: %d row(s) could not be scheduled\n", report.Failed)
	}
	return nil
}

func runKind(ctx context.Context, im *importer.Importer, kind string, r io.Reader, opts importer.Options) (*importer.Report, error) {
	if kind == "core" {
		return im.ImportCore(ctx, r, opts)
	}
	return im.ImportMeta(ctx, r, opts)
}

// resolveOptions layers option sources. Later layers win:
// config defaults, the ROLE environment variable, key=value arguments, flags.
func resolveOptions(cmd *cobra.Command, cfg *config.Config, kind string, positional map[string]string, envRole string) (importer.Options, error) {
	core, meta, err := bootstrap.ImportDefaults(&cfg.Import)
	if err != nil {
		return importer.Options{}, err
	}

	opts := meta
	if kind == "core" {
		opts = core
		if envRole = strings.TrimSpace(envRole); envRole != "" {
			opts.Role = envRole
		}
	}

	for key, value := range positional {
		if err := opts.Set(key, value); err != nil {
			return importer.Options{}, err
		}
	}

	for _, name := range optionFlags {
		if !cmd.Flags().Changed(name) {
			continue
		}
		if err := opts.Set(name, cmd.Flags().Lookup(name).Value.String()); err != nil {
			return importer.Options{}, err
		}
	}

	return opts, nil
}

func printReport(w io.Writer, report *importer.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	mode := ""
	if report.DryRun {
		mode = " (dry run)"
	}

	fmt.Fprintf(w, "%s import%s: group=%s rows=%d scheduled=%d skipped=%d not_found=%d failed=%d\n",
		report.Kind, mode, report.Group, report.Rows, report.Scheduled, report.Skipped, report.NotFound, report.Failed)

	if report.Scheduled > 0 {
		fmt.Fprintf(w, "run window: %d .. %d\n", report.FirstRun, report.LastRun)
	}
	if report.Limited {
		fmt.Fprintln(w, "stopped early: limit reached")
	}

	for i, p := range report.Problems {
		if i == maxPrintedProblems {
			fmt.Fprintf(w, "... %d more\n", len(report.Problems)-maxPrintedProblems)
			break
		}
		if p.Detail != "" {
			fmt.Fprintf(w, "line %d: %s (%s)\n", p.Line, p.Reason, p.Detail)
		} else {
			fmt.Fprintf(w, "line %d: %s\n", p.Line, p.Reason)
		}
	}

	return nil
}
