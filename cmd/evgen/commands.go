package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"evgenkit/internal/config"
	"evgenkit/internal/core"
	"evgenkit/internal/telemetry"
	"evgenkit/pkg/iface"
)

// app holds what every subcommand needs. It is built before a subcommand runs
// and released afterwards.
type app struct {
	svc     *core.Service
	log         zerolog.Logger
	metrics     *telemetry.Metrics
	metricsFile string
	closers     []io.Closer
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, logCloser, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	a := &app{
		log:         log,
		metrics:     telemetry.NewMetrics(cfg.Metrics.Namespace),
		metricsFile: cfg.Metrics.File,
		closers:     []io.Closer{logCloser},
	}
	if f := cmd.Flag("metrics-file"); f != nil && f.Changed {
		a.metricsFile = f.Value.String()
	}
	snapshots, closer, err := core.OpenSnapshotStore(cmd.Context(), cfg)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	a.closers = append(a.closers, closer)
	archives, err := core.OpenArchive(cmd.Context(), cfg)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open archive: %w", err)
	}
	a.svc, err = core.NewService(
		core.WithLogger(log),
		core.WithMetrics(a.metrics),
		core.WithSnapshotStore(snapshots),
		core.WithArchive(archives),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Close writes the metrics file, if one is configured, and releases the
// stores in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	if a.metricsFile != "" && a.metrics != nil {
		errs = append(errs, a.metrics.WriteFile(a.metricsFile))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// newRootCommand builds the command tree. The returned release func must run
// after execution, whether or not the command failed.
func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) (*cobra.Command, func() error) {
	var a *app
	root := &cobra.Command{
		Use:           "evgen",
		Short:         "Build, store and run evgenkit repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			a, err = openApp(cmd)
			return err
		},
	}
	root.PersistentFlags().String("metrics-file", "", "write prometheus metrics to this file after the command (overrides EVGENKIT_METRICS_FILE)")
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	get := func() *app { return a }
	root.AddCommand(
		newExecCommand(get),
		newRunCommand(get),
		newSnapshotsCommand(get),
		newRunsCommand(get),
		newDescribeCommand(get),
		newRestoreCommand(get),
	)
	release := func() error {
		if a == nil {
			return nil
		}
		err := a.Close()
		a = nil
		return err
	}
	return root, release
}

func newExecCommand(get func() *app) *cobra.Command {
	var load, save string
	cmd := &cobra.Command{
		Use:   "exec <script>...",
		Short: "Run command scripts against the repository",
		Long: `Run repository command scripts in order. A script named "-" is read
from standard input. Execution stops at the first failing line.`,
		Example: `  # Build a setup and store it
  evgen exec setup.in --save baseline

  # Extend a stored setup
  evgen exec tweaks.in --load baseline --save tuned`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			if load != "" {
				if err := a.svc.LoadRepository(ctx, load); err != nil {
					return err
				}
			}
			for _, path := range args {
				out, err := execScript(cmd, a.svc, path)
				for _, line := range out {
					if line != "" {
						fmt.Fprintln(cmd.OutOrStdout(), line)
					}
				}
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			if save != "" {
				if err := a.svc.SaveRepository(ctx, save); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d objects)\n", save, a.svc.Repository().Len())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&load, "load", "", "snapshot to load before the scripts run")
	cmd.Flags().StringVar(&save, "save", "", "snapshot name to store the repository under")
	return cmd
}

func execScript(cmd *cobra.Command, svc *core.Service, path string) ([]string, error) {
	if path == "-" {
		return svc.ExecScript(cmd.Context(), cmd.InOrStdin())
	}
	f, err := os.Open(path) //nolint:gosec // script paths come from the command line
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return svc.ExecScript(cmd.Context(), f)
}

func newRunCommand(get func() *app) *cobra.Command {
	var (
		archiveRun bool
		printIface string
	)
	cmd := &cobra.Command{
		Use:     "run <snapshot> <path>",
		Short:   "Isolate an object from a snapshot and run it",
		Example: `  evgen run baseline /Gen/Main --archive`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			if err := a.svc.LoadRepository(ctx, args[0]); err != nil {
				return err
			}
			started := time.Now()
			run, runErr := a.svc.Run(ctx, args[1])
			if run == nil {
				return runErr
			}
			out := cmd.OutOrStdout()
			status := "finished"
			if runErr != nil {
				status = "failed"
			}
			fmt.Fprintf(out, "run %s %s: %d objects in %s\n", run.ID, status, run.Len(), time.Since(started).Round(time.Millisecond))
			if printIface != "" {
				root := run.RootEntity()
				if _, ok := a.svc.Interfaces().Find(root.Interfaced().ClassName(), printIface); ok {
					text, err := run.Exec(printIface, iface.Call{Action: iface.ActionDo, Index: iface.NoIndex})
					if err != nil {
						return err
					}
					if text != "" {
						fmt.Fprintln(out, text)
					}
				}
			}
			if archiveRun {
				info, err := a.svc.ArchiveRun(ctx, run)
				if err != nil {
					return errors.Join(runErr, err)
				}
				fmt.Fprintf(out, "archived %s (%d bytes)\n", info.Key, info.Size)
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&archiveRun, "archive", false, "store the finished run in the run archive")
	cmd.Flags().StringVar(&printIface, "print", "PrintLog", "root command whose output is printed after the run")
	return cmd
}

func newSnapshotsCommand(get func() *app) *cobra.Command {
	var remove string
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List stored repository snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			if remove != "" {
				ok, err := a.svc.DeleteSnapshot(cmd.Context(), remove)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("snapshot %s not found", remove)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", remove)
				return nil
			}
			infos, err := a.svc.ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tUPDATED")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Name, info.Size, info.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&remove, "delete", "", "delete the named snapshot instead of listing")
	return cmd
}

func newRunsCommand(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List archived runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := get().svc.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tROOT\tSIZE\tMODIFIED")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", info.Key, info.Metadata["root"], info.Size, info.LastModified.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newDescribeCommand(get func() *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "describe [class]",
		Short: "Describe the loadable classes and their interfaces",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.svc.LoadAll(); err != nil {
				return err
			}
			var only string
			if len(args) == 1 {
				only = args[0]
			}
			cat, err := buildCatalog(a.svc, only)
			if err != nil {
				return err
			}
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(cat); err != nil {
					return err
				}
				return enc.Close()
			case "text":
				_, err := io.WriteString(cmd.OutOrStdout(), cat.text())
				return err
			default:
				return fmt.Errorf("unknown format %q (want yaml or text)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: yaml or text")
	return cmd
}

func newRestoreCommand(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <archive-key>",
		Short: "Read an archived run back and list its objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := get().svc.RestoreRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			root := run.RootEntity().Interfaced()
			fmt.Fprintf(out, "run %s root %s [%s]\n", run.ID, root.Name(), root.ClassName())
			for _, name := range run.Names() {
				e, _ := run.Lookup(name)
				fmt.Fprintf(out, "  %s [%s] %s\n", name, e.Interfaced().ClassName(), e.Interfaced().State())
			}
			fmt.Fprintf(out, "classes: %s\n", strings.Join(run.Classes(), ", "))
			return nil
		},
	}
}
