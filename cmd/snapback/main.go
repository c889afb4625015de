package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"snapback/internal/app"
	"snapback/internal/backup"
	"snapback/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a SnapbackApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "transfer", "list").
func newApp(cmd *cobra.Command, operation string) (*app.SnapbackApp, error) {
	defaults := app.GetDefaults()

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewSnapbackApp(cfg, operation, app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// selection collects the persistent selection flags and an optional NUMBER argument.
func selection(cmd *cobra.Command, args []string) (app.Selection, error) {
	configs, _ := cmd.Flags().GetStringSlice("backup-config")
	automatic, _ := cmd.Flags().GetBool("automatic")
	quiet, _ := cmd.Flags().GetBool("quiet")
	verbose, _ := cmd.Flags().GetBool("verbose")

	sel := app.Selection{
		Configs:   configs,
		Automatic: automatic,
		Quiet:     quiet,
		Verbose:   verbose,
	}
	if len(args) > 0 {
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil || n == 0 {
			return sel, fmt.Errorf("invalid snapshot number %q", args[0])
		}
		if len(configs) != 1 {
			return sel, fmt.Errorf("a snapshot number requires exactly one --backup-config")
		}
		sel.Number = uint(n)
	}
	return sel, nil
}

var rootCmd = &cobra.Command{
	Use:          "snapback",
	Short:        "Replicate snapper snapshots to a btrfs backup target",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults := app.GetDefaults()

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Backup configs: %s\n", cfg.BackupConfigDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults := app.GetDefaults()

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return err
		}

		fmt.Printf("config_path:        %s\n", defaults["config_path"])
		fmt.Printf("base_dir:           %s\n", cfg.BaseDir)
		fmt.Printf("log_dir:            %s\n", cfg.LogDir)
		fmt.Printf("backup_config_dir:  %s\n", cfg.BackupConfigDir)
		fmt.Printf("snapper_config_dir: %s\n", cfg.SnapperConfigDir)
		fmt.Printf("database.type:      %s\n", cfg.Database.Type)
		if cfg.Database.DataDir != "" {
			fmt.Printf("database.data_dir:  %s\n", cfg.Database.DataDir)
		}
		return nil
	},
}

// configs command
var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "List backup configurations",
	RunE: func(cmd *cobra.Command, args []string) error {
		sel, err := selection(cmd, nil)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "configs")
		if err != nil {
			return err
		}
		defer a.Close()

		configs, err := a.BackupConfigs(sel)
		if err != nil {
			return err
		}
		if len(configs) == 0 {
			fmt.Println("No backup configurations.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, bc := range configs {
			target := bc.TargetPath
			if bc.IsRemote() {
				target = bc.SSHHost + ":" + bc.TargetPath
			}
			auto := ""
			if bc.Automatic {
				auto = "automatic"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", bc.Name, bc.Config, bc.SourcePath, target, auto)
		}
		return w.Flush()
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots and their replication state",
	RunE: func(cmd *cobra.Command, args []string) error {
		sel, err := selection(cmd, nil)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "list")
		if err != nil {
			return err
		}
		defer a.Close()

		sets, listErr := a.List(cmd.Context(), sel)

		tty := term.IsTerminal(int(os.Stdout.Fd()))
		for i, s := range sets {
			if i > 0 {
				fmt.Println()
			}
			printSet(s, tty)
		}
		return listErr
	},
}

// printSet writes one backup configuration's records. On a terminal the columns
// are aligned and dates are relative; otherwise one tab separated line per record.
func printSet(s *backup.SnapshotSet, tty bool) {
	if !tty {
		for _, r := range s.Records() {
			fmt.Printf("%s\t%d\t%s\t%s\t%s\n", s.Config().Name, r.Number, formatDate(r.Date, false), r.SourceState, r.TargetState)
		}
		return
	}

	fmt.Printf("%s:\n", s.Config().Name)
	records := s.Records()
	if len(records) == 0 {
		fmt.Println("  No snapshots.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  #\tDATE\tSOURCE\tTARGET")
	for _, r := range records {
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n", r.Number, formatDate(r.Date, true), r.SourceState, r.TargetState)
	}
	w.Flush()
}

func formatDate(t time.Time, relative bool) string {
	switch {
	case t.IsZero():
		return "-"
	case relative:
		return humanize.Time(t)
	default:
		return t.Format(time.RFC3339)
	}
}

// tree command
var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Show the source and target lineage of a backup configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, _ := cmd.Flags().GetStringSlice("backup-config")
		if len(configs) != 1 {
			return fmt.Errorf("tree requires exactly one --backup-config")
		}

		a, err := newApp(cmd, "tree")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Tree(cmd.Context(), configs[0], os.Stdout)
	},
}

// mutatingCommand builds transfer, restore and delete, which share their argument
// handling and differ only in the app method they call.
func mutatingCommand(use, short string, run func(*app.SnapbackApp, context.Context, app.Selection) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [NUMBER]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := selection(cmd, args)
			if err != nil {
				return err
			}

			a, err := newApp(cmd, use)
			if err != nil {
				return err
			}

			runErr := run(a, cmd.Context(), sel)
			if err := a.Close(); err != nil && runErr == nil {
				return err
			}
			return runErr
		},
	}
}

var transferCmd = mutatingCommand("transfer", "Copy snapshots from the source to the target",
	(*app.SnapbackApp).Transfer)

var restoreCmd = mutatingCommand("restore", "Copy snapshots from the target back to the source",
	(*app.SnapbackApp).Restore)

var deleteCmd = mutatingCommand("delete", "Delete snapshots from the target",
	(*app.SnapbackApp).Delete)

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		events, _ := cmd.Flags().GetBool("events")

		a, err := newApp(cmd, "history")
		if err != nil {
			return err
		}
		defer a.Close()

		if events {
			return printEvents(cmd, a, limit)
		}

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-10s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

func printEvents(cmd *cobra.Command, a *app.SnapbackApp, limit int) error {
	configs, _ := cmd.Flags().GetStringSlice("backup-config")
	if len(configs) > 1 {
		return fmt.Errorf("history --events accepts at most one --backup-config")
	}
	name := ""
	if len(configs) == 1 {
		name = configs[0]
	}

	events, err := a.GetEvents(name, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No snapshot events recorded.")
		return nil
	}

	for _, ev := range events {
		fmt.Printf("#%d  %s  %-10s  %5d  %-8s  %-7s  %s\n",
			ev.OperationID,
			ev.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			ev.BackupConfig,
			ev.Number,
			ev.Action,
			ev.Status,
			ev.Message,
		)
	}
	return nil
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// selection flags shared by every command
	rootCmd.PersistentFlags().StringSliceP("backup-config", "b", nil, "Backup configuration to work on (repeatable)")
	rootCmd.PersistentFlags().Bool("automatic", false, "Only backup configurations marked automatic")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Report skipped snapshots and log debug output to stderr")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(configsCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show")
	historyCmd.Flags().BoolP("events", "e", false, "Show per-snapshot events instead of operations")
}
