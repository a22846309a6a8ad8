package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sqlwarden/swd/internal/cli/ui"
	"github.com/sqlwarden/swd/internal/config"
	"github.com/sqlwarden/swd/internal/sqljob"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and run SQL jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job definitions discovered in the SQL directory",
	Long: `Scan the SQL directory for metadata-tagged job files and list what
would run. Files without a complete annotation header are skipped, the
same way the scheduler skips them.

Examples:
  swd jobs list
  swd jobs list --sql-dir ./sql --json`,
	RunE: runJobsList,
}

var jobsRunCmd = &cobra.Command{
	Use:   "run [name]",
	Short: "Run all jobs once, or a single named job",
	Long: `Execute the refresh batch immediately against the configured database,
outside the scheduler. With a name, only that job runs. Outcomes are
recorded in the audit trail exactly as scheduled runs are.

Examples:
  swd jobs run                   # full batch
  swd jobs run daily_sales       # one job`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobsRun,
}

var jobsRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent job runs from the audit trail",
	Long: `Fetch the most recent job runs from the running daemon.

Examples:
  swd jobs runs
  swd jobs runs --limit 100 --json`,
	RunE: runJobsRuns,
}

func init() {
	jobsListCmd.Flags().String("config", "", "Path to swd.toml config file")
	jobsListCmd.Flags().String("sql-dir", "", "Directory of SQL files (overrides config)")

	jobsRunCmd.Flags().String("config", "", "Path to swd.toml config file")
	jobsRunCmd.Flags().String("database-url", "", "PostgreSQL connection URL (overrides config)")
	jobsRunCmd.Flags().String("sql-dir", "", "Directory of SQL files (overrides config)")

	jobsRunsCmd.Flags().String("url", "", "Server URL (default http://127.0.0.1:8707)")
	jobsRunsCmd.Flags().Int("limit", 20, "Maximum runs to show")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsRunCmd)
	jobsCmd.AddCommand(jobsRunsCmd)
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadCLIConfig(cmd)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	defs := sqljob.NewLoader(cfg.Jobs.SQLDir, logger).Load()

	switch outputFormat(cmd) {
	case "json":
		out, err := json.MarshalIndent(defs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	case "csv":
		rows := make([][]string, 0, len(defs))
		for _, d := range defs {
			rows = append(rows, []string{d.Name, string(d.Type), d.Object, d.SourceFile})
		}
		return writeCSVStdout([]string{"name", "type", "object", "source_file"}, rows)
	default:
		if len(defs) == 0 {
			fmt.Printf("No job definitions found in %s.\n", cfg.Jobs.SQLDir)
			fmt.Println("Job files need the annotation header: -- @name, -- @type, -- @object.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tOBJECT\tSOURCE FILE")
		for _, d := range defs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.Type, d.Object, d.SourceFile)
		}
		w.Flush()
		fmt.Printf("\n%d definition(s) in %s\n", len(defs), cfg.Jobs.SQLDir)
		if cfg.Jobs.RefreshMode == config.RefreshModeViews {
			fmt.Printf("Note: refresh_mode is %q; the scheduler refreshes the %d configured view(s) instead of these definitions.\n",
				cfg.Jobs.RefreshMode, len(cfg.Jobs.Views))
		}
	}
	return nil
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig(cmd)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()
	pool, err := connectCLI(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := sqljob.NewStore(pool.DB())
	if err := store.Bootstrap(ctx); err != nil {
		return fmt.Errorf("preparing audit tables: %w", err)
	}

	loader := sqljob.NewLoader(cfg.Jobs.SQLDir, logger)
	svc := sqljob.NewService(loader, store, pool.DB(), logger)

	var results []sqljob.Result
	switch {
	case len(args) == 1:
		res, err := svc.RunJob(ctx, args[0])
		if err != nil {
			return err
		}
		results = []sqljob.Result{*res}
	case cfg.Jobs.RefreshMode == config.RefreshModeViews:
		results, err = svc.RefreshViews(ctx, cfg.Jobs.Views)
		if err != nil {
			return err
		}
	default:
		results, err = svc.RunBatch(ctx)
		if err != nil {
			return err
		}
	}

	if outputFormat(cmd) == "json" {
		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		if len(results) == 0 {
			fmt.Println("Nothing to run.")
			return nil
		}
		useColor := colorEnabledFd(os.Stdout.Fd())
		for _, res := range results {
			dur := (time.Duration(res.DurationMs) * time.Millisecond).String()
			if res.Success {
				fmt.Printf("%s %s (%s)\n", green(ui.SymbolCheck, useColor), res.Definition.Name, dur)
			} else {
				fmt.Printf("%s %s (%s): %s\n", red(ui.SymbolCross, useColor), res.Definition.Name, dur, res.Message)
			}
		}
	}

	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d job(s) failed", failed, len(results))
	}
	return nil
}

func runJobsRuns(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	path := fmt.Sprintf("/api/runs?limit=%d", limit)

	resp, body, err := apiRequest(cmd, "GET", path, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("server error: %s", string(body))
	}

	var result struct {
		Runs []sqljob.Run `json:"runs"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if outputFormat(cmd) == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Runs)
	}

	if len(result.Runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	useColor := colorEnabledFd(os.Stdout.Fd())
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tJOB\tSTATUS\tDURATION\tMESSAGE")
	for _, r := range result.Runs {
		status := green(ui.SymbolCheck+" ok", useColor)
		if !r.Success {
			status = red(ui.SymbolCross+" failed", useColor)
		}
		msg := r.Message
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.JobName,
			status,
			(time.Duration(r.DurationMs) * time.Millisecond).String(),
			msg,
		)
	}
	return w.Flush()
}
