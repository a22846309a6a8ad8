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

	"github.com/sqlwarden/swd/internal/config"
	"github.com/sqlwarden/swd/internal/migrations"
	"github.com/sqlwarden/swd/internal/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQL migrations",
	Long: `Apply every .sql file in the SQL directory that has not run yet, in
filename order. Each file runs in a single transaction together with its
tracking row, so a failed file leaves no partial state behind and the
first failure halts the batch. Files that already ran are skipped.

swd start applies migrations automatically, so this command is mainly
for applying new files without restarting the daemon, or for checking
what has been applied.

Examples:
  swd migrate                       # apply pending files
  swd migrate --status              # list applied files
  swd migrate --sql-dir ./sql       # override the SQL directory`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("config", "", "Path to swd.toml config file")
	migrateCmd.Flags().String("database-url", "", "PostgreSQL connection URL (overrides config)")
	migrateCmd.Flags().String("sql-dir", "", "Directory of SQL files (overrides config)")
	migrateCmd.Flags().Bool("status", false, "List applied migrations instead of applying")
}

// loadCLIConfig loads configuration for one-shot commands, honoring
// --config and any flag overrides the command defines.
func loadCLIConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath, startFlags(cmd))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// connectCLI opens a small connection pool for a one-shot command.
func connectCLI(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*postgres.Postgres, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("no database URL configured (set --database-url, SWD_DATABASE_URL, or database.url in swd.toml)")
	}
	pool, err := postgres.New(ctx, postgres.Config{
		URL:      cfg.Database.URL,
		MaxConns: 5,
		MinConns: 1,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig(cmd)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()
	pool, err := connectCLI(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	applier := migrations.NewApplier(pool.DB(), cfg.Jobs.SQLDir, logger)

	if status, _ := cmd.Flags().GetBool("status"); status {
		return printMigrationStatus(ctx, cmd, applier)
	}

	n, err := applier.Apply(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	if n == 0 {
		fmt.Println("No pending migrations.")
	} else {
		fmt.Printf("Applied %d migration(s).\n", n)
	}
	return nil
}

func printMigrationStatus(ctx context.Context, cmd *cobra.Command, applier *migrations.Applier) error {
	applied, err := applier.Applied(ctx)
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}

	switch outputFormat(cmd) {
	case "json":
		out, err := json.MarshalIndent(applied, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	case "csv":
		rows := make([][]string, 0, len(applied))
		for _, m := range applied {
			rows = append(rows, []string{m.Filename, m.AppliedAt.Format(time.RFC3339)})
		}
		return writeCSVStdout([]string{"filename", "applied_at"}, rows)
	default:
		if len(applied) == 0 {
			fmt.Println("No migrations applied yet.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILENAME\tAPPLIED AT")
		for _, m := range applied {
			fmt.Fprintf(w, "%s\t%s\n", m.Filename, m.AppliedAt.Local().Format("2006-01-02 15:04:05"))
		}
		w.Flush()
		fmt.Printf("\n%d migration(s) applied\n", len(applied))
	}
	return nil
}
