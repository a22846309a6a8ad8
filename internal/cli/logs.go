package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sqlwarden/swd/internal/cli/ui"
	"github.com/sqlwarden/swd/internal/server"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent daemon logs",
	Long: `Display recent log entries from the running daemon's in-memory buffer.
The buffer captures everything at debug level, so entries hidden from
stderr by the configured log level still show up here.

Full history lives in the daily files under ~/.swd/logs/.

Examples:
  swd logs                   # last 100 entries
  swd logs -n 20             # last 20 entries
  swd logs --level error     # errors only`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().IntP("lines", "n", 100, "Number of log entries to show")
	logsCmd.Flags().String("level", "", "Filter by log level (debug, info, warn, error)")
	logsCmd.Flags().String("url", "", "Server URL (default http://127.0.0.1:8707)")
}

func runLogs(cmd *cobra.Command, _ []string) error {
	lines, _ := cmd.Flags().GetInt("lines")
	level, _ := cmd.Flags().GetString("level")

	resp, body, err := apiRequest(cmd, "GET", fmt.Sprintf("/api/logs?limit=%d", lines), nil)
	if err != nil {
		if p := logFilePath(); p != "" {
			return fmt.Errorf("%s", ui.FormatError(
				fmt.Sprintf("cannot reach the daemon: %v", err),
				"swd start",
				"tail -n 100 "+p,
			))
		}
		return err
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("server error: %s", string(body))
	}

	var result struct {
		Logs []server.LogEntry `json:"logs"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	entries := result.Logs
	if level != "" {
		want := strings.ToUpper(level)
		filtered := entries[:0]
		for _, e := range entries {
			if strings.EqualFold(e.Level, want) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if outputFormat(cmd) == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No log entries.")
		return nil
	}

	useColor := colorEnabledFd(os.Stdout.Fd())
	for _, e := range entries {
		fmt.Println(formatLogEntry(e, useColor))
	}
	return nil
}

// formatLogEntry renders one buffered entry as a plain log line with the
// level colored by severity and attrs appended key=value in stable order.
func formatLogEntry(e server.LogEntry, useColor bool) string {
	lvl := fmt.Sprintf("%-5s", strings.ToUpper(e.Level))
	switch strings.ToUpper(e.Level) {
	case "ERROR":
		lvl = red(lvl, useColor)
	case "WARN":
		lvl = yellow(lvl, useColor)
	case "DEBUG":
		lvl = dim(lvl, useColor)
	}

	var b strings.Builder
	b.WriteString(e.Time.Local().Format("2006-01-02 15:04:05"))
	b.WriteString(" ")
	b.WriteString(lvl)
	b.WriteString(" ")
	b.WriteString(e.Message)

	if len(e.Attrs) > 0 {
		keys := make([]string, 0, len(e.Attrs))
		for k := range e.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", dim(k, useColor), e.Attrs[k])
		}
	}
	return b.String()
}
