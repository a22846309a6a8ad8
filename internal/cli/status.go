package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show swd daemon status",
	Long: `Show the running state of the SQL Warden daemon: process health,
scheduled tasks with their next firing, and audit-trail totals.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Int("port", 0, "Daemon port to check (default: read from PID file or 8707)")
}

// statusPayload mirrors the daemon's /api/status response.
type statusPayload struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	LogLevel      string `json:"log_level"`
	Database      struct {
		Host     string `json:"host"`
		Database string `json:"database"`
		PoolMin  int    `json:"pool_min"`
		PoolMax  int    `json:"pool_max"`
	} `json:"database"`
	Jobs struct {
		SQLDir      string `json:"sql_dir"`
		RefreshMode string `json:"refresh_mode"`
	} `json:"jobs"`
	Scheduler struct {
		Tasks []struct {
			ID      string    `json:"id"`
			NextRun time.Time `json:"next_run"`
			Trigger string    `json:"trigger"`
		} `json:"tasks"`
	} `json:"scheduler"`
	Runs struct {
		Total       int64      `json:"total"`
		Succeeded   int64      `json:"succeeded"`
		Failed      int64      `json:"failed"`
		LastStarted *time.Time `json:"last_started"`
	} `json:"runs"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	portFlag, _ := cmd.Flags().GetInt("port")

	pid, port, err := readSWDPID()
	if err != nil {
		if os.IsNotExist(err) {
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]any{"status": "stopped"})
				return nil
			}
			fmt.Println("swd daemon is not running.")
			return nil
		}
		return fmt.Errorf("reading PID file: %w", err)
	}

	// Check if process is alive.
	proc, err := os.FindProcess(pid)
	if err != nil || proc.Signal(syscall.Signal(0)) != nil {
		cleanupServerFiles()
		if jsonOut {
			json.NewEncoder(os.Stdout).Encode(map[string]any{"status": "stopped"})
			return nil
		}
		fmt.Println("swd daemon is not running (stale PID file cleaned up).")
		return nil
	}

	// Use port flag if provided, otherwise use PID file port, fallback to 8707.
	if portFlag != 0 {
		port = portFlag
	}
	if port == 0 {
		port = 8707
	}

	// Probe the daemon's status endpoint.
	client := &http.Client{Timeout: 2 * time.Second}
	statusURL := fmt.Sprintf("http://127.0.0.1:%d/api/status", port)
	resp, err := client.Get(statusURL)
	if err != nil {
		if jsonOut {
			json.NewEncoder(os.Stdout).Encode(map[string]any{
				"status": "running", "pid": pid, "port": port, "healthy": false,
			})
			return nil
		}
		fmt.Printf("swd daemon is running (PID %d) but not answering on port %d.\n", pid, port)
		return nil
	}
	defer resp.Body.Close()

	var st statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("parsing status response: %w", err)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"status": "running", "pid": pid, "port": port, "healthy": true, "daemon": st,
		})
	}

	fmt.Printf("swd daemon is running.\n")
	fmt.Printf("  PID:       %d\n", pid)
	fmt.Printf("  Port:      %d\n", port)
	fmt.Printf("  Uptime:    %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
	fmt.Printf("  Database:  %s/%s (pool %d-%d)\n",
		st.Database.Host, st.Database.Database, st.Database.PoolMin, st.Database.PoolMax)
	fmt.Printf("  Jobs:      %s (mode: %s)\n", st.Jobs.SQLDir, st.Jobs.RefreshMode)
	fmt.Printf("  Runs:      %d total, %d succeeded, %d failed\n",
		st.Runs.Total, st.Runs.Succeeded, st.Runs.Failed)
	if st.Runs.LastStarted != nil {
		fmt.Printf("  Last run:  %s\n", st.Runs.LastStarted.Local().Format(time.RFC3339))
	}

	if len(st.Scheduler.Tasks) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  TASK\tTRIGGER\tNEXT RUN")
		for _, t := range st.Scheduler.Tasks {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", t.ID, t.Trigger, t.NextRun.Local().Format(time.RFC3339))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}
