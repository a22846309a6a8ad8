package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Trigger a refresh pass on the running daemon",
	Long: `Ask the running daemon to execute the refresh batch now, without
waiting for the next scheduled firing. The daemon answers immediately
and runs the batch in the background; check the outcome with
swd jobs runs or swd logs.

Examples:
  swd refresh
  swd refresh --url http://127.0.0.1:8707`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().String("url", "", "Server URL (default http://127.0.0.1:8707)")
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	resp, body, err := apiRequest(cmd, "POST", "/api/refresh", nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != 202 {
		return fmt.Errorf("refresh failed: %s", string(body))
	}

	var result struct {
		InvocationID string `json:"invocation_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if outputFormat(cmd) == "json" {
		fmt.Println(string(body))
		return nil
	}

	fmt.Printf("Refresh triggered (invocation %s)\n", result.InvocationID)
	fmt.Println("Check results with: swd jobs runs")
	return nil
}
