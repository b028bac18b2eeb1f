package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the ingest service is reachable and healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, body, err := apiRequest("GET", "/healthz", nil)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		if status != 200 {
			fmt.Printf("unhealthy (HTTP %d): %s\n", status, string(body))
			return nil
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
