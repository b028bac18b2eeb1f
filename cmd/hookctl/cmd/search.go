package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	searchStatus    []string
	searchEventType string
	searchSkip      int
	searchLimit     int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search event delivery history",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{}
		if len(searchStatus) > 0 {
			req["status"] = searchStatus
		}
		if searchEventType != "" {
			req["event_type"] = searchEventType
		}
		if searchSkip > 0 {
			req["skip"] = searchSkip
		}
		if searchLimit > 0 {
			req["limit"] = searchLimit
		}

		reqBody, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encode search request: %w", err)
		}

		status, body, err := apiRequest("POST", "/webhooks/search", reqBody)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if status != 200 {
			return fmt.Errorf("search returned HTTP %d: %s", status, string(body))
		}

		if outputJSON {
			var v any
			if err := json.Unmarshal(body, &v); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			printJSON(v)
			return nil
		}

		fmt.Println(string(body))
		return nil
	},
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchStatus, "status", nil, "filter by status (repeatable): RECEIVED, DELIVERING, DELIVERED, FAILED_PERMANENTLY")
	searchCmd.Flags().StringVar(&searchEventType, "event-type", "", "filter by event type")
	searchCmd.Flags().IntVar(&searchSkip, "skip", 0, "pagination offset")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 50, "page size")
	rootCmd.AddCommand(searchCmd)
}
