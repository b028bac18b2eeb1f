package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch one event's full snapshot, including its attempt history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, body, err := apiRequest("GET", "/webhooks/events/"+args[0], nil)
		if err != nil {
			return fmt.Errorf("get failed: %w", err)
		}
		if status != 200 {
			return fmt.Errorf("get returned HTTP %d: %s", status, string(body))
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
	rootCmd.AddCommand(getCmd)
}
