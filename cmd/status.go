package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var historyLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync status and recent history of the running node",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := newControlClient(cfg)
		ctx := cmd.Context()
		view, err := client.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Println(formatStatus(view))
		if historyLimit <= 0 {
			return nil
		}
		entries, err := client.History(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			fmt.Println(Header("History"))
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-10s %-20s %d items  %s", time.UnixMilli(e.Timestamp).Format(time.DateTime), e.Status, e.DeviceName, e.ItemsSynced, time.Duration(e.DurationMs)*time.Millisecond)
			if e.Error != "" {
				line += "  " + Failure(e.Error)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&historyLimit, "history", 5, "number of past syncs to show")
}
