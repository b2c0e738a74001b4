package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var devicesWait time.Duration

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices the running node has discovered",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := newControlClient(cfg)
		ctx := cmd.Context()
		if devicesWait > 0 {
			if err := client.StartDiscovery(ctx); err != nil {
				return err
			}
			time.Sleep(devicesWait)
		}
		devices, err := client.Devices(ctx)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println(Dim("No devices found yet."))
			return nil
		}
		fmt.Println(Header(fmt.Sprintf("%d device(s)", len(devices))))
		for _, d := range devices {
			fmt.Println(formatDevice(d.DiscoveredDevice, d.LastSyncAt))
		}
		return nil
	},
}

func init() {
	devicesCmd.Flags().DurationVar(&devicesWait, "wait", 0, "start discovery and wait this long before listing")
}
