// Package cmd is the readersync command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

var (
	cfgFile string
	logMode string
	cfg     tool.AppConfig

	flagPort             int
	flagAlias            string
	flagHTTPS            bool
	flagDB               string
	flagStrategy         string
	flagMulticastAddress string
	flagMulticastPort    int
)

var rootCmd = &cobra.Command{
	Use:   "readersync",
	Short: "Sync a reader library between devices on the local network",
	Long: `readersync discovers other reader devices on the local network and
syncs library membership, reading progress and categories with them.

Run "readersync serve" on every device, then use the other commands to
list peers, start a sync and follow its status.`,
	PersistentPreRunE: setupConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, StatusError(err.Error()))
		os.Exit(1)
	}
}

func setupConfig(cmd *cobra.Command, _ []string) error {
	mode := logMode
	if !cmd.Flags().Changed("log") && cmd != serveCmd {
		mode = "prod"
	}
	tool.SetLogMode(mode)

	loaded, err := tool.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyFlags(cmd, &loaded); err != nil {
		return err
	}
	cfg = loaded
	return cfg.Validate()
}

// applyFlags overrides config values with the flags the user actually set.
func applyFlags(cmd *cobra.Command, c *tool.AppConfig) error {
	flags := cmd.Flags()
	if flags.Changed("port") {
		c.Port = flagPort
	}
	if flags.Changed("alias") {
		c.Alias = flagAlias
	}
	if flags.Changed("https") {
		c.Protocol = "http"
		if flagHTTPS {
			c.Protocol = "https"
		}
	}
	if flags.Changed("db") {
		c.DatabasePath = flagDB
	}
	if flags.Changed("strategy") {
		strategy, err := types.ParseStrategy(flagStrategy)
		if err != nil {
			return err
		}
		c.ConflictStrategy = string(strategy)
	}
	if flags.Changed("multicast-address") {
		c.MulticastAddress = flagMulticastAddress
	}
	if flags.Changed("multicast-port") {
		c.MulticastPort = flagMulticastPort
	}
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default readersync.yaml next to the binary)")
	pf.StringVar(&logMode, "log", "", "log mode: dev, prod or none")
	pf.IntVar(&flagPort, "port", tool.DefaultAPIPort, "HTTP API port")
	pf.StringVar(&flagAlias, "alias", "", "device name shown to peers")
	pf.BoolVar(&flagHTTPS, "https", false, "serve the API over https with a self-signed certificate")
	pf.StringVar(&flagDB, "db", "", "SQLite database path; empty keeps the library in memory")
	pf.StringVar(&flagStrategy, "strategy", "", "conflict strategy: LOCAL_WINS, REMOTE_WINS, NEWEST_WINS or MANUAL")
	pf.StringVar(&flagMulticastAddress, "multicast-address", "", "discovery multicast group")
	pf.IntVar(&flagMulticastPort, "multicast-port", 0, "discovery multicast port")

	rootCmd.AddCommand(serveCmd, devicesCmd, syncCmd, pairCmd, libraryCmd, statusCmd)
}
