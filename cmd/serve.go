package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/moyoez/readersync/app"
	"github.com/moyoez/readersync/store"
	"github.com/moyoez/readersync/tool"
)

var importFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run this device: discovery, the sync endpoint and the control API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tool.InitLogger(cfg.LogDir)

		node, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer node.Close()

		if importFile != "" {
			if err := importInto(cmd.Context(), node.Store(), importFile); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		tool.DefaultLogger.Infof("%s (%s) ready on port %d", cfg.Alias, cfg.DeviceID, cfg.Port)
		return node.Run(ctx)
	},
}

func importInto(ctx context.Context, st store.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := store.ImportLibrary(ctx, st, f, time.Now())
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	tool.DefaultLogger.Infof("Imported %d entities from %s", n, path)
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&importFile, "import", "", "seed the library from a YAML file before serving")
}
