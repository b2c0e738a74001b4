package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moyoez/readersync/store"
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Inspect or seed the local library",
}

var libraryImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import books, progress and categories from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabasePath == "" {
			return errors.New("no database configured, set databasePath or --db")
		}
		st, err := store.OpenSQLite(cfg.DatabasePath, cfg.DeviceID)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := importInto(cmd.Context(), st, args[0]); err != nil {
			return err
		}
		fmt.Println(StatusSuccess("Imported " + args[0]))
		return nil
	},
}

var libraryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print what the local library would send in a sync",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.DatabasePath == "" {
			return errors.New("no database configured, set databasePath or --db")
		}
		st, err := store.OpenSQLite(cfg.DatabasePath, cfg.DeviceID)
		if err != nil {
			return err
		}
		defer st.Close()
		snap, err := st.Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(Header(fmt.Sprintf("%d books, %d progress entries, %d category sets", len(snap.Books), len(snap.Progress), len(snap.Categories))))
		for _, b := range snap.Books {
			fmt.Printf("%-12s %-30s %-20s %s\n", b.Key, b.Title, b.Author, Dim(b.Membership))
		}
		return nil
	},
}

func init() {
	libraryCmd.AddCommand(libraryImportCmd, libraryShowCmd)
}
