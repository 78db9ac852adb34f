package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/treesum/treesum/internal/treesum/config"
	"github.com/treesum/treesum/internal/treesum/history"
)

func NewHistoryCommand() *cobra.Command {
	var (
		configPath  string
		historyPath string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent verification runs from the audit trail.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := historyPath
			if path == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				path = cfg.HistoryPath
			}
			if path == "" {
				return fmt.Errorf("no history database configured (set history_path or --db)")
			}

			store, err := history.NewStore(path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.RecentRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			for _, r := range runs {
				composite := r.CompositeHash
				if composite == "" {
					composite = "-"
				}
				fmt.Printf("#%d %s %s [%s] %d hashed, %d failed, %d bytes, composite %s\n",
					r.ID,
					r.Started.Local().Format(time.RFC3339),
					r.Root,
					r.Status,
					r.FilesHashed, r.FilesFailed, r.BytesHashed,
					composite)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a treesum config file")
	cmd.Flags().StringVar(&historyPath, "db", "", "History database path (overrides config)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")

	return cmd
}
