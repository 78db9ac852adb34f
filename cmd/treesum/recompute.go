package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treesum/treesum/internal/treesum/commands"
	"github.com/treesum/treesum/internal/treesum/lib"
	"github.com/treesum/treesum/internal/treesum/logger"
)

func NewRecomputeCommand() *cobra.Command {
	var (
		algorithm string
		root      string
		legacyKey bool
	)

	cmd := &cobra.Command{
		Use:   "recompute <log-file>",
		Short: "Re-derive the composite directory hash from an existing result log.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.NewWithWriter(logger.Config{Level: "warn"}, cmd.ErrOrStderr())

			res, err := commands.Recompute(commands.RecomputeOptions{
				LogPath:           args[0],
				Algorithm:         algorithm,
				Root:              root,
				LegacyBaseNameKey: legacyKey,
				Logger:            log,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Replayed %s: %d processed, %d failed, %d unparseable\n",
				args[0], res.Processed, res.Failed, res.Skipped)
			if res.Composite == nil {
				fmt.Println("Nothing to hash.")
				return nil
			}
			fmt.Printf("Composite %s hash: %s (%d files, %d bytes)\n",
				res.Composite.Algorithm, res.Composite.CompositeHash,
				res.Composite.FileCount, res.Composite.TotalBytes)
			return nil
		},
	}

	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", lib.DefaultAlgorithm, "Hash algorithm used for the composite")
	cmd.Flags().StringVar(&root, "root", "", "Root path the log was produced from (relativizes sort keys)")
	cmd.Flags().BoolVar(&legacyKey, "legacy-basename-key", false, "Sort by filename only, matching the legacy composite output")

	return cmd
}
