package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/treesum/treesum/internal/treesum/commands"
	"github.com/treesum/treesum/internal/treesum/config"
	"github.com/treesum/treesum/internal/treesum/logger"
)

func NewVerifyCommand() *cobra.Command {
	var (
		configPath      string
		logPath         string
		resume          bool
		algorithm       string
		workers         int
		strictMode      bool
		verifyIntegrity bool
	)

	cmd := &cobra.Command{
		Use:   "verify [directory]",
		Short: "Hash every file under a directory and derive its composite hash.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// Flags override the config file.
			if algorithm != "" {
				cfg.Algorithm = algorithm
			}
			if workers > 0 {
				cfg.Workers = workers
			}
			if strictMode {
				cfg.StrictMode = true
			}
			if verifyIntegrity {
				cfg.VerifyIntegrity = true
			}

			log, closeLog, err := logger.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer closeLog()

			// Ctrl-C cancels the run; workers stop at their next
			// checkpoint and the final flush still happens.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := commands.Verify(ctx, commands.VerifyOptions{
				Root:    dir,
				LogPath: logPath,
				Resume:  resume,
				Config:  cfg,
				Logger:  log,
			})
			if summary != nil {
				printSummary(summary)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a treesum config file")
	cmd.Flags().StringVar(&logPath, "log", "", "Result log path (default: <root>/"+commands.DefaultLogName+")")
	cmd.Flags().BoolVar(&resume, "resume", false, "Skip files already recorded in the existing log")
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "", "Hash algorithm (md5, sha1, sha256, sha512, blake3)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker pool size (default: one per CPU)")
	cmd.Flags().BoolVar(&strictMode, "strict", false, "Fail files whose metadata changes during hashing")
	cmd.Flags().BoolVar(&verifyIntegrity, "verify-integrity", false, "Snapshot metadata before and after hashing")

	return cmd
}

func printSummary(s *commands.VerifySummary) {
	fmt.Printf("Verified %q\n", s.Root)
	fmt.Printf("  - Discovered: %d files\n", s.Discovered)
	fmt.Printf("  - Processed:  %d (%d bytes)\n", s.Processed, s.BytesHashed)
	if s.Skipped > 0 {
		fmt.Printf("  - Skipped:    %d (already in log)\n", s.Skipped)
	}
	if s.Failed > 0 {
		fmt.Printf("  - Failed:     %d (see %s)\n", s.Failed, s.LogPath)
	}
	if s.Races > 0 {
		fmt.Printf("  - Races:      %d\n", s.Races)
	}
	fmt.Printf("  - Elapsed:    %s\n", s.Elapsed.Round(1e6))
	if s.Composite != nil {
		fmt.Printf("  - Composite %s hash: %s (%d files, %d bytes)\n",
			s.Composite.Algorithm, s.Composite.CompositeHash,
			s.Composite.FileCount, s.Composite.TotalBytes)
	} else if !s.Interrupted {
		fmt.Println("  - Nothing to hash.")
	}
	if s.Interrupted {
		fmt.Println("  - Interrupted: rerun with --resume to continue.")
	}
}
