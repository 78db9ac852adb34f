package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "treesum",
		Short: "Bulk file-integrity verification for directory trees.",
	}

	// Add commands
	rootCmd.AddCommand(NewVerifyCommand())
	rootCmd.AddCommand(NewRecomputeCommand())
	rootCmd.AddCommand(NewHistoryCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
