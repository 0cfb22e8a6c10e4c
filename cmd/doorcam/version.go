package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"doorcam/internal/inference"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build capabilities",
	// Skip config loading.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("doorcam %s (%s, %s/%s, opencv=%t)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH, inference.NativeAvailable)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
