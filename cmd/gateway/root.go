package main

import (
	"fmt"
	"os"

	"github.com/aman-churiwal/admission-gateway/internal/server"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Admission gateway - request rate limiting as a service",
	Long: `The admission gateway decides whether a request may proceed under the
rate-limit rule that governs its path.

Rules select one of four algorithms (token bucket, leaky bucket, sliding
window, fixed window) and run either in process or against a shared Redis
store so every gateway instance enforces one quota.`,
	Version:       server.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.json", "config file path")
}
