// Package cli implements the engage command-line interface using Cobra.
// Each subcommand maps to one engine capability (serve, checkin, rewards, etc.).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "engage",
	Short: "engage: streaks, variable rewards and smart notifications",
	Long: `engage is a behavioral engagement engine.
It tracks practice streaks with forgiveness rules, rolls variable rewards,
and plans rate-limited notifications in each user's local time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
