package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"VizFM/server"
)

var rootCmd = &cobra.Command{
	Use:   "vizfm",
	Short: "VizFM renders audio-reactive visualizations and exports them as MP4.",
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
