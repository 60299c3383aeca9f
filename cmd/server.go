package cmd

import (
	"github.com/spf13/cobra"

	"VizFM/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the VizFM HTTP server",
	Long:  `Start the visualization server: upload audio and an image, preview the rendering, and export it to MP4.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
