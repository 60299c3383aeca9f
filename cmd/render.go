package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"VizFM/config"
	"VizFM/core/export"
	"VizFM/logger"
	"VizFM/model"
	"VizFM/server"
)

var (
	renderAudioPath string
	renderImagePath string
	renderOutPath   string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render one export offline, without the HTTP server",
	Long:  `Load an audio file and a still image, run the full capture-and-transcode pipeline once, and write the MP4 artifact to disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		logger.Init(logger.Config{Level: cfg.LogLevel})

		audioBytes, err := os.ReadFile(renderAudioPath)
		if err != nil {
			return fmt.Errorf("failed to read audio file: %w", err)
		}
		imageBytes, err := os.ReadFile(renderImagePath)
		if err != nil {
			return fmt.Errorf("failed to read image file: %w", err)
		}

		sess, manager, err := server.BuildPipeline(cfg)
		if err != nil {
			return err
		}
		manager.SetNotify(func(job *export.Job) {
			fmt.Printf("\r%-24s", job.StatusText())
		})

		if _, err := sess.LoadAudio(audioBytes); err != nil {
			return err
		}
		if _, err := sess.LoadImage(imageBytes); err != nil {
			return err
		}

		job, err := manager.Start(context.Background(), sess)
		if err != nil {
			return err
		}
		<-job.Done()
		fmt.Println()

		if job.State() == model.ExportStateAborted {
			return fmt.Errorf("export aborted: %s", export.MapErrorMessage(job.Err()))
		}

		art := job.Artifact()
		if err := os.WriteFile(renderOutPath, art.Data, 0644); err != nil {
			return fmt.Errorf("failed to write artifact: %w", err)
		}
		fmt.Printf("wrote %s (%d bytes)\n", renderOutPath, len(art.Data))
		return nil
	},
}

func init() {
	renderCmd.Flags().StringVar(&renderAudioPath, "audio", "", "path to the audio file (required)")
	renderCmd.Flags().StringVar(&renderImagePath, "image", "", "path to the still image (required)")
	renderCmd.Flags().StringVar(&renderOutPath, "out", "visualization.mp4", "output MP4 path")
	renderCmd.MarkFlagRequired("audio")
	renderCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(renderCmd)
}
