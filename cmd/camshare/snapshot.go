package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// snapshotCmd represents the snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot <output-file>",
	Short: "Write one frame from the shared camera to a file",
	Long: `Acquires the shared camera, writes its current frame to the output file and
releases it. The file holds the raw frame buffer: JPEG for the v4l2 driver,
8-bit grayscale for the sim driver.

Example:
  camshare snapshot frame.gray
  camshare snapshot --driver v4l2 --device /dev/video0 frame.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshot,
}

var snapshotWait time.Duration

func init() {
	snapshotCmd.Flags().DurationVar(&snapshotWait, "wait", 2*time.Second, "How long to wait for a frame once the camera is ready")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	m, cfg, logger, err := setupManager(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	// cancelled by the exit hook on SIGINT/SIGTERM
	ctx := cmd.Context()

	progress := NewProgressPrinter(fmt.Sprintf("Opening %s", cfg.Camera.Device), "Waiting for camera")
	progress.Start()
	lease, err := m.AcquireAs(ctx, "snapshot", cfg.Camera)
	progress.Stop()
	if err != nil {
		return err
	}
	defer lease.Release()

	deadline := time.Now().Add(snapshotWait)
	for {
		frame, err := lease.CurrentFrame()
		if err != nil {
			return err
		}
		if !frame.IsEmpty() {
			if err := os.WriteFile(args[0], frame.Data, 0o644); err != nil {
				return fmt.Errorf("failed to write snapshot: %w", err)
			}
			logger.WithField("bytes", len(frame.Data)).Debug("Snapshot written")
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %dx%d seq=%d (%d bytes)\n",
				args[0], frame.Width, frame.Height, frame.Seq, len(frame.Data))
			return nil
		}
		if time.Now().After(deadline) {
			return ErrNoFrame
		}
		if !sleepCtx(ctx.Done(), 20*time.Millisecond) {
			return ctx.Err()
		}
	}
}
