package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/dc0d/onexit"
	"github.com/spf13/cobra"
	"github.com/srg/camshare/pkg/shared"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "camshare",
	Short: "Share one camera between many consumers",
	Long: `camshare brokers a single camera between independent consumers
(vision pipeline, preview stream, recording) inside one process:

- The first consumer opens the device and waits until it streams frames
- Later consumers share the live device; their settings are ignored
- The last consumer to release closes the device
- Anything still open at exit is closed by a safety net

Use the demo command to watch the lifecycle with simulated consumers.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hook := newExitHook(cancel)
	onexit.Register(hook.run)

	err := rootCmd.ExecuteContext(ctx)

	// normal-exit safety net for whatever the command left open
	if shutdownErr := shared.Shutdown(); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "WARNING: camera teardown: %s\n", shutdownErr)
	}
	hook.finished()

	if err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(snapshotCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "Verbose output (same as --log-level=debug)")
	rootCmd.PersistentFlags().String("config", "", "YAML config file (default: $CAMSHARE_CONFIG)")
	rootCmd.PersistentFlags().String("driver", "", "Camera driver (sim, v4l2); overrides the config file")
	rootCmd.PersistentFlags().String("device", "", "Camera device path; overrides the config file")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
