package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/camshare/internal/groutine"
	"github.com/srg/camshare/pkg/device"
	"github.com/srg/camshare/pkg/shared"
)

// demoCmd represents the demo command
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run simulated consumers sharing one camera",
	Long: `Starts several consumers that each acquire the shared camera, read frames
for a while and release it. Consumers start staggered, so later ones join the
already-open device. The lifecycle trace printed at the end shows a single
open and a single close for the whole run.

Example:
  camshare demo
  camshare demo --consumers vision,preview --hold 3s --stagger 500ms
  camshare demo --driver v4l2 --device /dev/video2`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

var (
	demoConsumers []string
	demoHold      time.Duration
	demoStagger   time.Duration
	demoInterval  time.Duration
)

func init() {
	demoCmd.Flags().StringSliceVarP(&demoConsumers, "consumers", "c", []string{"vision", "preview", "recording"}, "Consumer names")
	demoCmd.Flags().DurationVar(&demoHold, "hold", 2*time.Second, "How long each consumer holds the camera")
	demoCmd.Flags().DurationVar(&demoStagger, "stagger", 300*time.Millisecond, "Delay between consumer starts")
	demoCmd.Flags().DurationVar(&demoInterval, "interval", 100*time.Millisecond, "Frame read interval per consumer")
}

// consumerResult summarizes one consumer run
type consumerResult struct {
	name   string
	frames int
	last   uint64
	err    error
}

func runDemo(cmd *cobra.Command, args []string) error {
	if len(demoConsumers) == 0 {
		return fmt.Errorf("at least one consumer is required")
	}

	m, cfg, logger, err := setupManager(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	// cancelled by the exit hook on SIGINT/SIGTERM
	ctx := cmd.Context()

	results := make([]consumerResult, len(demoConsumers))
	var wg sync.WaitGroup
	for i, name := range demoConsumers {
		i, name := i, name // per-iteration copies (go directive < 1.22)
		groutine.GoWait(ctx, &wg, "consumer-"+name, func(ctx context.Context) {
			if !sleepCtx(ctx.Done(), time.Duration(i)*demoStagger) {
				results[i] = consumerResult{name: name, err: ctx.Err()}
				return
			}
			results[i] = runConsumer(ctx, m, name, cfg.Camera, logger)
		})
	}
	wg.Wait()

	out := cmd.OutOrStdout()
	printer := newTracePrinter(out)
	printer.Print(m.DrainEvents())
	printer.PrintStats(m.Stats())

	var firstErr error
	for _, r := range results {
		status := "ok"
		if r.err != nil {
			status = r.err.Error()
			if firstErr == nil {
				firstErr = fmt.Errorf("consumer %s: %w", r.name, r.err)
			}
		}
		_, _ = fmt.Fprintf(out, "%-12s frames=%-4d last_seq=%-6d %s\n", r.name, r.frames, r.last, status)
	}
	return firstErr
}

// runConsumer holds the camera for demoHold, sampling the current frame every demoInterval
func runConsumer(ctx context.Context, m *shared.Manager, name string, cfg device.Config, logger *logrus.Logger) consumerResult {
	res := consumerResult{name: name}
	log := logger.WithField("consumer", name)

	lease, err := m.AcquireAs(ctx, name, cfg)
	if err != nil {
		res.err = err
		return res
	}
	defer lease.Release()
	log.WithField("refs", m.RefCount()).Info("Consumer holding camera")

	ticker := time.NewTicker(demoInterval)
	defer ticker.Stop()
	deadline := time.After(demoHold)

	for {
		select {
		case <-ctx.Done():
			res.err = ctx.Err()
			return res
		case <-deadline:
			log.WithField("frames", res.frames).Info("Consumer releasing camera")
			return res
		case <-ticker.C:
			frame, err := lease.CurrentFrame()
			if err != nil {
				res.err = err
				return res
			}
			if frame.Seq != res.last || res.frames == 0 {
				res.frames++
				res.last = frame.Seq
			}
		}
	}
}
