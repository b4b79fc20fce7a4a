package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/camshare/pkg/config"
	"github.com/srg/camshare/pkg/shared"
)

// loadConfig reads the config file and applies the global flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if driver, _ := cmd.Flags().GetString("driver"); driver != "" {
		cfg.Driver = driver
	}
	if dev, _ := cmd.Flags().GetString("device"); dev != "" {
		cfg.Camera.Device = dev
	}
	if cmd.Flags().Changed("ready-timeout") {
		cfg.Manager.ReadyTimeout, _ = cmd.Flags().GetDuration("ready-timeout")
	}

	return cfg, cfg.Validate()
}

// setupManager configures the process-wide manager from cmd flags and returns it
// together with the effective configuration and logger.
func setupManager(cmd *cobra.Command) (*shared.Manager, *config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	if m := shared.Current(); m != nil {
		logger.Debug("Camera manager already running, driver settings of this command are ignored")
		return m, cfg, logger, nil
	}

	// fail on an unknown driver before the singleton exists
	drv, err := cfg.NewDriver(logger)
	if err != nil {
		return nil, nil, nil, err
	}
	opts := cfg.ManagerOptions(logger)
	shared.InstanceFactory = func() *shared.Manager { return shared.New(drv, opts...) }

	return shared.Instance(), cfg, logger, nil
}

func init() {
	rootCmd.PersistentFlags().Duration("ready-timeout", 0, "Give up if the camera is not streaming after this long (0 waits forever)")
}

// sleepCtx waits d or until done is closed; it reports whether the full duration elapsed
func sleepCtx(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return false
	case <-t.C:
		return true
	}
}
