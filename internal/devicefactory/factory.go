package devicefactory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/camshare/internal/simcam"
	"github.com/srg/camshare/internal/v4l2cam"
	"github.com/srg/camshare/pkg/device"
)

const (
	DriverSim  = "sim"
	DriverV4L2 = "v4l2"
)

// Options are the driver-specific knobs exposed through configuration
type Options struct {
	SimWarmup     time.Duration
	SimNeverReady bool
}

var builders = map[string]func(Options, *logrus.Logger) device.Driver{
	DriverSim: func(o Options, logger *logrus.Logger) device.Driver {
		opts := simcam.DefaultOptions()
		if o.SimWarmup > 0 {
			opts.Warmup = o.SimWarmup
		}
		opts.NeverReady = o.SimNeverReady
		return simcam.NewDriver(opts, logger)
	},
	DriverV4L2: func(_ Options, logger *logrus.Logger) device.Driver {
		return v4l2cam.NewDriver(logger)
	},
}

// Names returns the known driver names, sorted
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DriverFactory creates the camera driver registered under name.
// This is a variable so that it can be overridden in tests.
var DriverFactory = func(name string, opts Options, logger *logrus.Logger) (device.Driver, error) {
	build, ok := builders[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown camera driver %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return build(opts, logger), nil
}
