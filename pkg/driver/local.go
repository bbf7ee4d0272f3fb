package driver

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kunal/kernel-bench/pkg/device"
	"github.com/kunal/kernel-bench/pkg/kernel"
	"github.com/kunal/kernel-bench/pkg/measure"
)

// Local drives a kernel on a device owned by this process.
type Local struct {
	Dev    device.Device
	Kernel kernel.Kernel
	NbMeta int
	Seed   int64
	Verify bool
	// Progress receives a progress bar over the meta-samples when set.
	Progress io.Writer
	Logger   *zap.Logger
}

// Run resets the device, uploads seeded inputs, optionally verifies one
// launch, runs NWarmup untimed launches and then times NbMeta groups of
// NRep launches between two recorded events. Device memory is released
// whatever the outcome.
func (l *Local) Run(ctx context.Context, rc measure.RunConfig) (samples measure.SampleSet, err error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if l.NbMeta < 1 {
		return nil, fmt.Errorf("nb_meta %d: %w", l.NbMeta, measure.ErrSampleCount)
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dev, k := l.Dev, l.Kernel

	if err := dev.Reset(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(uint64(l.Seed), 0))
	if err := k.Setup(dev, rc.Size, rng); err != nil {
		return nil, fmt.Errorf("setup %s/%s: %w", k.Name(), k.Optim(), err)
	}
	defer func() {
		if terr := k.Teardown(dev); terr != nil {
			err = multierr.Append(err, fmt.Errorf("teardown: %w", terr))
			samples = nil
		}
	}()

	grid, block := device.Linear(rc.GridDim), device.Linear(rc.BlockDim)
	if l.Verify {
		if err := k.Verify(dev, grid, block); err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
		logger.Debug("kernel verified", zap.String("kernel", k.Name()), zap.String("optim", k.Optim()))
	}

	for i := uint32(0); i < rc.NWarmup; i++ {
		if err := k.Launch(dev, grid, block); err != nil {
			return nil, fmt.Errorf("warm-up %d: %w", i, err)
		}
	}
	if err := dev.Synchronize(); err != nil {
		return nil, err
	}

	start, err := dev.NewEvent()
	if err != nil {
		return nil, err
	}
	stop, err := dev.NewEvent()
	if err != nil {
		return nil, err
	}

	var bar *progressbar.ProgressBar
	if l.Progress != nil {
		bar = progressbar.NewOptions(l.NbMeta,
			progressbar.OptionSetWriter(l.Progress),
			progressbar.OptionSetDescription("meta-samples"),
			progressbar.OptionClearOnFinish(),
		)
	}

	samples = measure.NewSampleSet(l.NbMeta)
	for m := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if samples[m], err = l.timeReps(k, grid, block, rc.NRep, start, stop); err != nil {
			return nil, fmt.Errorf("meta-sample %d: %w", m, err)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	logger.Debug("run complete",
		zap.Uint32("size", rc.Size),
		zap.Int("nb_meta", l.NbMeta),
		zap.Uint32("nrep", rc.NRep),
	)
	return samples, nil
}

func (l *Local) timeReps(k kernel.Kernel, grid, block device.Dim3, nrep uint32, start, stop device.Event) (float64, error) {
	dev := l.Dev
	if err := dev.Record(start); err != nil {
		return 0, err
	}
	for r := uint32(0); r < nrep; r++ {
		if err := k.Launch(dev, grid, block); err != nil {
			return 0, err
		}
	}
	if err := dev.Record(stop); err != nil {
		return 0, err
	}
	if err := dev.Synchronize(); err != nil {
		return 0, err
	}
	return dev.ElapsedTime(start, stop)
}
