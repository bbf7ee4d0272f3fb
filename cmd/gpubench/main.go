package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/tebeka/atexit"
	"go.uber.org/zap"

	"github.com/kunal/kernel-bench/pkg/config"
	"github.com/kunal/kernel-bench/pkg/device"
	"github.com/kunal/kernel-bench/pkg/driver"
	"github.com/kunal/kernel-bench/pkg/kernel"
	"github.com/kunal/kernel-bench/pkg/logutil"
	"github.com/kunal/kernel-bench/pkg/measure"
	"github.com/kunal/kernel-bench/pkg/worker"
)

const usage = "Usage: %s [flags] <size> <block dim> [grid dim] <nb rep> <nwu>\n"

func main() {
	cfg := config.Load()
	logutil.InitLogger(cfg.LogLevel)
	logger := logutil.GetLogger()
	atexit.Register(func() { _ = logger.Sync() })

	a := &app{
		cfg:       cfg,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		logger:    logger,
		newDriver: newDriver,
		fatalf:    atexit.Fatalf,
	}
	atexit.Exit(a.run(os.Args[1:]))
}

type app struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger

	newDriver func(cfg *config.Config, logger *zap.Logger, progress io.Writer) (driver.Driver, error)
	// fatalf aborts on device failures after running exit handlers.
	fatalf func(format string, args ...any)
}

func (a *app) run(args []string) int {
	cfg := *a.cfg
	fs := flag.NewFlagSet("gpubench", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.BoolVar(&cfg.Progress, "progress", cfg.Progress, "show a progress bar over meta-samples on stderr")
	fs.StringVar(&cfg.RemoteAddr, "remote", cfg.RemoteAddr, "run on the bench worker at `addr`")
	fs.BoolVar(&cfg.AppendLog, "append", cfg.AppendLog, "append to the CSV log instead of rewriting it")
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, usage, fs.Name())
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(a.stderr, "%s: %v\n", fs.Name(), err)
		return 1
	}

	rc, err := parseRunConfig(fs.Args())
	if err != nil {
		fmt.Fprintf(a.stderr, "%s: %v\n", fs.Name(), err)
		fmt.Fprintf(a.stderr, usage, fs.Name())
		return 1
	}

	block, grid := device.Linear(rc.BlockDim), device.Linear(rc.GridDim)
	fmt.Fprintf(a.stdout, "=== Run benchmark with size: %d, blockDim(%d, %d, %d), gridDim(%d, %d, %d), nrep: %d, nwu: %d\n",
		rc.Size, block.X, block.Y, block.Z, grid.X, grid.Y, grid.Z, rc.NRep, rc.NWarmup)

	var progress io.Writer
	if cfg.Progress {
		progress = a.stderr
	}
	drv, err := a.newDriver(&cfg, a.logger, progress)
	if err != nil {
		a.fatalf("gpubench: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	samples, err := drv.Run(ctx, rc)
	if err != nil {
		a.fatalf("gpubench: %v", err)
		return 1
	}

	r := &measure.Reporter{
		Labels:     measure.Labels{Kernel: cfg.KernelName, Optim: cfg.Optim},
		NbMeta:     cfg.NbMeta,
		OutputFile: cfg.OutputFile,
		Append:     cfg.AppendLog,
		Out:        a.stdout,
		Logger:     a.logger,
	}
	if _, err := r.Report(rc, samples); err != nil {
		a.fatalf("gpubench: %v", err)
		return 1
	}
	return 0
}

var errUsage = errors.New("invalid arguments")

// parseRunConfig reads <size> <block> [grid] <nrep> <nwu>. A missing grid
// covers size with blocks of the given dimension.
func parseRunConfig(args []string) (measure.RunConfig, error) {
	if len(args) != 4 && len(args) != 5 {
		return measure.RunConfig{}, fmt.Errorf("expected 4 or 5 arguments, got %d: %w", len(args), errUsage)
	}
	vals := make([]uint32, len(args))
	for i, s := range args {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return measure.RunConfig{}, fmt.Errorf("argument %d %q is not an unsigned integer: %w", i+1, s, errUsage)
		}
		vals[i] = uint32(v)
	}

	var rc measure.RunConfig
	if len(vals) == 4 {
		rc = measure.RunConfig{Size: vals[0], BlockDim: vals[1], NRep: vals[2], NWarmup: vals[3]}
		rc.GridDim = measure.GridFor(rc.Size, rc.BlockDim)
		if rc.GridDim == 0 && rc.BlockDim != 0 {
			// size 0 still launches one block
			rc.GridDim = 1
		}
	} else {
		rc = measure.RunConfig{Size: vals[0], BlockDim: vals[1], GridDim: vals[2], NRep: vals[3], NWarmup: vals[4]}
	}
	if err := rc.Validate(); err != nil {
		return rc, fmt.Errorf("%w: %w", errUsage, err)
	}
	return rc, nil
}

// newDriver returns a worker client when a remote address is configured,
// otherwise a local driver on the configured device. The device is reset on
// exit, including fatal aborts.
func newDriver(cfg *config.Config, logger *zap.Logger, progress io.Writer) (driver.Driver, error) {
	if cfg.RemoteAddr != "" {
		c, err := worker.Dial(cfg.RemoteAddr)
		if err != nil {
			return nil, err
		}
		c.Kernel, c.Optim = cfg.KernelName, cfg.Optim
		c.NbMeta, c.Seed, c.Verify = cfg.NbMeta, cfg.Seed, cfg.Verify
		atexit.Register(func() { _ = c.Close() })
		logger.Info("using remote bench worker", zap.String("addr", cfg.RemoteAddr))
		return c, nil
	}

	dev, err := device.New(cfg.Device, logger)
	if err != nil {
		return nil, err
	}
	k, err := kernel.New(cfg.KernelName, cfg.Optim)
	if err != nil {
		return nil, err
	}
	atexit.Register(func() {
		if err := dev.Reset(); err != nil {
			logger.Warn("device reset failed", zap.Error(err))
		}
	})
	return &driver.Local{
		Dev:      dev,
		Kernel:   k,
		NbMeta:   cfg.NbMeta,
		Seed:     cfg.Seed,
		Verify:   cfg.Verify,
		Progress: progress,
		Logger:   logger,
	}, nil
}
