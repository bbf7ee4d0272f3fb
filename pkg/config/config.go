package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Link-time defaults. Each kernel/optimization variant is built with its own
// labels, e.g.
//
//	go build -ldflags "-X github.com/kunal/kernel-bench/pkg/config.DefaultOptim=grid-stride"
var (
	DefaultKernelName = "saxpy"
	DefaultOptim      = "baseline"
	DefaultNbMeta     = "31"
	DefaultOutputFile = "output.csv"
)

// Config holds all configuration for both the benchmark CLI and the bench worker.
type Config struct {
	// Benchmark identity
	KernelName string
	Optim      string
	NbMeta     int
	OutputFile string
	AppendLog  bool // keep previous rows instead of rewriting the log

	// Driver
	Device     string // "sim"
	Seed       int64
	Verify     bool
	Progress   bool
	RemoteAddr string // empty = run the kernel locally

	// Worker
	WorkerPort  int
	MetricsPort int

	LogLevel string
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		KernelName:  envStr("KERNEL_NAME", DefaultKernelName),
		Optim:       envStr("OPTIM", DefaultOptim),
		NbMeta:      envInt("NB_META", atoiOr(DefaultNbMeta, 31)),
		OutputFile:  envStr("OUTPUT_FILE", DefaultOutputFile),
		AppendLog:   envBool("BENCH_CSV_APPEND", false),
		Device:      envStr("BENCH_DEVICE", "sim"),
		Seed:        int64(envInt("BENCH_SEED", 0)),
		Verify:      envBool("BENCH_VERIFY", true),
		Progress:    envBool("BENCH_PROGRESS", false),
		RemoteAddr:  envStr("BENCH_REMOTE", ""),
		WorkerPort:  envInt("WORKER_PORT", 50052),
		MetricsPort: envInt("METRICS_PORT", 9090),
		LogLevel:    envStr("LOG_LEVEL", "info"),
	}
}

// Validate reports configuration that would make a run meaningless.
func (c *Config) Validate() error {
	if c.NbMeta < 1 {
		return fmt.Errorf("NB_META must be >= 1, got %d", c.NbMeta)
	}
	if strings.TrimSpace(c.KernelName) == "" || strings.TrimSpace(c.Optim) == "" {
		return errors.New("kernel name and optimization label must not be empty")
	}
	if c.OutputFile == "" {
		return errors.New("OUTPUT_FILE must not be empty")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func atoiOr(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return fallback
}
