// Package kernel holds the operations timed by the benchmark driver.
package kernel

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/kunal/kernel-bench/pkg/device"
)

var (
	ErrUnknownKernel  = errors.New("unknown kernel")
	ErrUnknownVariant = errors.New("unknown optimization variant")
	ErrMismatch       = errors.New("device result differs from CPU reference")
	ErrNotSetUp       = errors.New("kernel is not set up")
)

// Kernel is one benchmarked operation bound to a device. Setup allocates and
// uploads the inputs, Launch enqueues one repetition, Verify checks a single
// launch against the host reference and Teardown releases device memory.
type Kernel interface {
	Name() string
	Optim() string
	Setup(dev device.Device, size uint32, rng *rand.Rand) error
	Launch(dev device.Device, grid, block device.Dim3) error
	Verify(dev device.Device, grid, block device.Dim3) error
	Teardown(dev device.Device) error
}

// New returns the kernel registered under name, in the given variant.
func New(name, optim string) (Kernel, error) {
	switch name {
	case "saxpy":
		return NewSaxpy(optim)
	default:
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownKernel)
	}
}
