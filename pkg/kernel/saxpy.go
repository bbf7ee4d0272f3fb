package kernel

import (
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/kunal/kernel-bench/pkg/device"
)

const (
	OptimBaseline   = "baseline"
	OptimGridStride = "grid-stride"

	// Tolerance is the relative error accepted by Verify.
	Tolerance = 1e-5
)

// Saxpy computes y = a*x + y on float32 vectors.
type Saxpy struct {
	optim string
	body  func(a float32, size int) device.BlockFunc

	a    float32
	x, y []float32
	dx   device.Buffer
	dy   device.Buffer
}

func NewSaxpy(optim string) (*Saxpy, error) {
	s := &Saxpy{optim: optim}
	switch optim {
	case OptimBaseline:
		s.body = saxpyBlock
	case OptimGridStride:
		s.body = saxpyGridStride
	default:
		return nil, fmt.Errorf("saxpy %q: %w", optim, ErrUnknownVariant)
	}
	return s, nil
}

func (s *Saxpy) Name() string  { return "saxpy" }
func (s *Saxpy) Optim() string { return s.optim }

// Setup reserves device memory, then draws a, x and y uniformly in [0, 1)
// and uploads x and y. Nothing is allocated on the host when the device
// cannot hold the vectors.
func (s *Saxpy) Setup(dev device.Device, size uint32, rng *rand.Rand) (err error) {
	n := int(size)
	if s.dx, err = dev.Malloc(n); err != nil {
		return err
	}
	if s.dy, err = dev.Malloc(n); err != nil {
		return multierr.Append(err, s.Teardown(dev))
	}

	s.a = rng.Float32()
	s.x = make([]float32, n)
	s.y = make([]float32, n)
	for i := range s.x {
		s.x[i] = rng.Float32()
		s.y[i] = rng.Float32()
	}

	if err = dev.CopyHtoD(s.dx, s.x); err != nil {
		return multierr.Append(err, s.Teardown(dev))
	}
	if err = dev.CopyHtoD(s.dy, s.y); err != nil {
		return multierr.Append(err, s.Teardown(dev))
	}
	return nil
}

func (s *Saxpy) Launch(dev device.Device, grid, block device.Dim3) error {
	if s.dx == nil || s.dy == nil {
		return ErrNotSetUp
	}
	return dev.Launch(device.Kernel{
		Name:  "saxpy_" + s.optim,
		Grid:  grid,
		Block: block,
		Args:  []device.Buffer{s.dx, s.dy},
		Body:  s.body(s.a, len(s.x)),
	})
}

// Verify runs one launch on the original inputs and compares the elements
// the geometry covers with SaxpyCPU. Device y is restored afterwards so the
// timed launches start from the same data.
func (s *Saxpy) Verify(dev device.Device, grid, block device.Dim3) error {
	if err := s.Launch(dev, grid, block); err != nil {
		return err
	}
	got := make([]float32, len(s.y))
	if err := dev.CopyDtoH(got, s.dy); err != nil {
		return err
	}

	want := append([]float32(nil), s.y...)
	covered := len(want)
	if c := grid.Count() * block.Count(); s.optim == OptimBaseline && c < uint64(covered) {
		covered = int(c)
	}
	SaxpyCPU(s.a, s.x[:covered], want[:covered])
	for i := 0; i < covered; i++ {
		if !closeEnough(got[i], want[i]) {
			return fmt.Errorf("saxpy %s: y[%d] = %g, want %g: %w", s.optim, i, got[i], want[i], ErrMismatch)
		}
	}
	return dev.CopyHtoD(s.dy, s.y)
}

func (s *Saxpy) Teardown(dev device.Device) error {
	var err error
	if s.dx != nil {
		err = multierr.Append(err, dev.Free(s.dx))
		s.dx = nil
	}
	if s.dy != nil {
		err = multierr.Append(err, dev.Free(s.dy))
		s.dy = nil
	}
	return err
}

// SaxpyCPU is the host reference: y[i] = a*x[i] + y[i].
func SaxpyCPU(a float32, x, y []float32) {
	for i := range y {
		y[i] = a*x[i] + y[i]
	}
}

// saxpyBlock gives each thread of the block one element.
func saxpyBlock(a float32, size int) device.BlockFunc {
	return func(blk device.BlockContext, mem [][]float32) {
		threads := int(blk.BlockDim.Count())
		lo := int(blk.Linear()) * threads
		if lo >= size {
			return
		}
		hi := min(lo+threads, size)
		n := hi - lo
		blas32.Axpy(a,
			blas32.Vector{N: n, Inc: 1, Data: mem[0][lo:hi]},
			blas32.Vector{N: n, Inc: 1, Data: mem[1][lo:hi]})
	}
}

// saxpyGridStride walks the vector with a stride of the whole grid, so any
// geometry covers every element.
func saxpyGridStride(a float32, size int) device.BlockFunc {
	return func(blk device.BlockContext, mem [][]float32) {
		threads := int(blk.BlockDim.Count())
		stride := int(blk.GridDim.Count()) * threads
		base := int(blk.Linear()) * threads
		for t := 0; t < threads; t++ {
			first := base + t
			if first >= size {
				return
			}
			n := (size-first-1)/stride + 1
			blas32.Axpy(a,
				blas32.Vector{N: n, Inc: stride, Data: mem[0][first:]},
				blas32.Vector{N: n, Inc: stride, Data: mem[1][first:]})
		}
	}
}

func closeEnough(got, want float32) bool {
	diff := math.Abs(float64(got) - float64(want))
	scale := math.Max(math.Abs(float64(want)), 1)
	return diff <= Tolerance*scale
}
