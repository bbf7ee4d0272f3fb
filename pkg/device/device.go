// Package device is the narrow accelerator interface used by the benchmark
// driver: memory, kernel launches and event-based timing.
package device

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidBuffer = errors.New("invalid or freed buffer")
	ErrOutOfMemory   = errors.New("out of device memory")
	ErrSizeMismatch  = errors.New("host and device sizes differ")
	ErrLaunchConfig  = errors.New("invalid launch configuration")
	ErrEventNotReady = errors.New("event has not been recorded")
	ErrUnknownDevice = errors.New("unknown device")
	ErrKernelFault   = errors.New("kernel fault")
)

// Error is the status of a failed device operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("device: %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func opErr(op string, err error) error { return &Error{Op: op, Err: err} }

// Dim3 is a thread-group geometry.
type Dim3 struct {
	X, Y, Z uint32
}

// Linear returns a one-dimensional geometry of n.
func Linear(n uint32) Dim3 { return Dim3{X: n, Y: 1, Z: 1} }

// Count returns the number of elements spanned by the geometry.
func (d Dim3) Count() uint64 { return uint64(d.X) * uint64(d.Y) * uint64(d.Z) }

func (d Dim3) String() string { return fmt.Sprintf("(%d, %d, %d)", d.X, d.Y, d.Z) }

// Buffer is an allocation in device memory.
type Buffer interface {
	Len() int
}

// Event marks a point in the device stream.
type Event interface{}

// BlockContext identifies the thread block being executed.
type BlockContext struct {
	BlockIdx Dim3
	BlockDim Dim3
	GridDim  Dim3
}

// Linear returns the row-major index of the block within the grid.
func (b BlockContext) Linear() uint64 {
	g := b.GridDim
	return uint64(b.BlockIdx.X) + uint64(b.BlockIdx.Y)*uint64(g.X) + uint64(b.BlockIdx.Z)*uint64(g.X)*uint64(g.Y)
}

// BlockFunc is the body of one thread block. mem holds the launch
// arguments in order.
type BlockFunc func(blk BlockContext, mem [][]float32)

// Kernel is one launch request.
type Kernel struct {
	Name  string
	Grid  Dim3
	Block Dim3
	Args  []Buffer
	Body  BlockFunc
}

// Device is the accelerator runtime. Every method returns a *Error on failure.
type Device interface {
	Name() string
	// Reset releases every allocation and pending event.
	Reset() error
	Malloc(n int) (Buffer, error)
	Free(b Buffer) error
	CopyHtoD(dst Buffer, src []float32) error
	CopyDtoH(dst []float32, src Buffer) error
	Launch(k Kernel) error
	NewEvent() (Event, error)
	Record(e Event) error
	Synchronize() error
	// ElapsedTime returns the time between two recorded events in ms.
	ElapsedTime(start, stop Event) (float64, error)
}
