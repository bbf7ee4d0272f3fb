package device

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// MaxThreadsPerBlock mirrors the limit of common accelerators.
	MaxThreadsPerBlock = 1024

	defaultMemLimit = 1 << 30 // float32 elements
)

// Simulated runs kernels on the host CPU. Thread blocks are spread over a
// bounded goroutine pool, so launch times scale with the problem size the
// same way they do on a real device.
type Simulated struct {
	mu       sync.Mutex
	buffers  map[*simBuffer]struct{}
	used     int
	memLimit int
	workers  int
	now      func() time.Time
}

type simBuffer struct {
	data []float32
}

func (b *simBuffer) Len() int { return len(b.data) }

type simEvent struct {
	at       time.Time
	recorded bool
}

// SimOption configures a Simulated device.
type SimOption func(*Simulated)

// WithWorkers bounds the number of thread blocks executing concurrently.
func WithWorkers(n int) SimOption {
	return func(s *Simulated) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithMemoryLimit sets the device memory size in float32 elements.
func WithMemoryLimit(elements int) SimOption {
	return func(s *Simulated) { s.memLimit = elements }
}

// WithClock replaces the event clock.
func WithClock(now func() time.Time) SimOption {
	return func(s *Simulated) { s.now = now }
}

func NewSimulated(opts ...SimOption) *Simulated {
	s := &Simulated{
		buffers:  make(map[*simBuffer]struct{}),
		memLimit: defaultMemLimit,
		workers:  runtime.GOMAXPROCS(0),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulated) Name() string { return "simulation" }

func (s *Simulated) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for b := range s.buffers {
		b.data = nil
	}
	s.buffers = make(map[*simBuffer]struct{})
	s.used = 0
	return nil
}

func (s *Simulated) Malloc(n int) (Buffer, error) {
	if n < 0 {
		return nil, opErr("malloc", fmt.Errorf("negative size %d: %w", n, ErrInvalidBuffer))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used+n > s.memLimit {
		return nil, opErr("malloc", fmt.Errorf("%d elements requested, %d free: %w", n, s.memLimit-s.used, ErrOutOfMemory))
	}
	b := &simBuffer{data: make([]float32, n)}
	s.buffers[b] = struct{}{}
	s.used += n
	return b, nil
}

func (s *Simulated) Free(b Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb, err := s.resolve(b)
	if err != nil {
		return opErr("free", err)
	}
	delete(s.buffers, sb)
	s.used -= len(sb.data)
	sb.data = nil
	return nil
}

func (s *Simulated) CopyHtoD(dst Buffer, src []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb, err := s.resolve(dst)
	if err != nil {
		return opErr("memcpy HtoD", err)
	}
	if len(src) != len(sb.data) {
		return opErr("memcpy HtoD", fmt.Errorf("host %d, device %d: %w", len(src), len(sb.data), ErrSizeMismatch))
	}
	copy(sb.data, src)
	return nil
}

func (s *Simulated) CopyDtoH(dst []float32, src Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb, err := s.resolve(src)
	if err != nil {
		return opErr("memcpy DtoH", err)
	}
	if len(dst) != len(sb.data) {
		return opErr("memcpy DtoH", fmt.Errorf("host %d, device %d: %w", len(dst), len(sb.data), ErrSizeMismatch))
	}
	copy(dst, sb.data)
	return nil
}

// Launch runs every block of k and returns once all of them completed.
func (s *Simulated) Launch(k Kernel) error {
	op := "launch " + k.Name
	if k.Body == nil {
		return opErr(op, fmt.Errorf("no kernel body: %w", ErrLaunchConfig))
	}
	if n := k.Block.Count(); n == 0 || n > MaxThreadsPerBlock {
		return opErr(op, fmt.Errorf("block %s has %d threads: %w", k.Block, n, ErrLaunchConfig))
	}
	if k.Grid.Count() == 0 {
		return opErr(op, fmt.Errorf("empty grid %s: %w", k.Grid, ErrLaunchConfig))
	}

	mem := make([][]float32, len(k.Args))
	s.mu.Lock()
	for i, a := range k.Args {
		sb, err := s.resolve(a)
		if err != nil {
			s.mu.Unlock()
			return opErr(op, fmt.Errorf("arg %d: %w", i, err))
		}
		mem[i] = sb.data
	}
	s.mu.Unlock()

	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for z := uint32(0); z < k.Grid.Z; z++ {
		for y := uint32(0); y < k.Grid.Y; y++ {
			for x := uint32(0); x < k.Grid.X; x++ {
				blk := BlockContext{BlockIdx: Dim3{X: x, Y: y, Z: z}, BlockDim: k.Block, GridDim: k.Grid}
				g.Go(func() error { return runBlock(k.Body, blk, mem) })
			}
		}
	}
	if err := g.Wait(); err != nil {
		return opErr(op, err)
	}
	return nil
}

func runBlock(body BlockFunc, blk BlockContext, mem [][]float32) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("block %s: %v: %w", blk.BlockIdx, r, ErrKernelFault)
		}
	}()
	body(blk, mem)
	return nil
}

func (s *Simulated) NewEvent() (Event, error) {
	return &simEvent{}, nil
}

func (s *Simulated) Record(e Event) error {
	ev, ok := e.(*simEvent)
	if !ok {
		return opErr("event record", fmt.Errorf("foreign event %T", e))
	}
	ev.at = s.now()
	ev.recorded = true
	return nil
}

// Synchronize is a no-op: launches complete before Launch returns.
func (s *Simulated) Synchronize() error { return nil }

func (s *Simulated) ElapsedTime(start, stop Event) (float64, error) {
	a, ok1 := start.(*simEvent)
	b, ok2 := stop.(*simEvent)
	if !ok1 || !ok2 {
		return 0, opErr("event elapsed", fmt.Errorf("foreign events %T, %T", start, stop))
	}
	if !a.recorded || !b.recorded {
		return 0, opErr("event elapsed", ErrEventNotReady)
	}
	return float64(b.at.Sub(a.at)) / float64(time.Millisecond), nil
}

func (s *Simulated) resolve(b Buffer) (*simBuffer, error) {
	sb, ok := b.(*simBuffer)
	if !ok || sb == nil {
		return nil, ErrInvalidBuffer
	}
	if _, live := s.buffers[sb]; !live {
		return nil, ErrInvalidBuffer
	}
	return sb, nil
}
