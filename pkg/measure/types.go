// Package measure reduces the per-run timing samples of a kernel benchmark
// into the summary record that is printed and logged.
package measure

import (
	"errors"
	"fmt"
)

var (
	ErrZeroRep       = errors.New("nrep must be >= 1")
	ErrZeroBlock     = errors.New("block dim must be >= 1")
	ErrZeroGrid      = errors.New("grid dim must be >= 1")
	ErrEmptySamples  = errors.New("sample set is empty")
	ErrSampleCount   = errors.New("sample set has wrong length")
	ErrInvalidSample = errors.New("sample is negative or not finite")
)

// RunConfig is the launch configuration supplied on the command line.
type RunConfig struct {
	Size     uint32 // problem element count
	BlockDim uint32
	GridDim  uint32
	NRep     uint32 // timed launches per meta-sample
	NWarmup  uint32 // untimed launches before sampling
}

// Validate rejects configurations the driver cannot run or the reducer
// cannot normalize.
func (rc RunConfig) Validate() error {
	switch {
	case rc.NRep == 0:
		return ErrZeroRep
	case rc.BlockDim == 0:
		return ErrZeroBlock
	case rc.GridDim == 0:
		return ErrZeroGrid
	}
	return nil
}

// GridFor returns the number of blocks needed to cover size elements.
func GridFor(size, blockDim uint32) uint32 {
	if blockDim == 0 {
		return 0
	}
	return uint32((uint64(size) + uint64(blockDim) - 1) / uint64(blockDim))
}

// SampleSet holds one elapsed device time (ms) per meta-sample. Each value
// covers NRep back-to-back launches.
type SampleSet []float64

// NewSampleSet allocates a zeroed set of exactly n meta-samples.
func NewSampleSet(n int) SampleSet {
	return make(SampleSet, n)
}

// Labels identify the kernel and the optimization variant being measured.
type Labels struct {
	Kernel string
	Optim  string
}

// Tier is the stability classification of a run.
type Tier int

const (
	GoodStability Tier = iota
	AverageStability
	BadStability
)

func (t Tier) String() string {
	switch t {
	case GoodStability:
		return "Good Stability"
	case AverageStability:
		return "Average Stability"
	case BadStability:
		return "Bad Stability"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Summary is the record derived from one run. Times are per launch, in ms.
type Summary struct {
	Labels
	RunConfig
	NbMeta int

	TimeMin          float64
	TimeMed          float64
	Stability        float64 // percent spread of median over minimum
	StabilityDefined bool    // false when TimeMin is zero
	Tier             Tier
}

// DisplayScale converts the internal unit (ms) into the reported unit (ns).
const DisplayScale = 1e6

// MinNs returns the scaled minimum as reported on the console and in the log.
func (s Summary) MinNs() float64 { return s.TimeMin * DisplayScale }

// MedNs returns the scaled median as reported on the console and in the log.
func (s Summary) MedNs() float64 { return s.TimeMed * DisplayScale }
