package measure

import (
	"fmt"
	"math"
	"slices"
)

// Stability thresholds in percent. Each tier includes its lower bound.
const (
	AverageThreshold = 5.0
	BadThreshold     = 10.0
)

// Classify maps a stability percentage onto its tier.
func Classify(pct float64) Tier {
	switch {
	case pct >= BadThreshold:
		return BadStability
	case pct >= AverageThreshold:
		return AverageStability
	default:
		return GoodStability
	}
}

// Reduce sorts samples in place and derives the summary record.
//
// The median is the element at index len/2, i.e. the upper median for an
// even count; the two middle values are never averaged.
func Reduce(l Labels, rc RunConfig, samples SampleSet) (Summary, error) {
	if rc.NRep == 0 {
		return Summary{}, ErrZeroRep
	}
	if len(samples) == 0 {
		return Summary{}, ErrEmptySamples
	}
	for i, v := range samples {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return Summary{}, fmt.Errorf("sample %d = %v: %w", i, v, ErrInvalidSample)
		}
	}

	slices.Sort(samples)

	nrep := float64(rc.NRep)
	s := Summary{
		Labels:    l,
		RunConfig: rc,
		NbMeta:    len(samples),
		TimeMin:   samples[0] / nrep,
		TimeMed:   samples[len(samples)/2] / nrep,
	}

	if s.TimeMin > 0 {
		s.Stability = (s.TimeMed - s.TimeMin) * 100 / s.TimeMin
		s.StabilityDefined = true
	}
	s.Tier = Classify(s.Stability)
	return s, nil
}
