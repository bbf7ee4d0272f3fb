package measure

import (
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Distribution describes the spread of per-launch times (ms) beyond the
// minimum and median of the summary record.
type Distribution struct {
	Mean   float64
	StdDev float64
	P90    float64
	Max    float64
}

// Describe computes dispersion statistics of samples normalized by nrep.
// It does not modify samples.
func Describe(samples SampleSet, nrep uint32) Distribution {
	if len(samples) == 0 || nrep == 0 {
		return Distribution{}
	}
	per := slices.Clone([]float64(samples))
	floats.Scale(1/float64(nrep), per)
	slices.Sort(per)

	d := Distribution{
		P90: stat.Quantile(0.9, stat.Empirical, per, nil),
		Max: floats.Max(per),
	}
	if len(per) < 2 {
		d.Mean = per[0]
		return d
	}
	d.Mean, d.StdDev = stat.MeanStdDev(per, nil)
	return d
}
