// Package driver collects timing samples for one benchmark run.
package driver

import (
	"context"

	"github.com/kunal/kernel-bench/pkg/measure"
)

// Driver executes a run and returns one total elapsed time per meta-sample,
// in milliseconds, each covering NRep back-to-back launches.
type Driver interface {
	Run(ctx context.Context, rc measure.RunConfig) (measure.SampleSet, error)
}
