package measure

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// CSVHeader is the first line of the measurement log.
var CSVHeader = []string{
	"kernel", "optim", "problem_size", "block_size", "grid_size",
	"NB_META", "nrep", "time_min", "time_med", "stability",
}

// WriteConsole prints the human-readable result block.
func WriteConsole(w io.Writer, s Summary) error {
	if _, err := fmt.Fprintf(w, "=== Result:\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Time (minimum, ns): %13s %10.0f ns\n", "", s.MinNs()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Time (median, ns):  %13s %10.0f ns\n", "", s.MedNs()); err != nil {
		return err
	}

	var err error
	switch s.Tier {
	case BadStability:
		_, err = fmt.Fprintf(w, "Bad Stability: %18s %10.2f %%\n", "", s.Stability)
	case AverageStability:
		_, err = fmt.Fprintf(w, "Average Stability: %14s %10.2f %%\n", "", s.Stability)
	default:
		_, err = fmt.Fprintf(w, "Good Stability: %17s %10.2f %%\n", "", s.Stability)
	}
	return err
}

// Record renders the summary as one CSV row matching CSVHeader.
func Record(s Summary) []string {
	return []string{
		s.Kernel,
		s.Optim,
		strconv.FormatUint(uint64(s.Size), 10),
		strconv.FormatUint(uint64(s.BlockDim), 10),
		strconv.FormatUint(uint64(s.GridDim), 10),
		strconv.Itoa(s.NbMeta),
		strconv.FormatUint(uint64(s.NRep), 10),
		strconv.FormatFloat(s.MinNs(), 'f', 0, 64),
		strconv.FormatFloat(s.MedNs(), 'f', 0, 64),
		strconv.FormatFloat(s.Stability, 'f', 2, 64),
	}
}

// Reporter turns a sample set into console output and a log row.
type Reporter struct {
	Labels
	NbMeta     int
	OutputFile string
	// Append keeps earlier rows; the default rewrites the file on every run.
	Append bool
	Out    io.Writer
	Logger *zap.Logger
}

// Report reduces samples, prints the result and saves it. Failing to save
// is reported on Out and does not fail the run.
func (r *Reporter) Report(rc RunConfig, samples SampleSet) (Summary, error) {
	logger := r.logger()

	if len(samples) != r.NbMeta {
		return Summary{}, fmt.Errorf("got %d samples, want %d: %w", len(samples), r.NbMeta, ErrSampleCount)
	}
	s, err := Reduce(r.Labels, rc, samples)
	if err != nil {
		return Summary{}, err
	}
	if !s.StabilityDefined {
		logger.Warn("minimum time is zero, stability reported as 0",
			zap.String("kernel", s.Kernel), zap.String("optim", s.Optim))
	}

	if err := WriteConsole(r.Out, s); err != nil {
		return s, fmt.Errorf("write report: %w", err)
	}

	d := Describe(samples, rc.NRep)
	logger.Info("measurement",
		zap.String("kernel", s.Kernel),
		zap.String("optim", s.Optim),
		zap.Float64("time_min_ns", s.MinNs()),
		zap.Float64("time_med_ns", s.MedNs()),
		zap.Float64("stability_pct", s.Stability),
		zap.Stringer("tier", s.Tier),
		zap.Float64("mean_ns", d.Mean*DisplayScale),
		zap.Float64("stddev_ns", d.StdDev*DisplayScale),
		zap.Float64("p90_ns", d.P90*DisplayScale),
		zap.Float64("max_ns", d.Max*DisplayScale),
	)

	if err := r.Save(s); err != nil {
		path := ResolvePath(r.OutputFile)
		logger.Warn("measure not saved", zap.String("path", path), zap.Error(err))
		fmt.Fprintf(r.Out, "Couldn't open '%s' file\n Measure not saved\n", path)
	}
	return s, nil
}

// Save writes the header and the summary row to OutputFile.
func (r *Reporter) Save(s Summary) (err error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if r.Append {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(r.OutputFile, flags, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	writeHeader := true
	if r.Append {
		info, err := f.Stat()
		if err != nil {
			return err
		}
		writeHeader = info.Size() == 0
	}

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(CSVHeader); err != nil {
			return err
		}
	}
	if err := w.Write(Record(s)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (r *Reporter) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// ResolvePath returns the absolute form of path against the working directory.
func ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
