package measure

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const badGolden = "=== Result:\n" +
	"Time (minimum, ns):                  5000000 ns\n" +
	"Time (median, ns):                   6000000 ns\n" +
	"Bad Stability:                         20.00 %\n"

func newReporter(t *testing.T, nbMeta int) (*Reporter, *bytes.Buffer, string) {
	t.Helper()
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "output.csv")
	return &Reporter{
		Labels:     saxpyLabels,
		NbMeta:     nbMeta,
		OutputFile: path,
		Out:        &out,
		Logger:     zaptest.NewLogger(t),
	}, &out, path
}

func TestWriteConsoleTiers(t *testing.T) {
	cases := []struct {
		name string
		s    Summary
		want string
	}{
		{
			name: "bad",
			s:    Summary{TimeMin: 5, TimeMed: 6, Stability: 20, Tier: BadStability},
			want: badGolden,
		},
		{
			name: "average",
			s:    Summary{TimeMin: 100, TimeMed: 106, Stability: 6, Tier: AverageStability},
			want: "=== Result:\n" +
				"Time (minimum, ns):                100000000 ns\n" +
				"Time (median, ns):                 106000000 ns\n" +
				"Average Stability:                      6.00 %\n",
		},
		{
			name: "good",
			s:    Summary{TimeMin: 2, TimeMed: 2, Stability: 0, Tier: GoodStability},
			want: "=== Result:\n" +
				"Time (minimum, ns):                  2000000 ns\n" +
				"Time (median, ns):                   2000000 ns\n" +
				"Good Stability:                         0.00 %\n",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteConsole(&buf, c.s))
			assert.Equal(t, c.want, buf.String())
		})
	}
}

func TestReportWritesConsoleAndLog(t *testing.T) {
	r, out, path := newReporter(t, 7)
	rc := RunConfig{Size: 1024, BlockDim: 256, GridDim: 4, NRep: 2, NWarmup: 3}

	s, err := r.Report(rc, SampleSet{10, 12, 11, 10, 13, 15, 14})
	require.NoError(t, err)
	assert.Equal(t, BadStability, s.Tier)
	assert.Equal(t, badGolden, out.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"kernel,optim,problem_size,block_size,grid_size,NB_META,nrep,time_min,time_med,stability\n"+
			"saxpy,baseline,1024,256,4,7,2,5000000,6000000,20.00\n",
		string(data))
}

func TestReportRewritesLogEachRun(t *testing.T) {
	r, out, path := newReporter(t, 5)
	rc := RunConfig{Size: 10, BlockDim: 2, GridDim: 5, NRep: 1}

	_, err := r.Report(rc, SampleSet{1, 1, 1, 1, 1})
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	firstOut := out.String()

	out.Reset()
	_, err = r.Report(rc, SampleSet{1, 1, 1, 1, 1})
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, firstOut, out.String())
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, 2, bytes.Count(second, []byte("\n")))
}

func TestReportAppendMode(t *testing.T) {
	r, _, path := newReporter(t, 3)
	r.Append = true
	rc := RunConfig{Size: 10, BlockDim: 2, GridDim: 5, NRep: 1}

	for i := 0; i < 3; i++ {
		_, err := r.Report(rc, SampleSet{1, 2, 3})
		require.NoError(t, err)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(data, []byte("kernel,optim")))
	assert.Equal(t, 4, bytes.Count(data, []byte("\n")))
}

func TestReportSaveFailureIsNotFatal(t *testing.T) {
	r, out, _ := newReporter(t, 3)
	r.OutputFile = filepath.Join(t.TempDir(), "missing", "dir", "output.csv")

	s, err := r.Report(RunConfig{NRep: 1, BlockDim: 1, GridDim: 1}, SampleSet{3, 3, 3})
	require.NoError(t, err)
	assert.Equal(t, GoodStability, s.Tier)
	assert.Contains(t, out.String(), "=== Result:\n")
	assert.Contains(t, out.String(), "Couldn't open '"+r.OutputFile+"' file\n Measure not saved\n")
}

func TestReportRejectsWrongSampleCount(t *testing.T) {
	r, out, path := newReporter(t, 5)

	_, err := r.Report(RunConfig{NRep: 1}, SampleSet{1, 2, 3})
	assert.ErrorIs(t, err, ErrSampleCount)
	assert.Empty(t, out.String())
	assert.NoFileExists(t, path)
}

func TestRecord(t *testing.T) {
	s := Summary{
		Labels:    Labels{Kernel: "saxpy", Optim: "grid-stride"},
		RunConfig: RunConfig{Size: 1 << 20, BlockDim: 128, GridDim: 8192, NRep: 10},
		NbMeta:    31,
		TimeMin:   0.0123456,
		TimeMed:   0.0130001,
		Stability: 5.3012,
	}
	assert.Equal(t,
		[]string{"saxpy", "grid-stride", "1048576", "128", "8192", "31", "10", "12346", "13000", "5.30"},
		Record(s))
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/var/log/bench.csv", ResolvePath("/var/log/bench.csv"))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "output.csv"), ResolvePath("output.csv"))
}
