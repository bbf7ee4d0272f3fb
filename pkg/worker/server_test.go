package worker

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/kunal/kernel-bench/pkg/device"
	"github.com/kunal/kernel-bench/pkg/measure"
)

// tickClock advances by step on every reading.
func tickClock(step time.Duration) func() time.Time {
	now := time.Unix(0, 0)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

func startWorker(t *testing.T, dev device.Device) (*Worker, *Client) {
	t.Helper()
	w := New(dev, zaptest.NewLogger(t))

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	w.RegisterGRPC(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	c.Kernel, c.Optim = "saxpy", "grid-stride"
	c.NbMeta = 5
	c.Verify = true
	return w, c
}

func TestRemoteRun(t *testing.T) {
	w, c := startWorker(t, device.NewSimulated(device.WithClock(tickClock(4*time.Millisecond))))

	samples, err := c.Run(context.Background(), measure.RunConfig{Size: 500, BlockDim: 64, GridDim: 2, NRep: 2, NWarmup: 1})
	require.NoError(t, err)
	assert.Equal(t, measure.SampleSet{4, 4, 4, 4, 4}, samples)

	m := w.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("saxpy", "grid-stride", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Stability.WithLabelValues("saxpy", "grid-stride")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RepTime))
}

func TestRemoteRunInvalidArgument(t *testing.T) {
	w, c := startWorker(t, device.NewSimulated())

	_, err := c.Run(context.Background(), measure.RunConfig{Size: 10, BlockDim: 0, GridDim: 1, NRep: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, err.Error(), measure.ErrZeroBlock.Error())

	c.Optim = "tiled"
	_, err = c.Run(context.Background(), measure.RunConfig{Size: 10, BlockDim: 1, GridDim: 1, NRep: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	c.Optim, c.NbMeta = "baseline", 0
	_, err = c.Run(context.Background(), measure.RunConfig{Size: 10, BlockDim: 1, GridDim: 1, NRep: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	assert.Equal(t, 1.0, testutil.ToFloat64(w.Metrics().RunsTotal.WithLabelValues("saxpy", "grid-stride", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(w.Metrics().RunsTotal.WithLabelValues("saxpy", "tiled", "invalid")))
}

func TestRemoteRunCapsMetaSamples(t *testing.T) {
	w, c := startWorker(t, device.NewSimulated())

	c.NbMeta = 4_000_000_000
	_, err := c.Run(context.Background(), measure.RunConfig{Size: 10, BlockDim: 1, GridDim: 10, NRep: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, err.Error(), "nb_meta 4000000000")

	c.NbMeta = MaxNbMeta + 1
	_, err = c.Run(context.Background(), measure.RunConfig{Size: 10, BlockDim: 1, GridDim: 10, NRep: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, 2.0, testutil.ToFloat64(w.Metrics().RunsTotal.WithLabelValues("saxpy", "grid-stride", "invalid")))
}

func TestRemoteRunDeviceFailure(t *testing.T) {
	w, c := startWorker(t, device.NewSimulated(device.WithMemoryLimit(8)))

	_, err := c.Run(context.Background(), measure.RunConfig{Size: 100, BlockDim: 32, GridDim: 4, NRep: 1})
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, err.Error(), "out of device memory")
	assert.Equal(t, 1.0, testutil.ToFloat64(w.Metrics().RunsTotal.WithLabelValues("saxpy", "grid-stride", "error")))
}

func TestMetricsHTTP(t *testing.T) {
	w, c := startWorker(t, device.NewSimulated())
	_, err := c.Run(context.Background(), measure.RunConfig{Size: 64, BlockDim: 64, GridDim: 1, NRep: 1})
	require.NoError(t, err)

	mux := http.NewServeMux()
	w.RegisterMetricsHTTP(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	n, err := testutil.GatherAndCount(w.Metrics().Registry(), "kernelbench_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `kernelbench_runs_total{kernel="saxpy",optim="grid-stride",status="ok"} 1`)
}
