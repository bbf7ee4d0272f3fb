package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kunal/kernel-bench/pkg/device"
	"github.com/kunal/kernel-bench/pkg/driver"
	"github.com/kunal/kernel-bench/pkg/kernel"
	"github.com/kunal/kernel-bench/pkg/measure"
)

const (
	ServiceName   = "kernelbench.v1.BenchWorker"
	RunFullMethod = "/" + ServiceName + "/Run"

	// MaxNbMeta caps the meta-samples a single request may ask for.
	MaxNbMeta = 1 << 16
)

// BenchServer is the server side of the BenchWorker service.
type BenchServer interface {
	Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var benchServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BenchServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kernelbench/v1/bench.proto",
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BenchServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BenchServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Worker serves benchmark runs on the single device it owns. Runs are
// serialized: concurrent requests wait for the device.
type Worker struct {
	mu      sync.Mutex
	dev     device.Device
	metrics *Metrics
	logger  *zap.Logger
}

// New creates a Worker driving dev.
func New(dev device.Device, logger *zap.Logger) *Worker {
	return &Worker{
		dev:     dev,
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// RegisterGRPC registers the BenchWorker service.
func (w *Worker) RegisterGRPC(s grpc.ServiceRegistrar) {
	s.RegisterService(&benchServiceDesc, w)
}

// RegisterMetricsHTTP registers the /metrics and /health endpoints.
func (w *Worker) RegisterMetricsHTTP(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(w.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("OK"))
	})
}

// Metrics returns the worker's collectors.
func (w *Worker) Metrics() *Metrics { return w.metrics }

// Run executes one benchmark run and returns its raw samples.
func (w *Worker) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := DecodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := req.RunConfig.Validate(); err != nil {
		w.metrics.observeFailure(req, "invalid")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.NbMeta < 1 || req.NbMeta > MaxNbMeta {
		w.metrics.observeFailure(req, "invalid")
		return nil, status.Errorf(codes.InvalidArgument, "nb_meta %d not in [1, %d]: %v", req.NbMeta, MaxNbMeta, measure.ErrSampleCount)
	}
	k, err := kernel.New(req.Kernel, req.Optim)
	if err != nil {
		w.metrics.observeFailure(req, "invalid")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	local := &driver.Local{
		Dev:    w.dev,
		Kernel: k,
		NbMeta: req.NbMeta,
		Seed:   req.Seed,
		Verify: req.Verify,
		Logger: w.logger,
	}
	samples, err := local.Run(ctx, req.RunConfig)
	if err != nil {
		w.metrics.observeFailure(req, "error")
		w.logger.Warn("run failed",
			zap.String("kernel", req.Kernel),
			zap.String("optim", req.Optim),
			zap.Error(err),
		)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	w.metrics.observeRun(req, samples)
	w.logger.Info("run served",
		zap.String("kernel", req.Kernel),
		zap.String("optim", req.Optim),
		zap.Uint32("size", req.Size),
		zap.Int("nb_meta", req.NbMeta),
	)
	return EncodeResponse(Response{Device: w.dev.Name(), Samples: samples})
}
