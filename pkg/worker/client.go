package worker

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kunal/kernel-bench/pkg/measure"
)

// Client runs benchmarks on a remote bench worker. It satisfies
// driver.Driver, so the CLI can swap it in for a local device.
type Client struct {
	conn *grpc.ClientConn

	Kernel string
	Optim  string
	NbMeta int
	Seed   int64
	Verify bool
}

// Dial connects to the worker at addr. Extra options are appended to the
// default insecure transport.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("bench worker %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Run(ctx context.Context, rc measure.RunConfig) (measure.SampleSet, error) {
	in, err := EncodeRequest(Request{
		Kernel:    c.Kernel,
		Optim:     c.Optim,
		RunConfig: rc,
		NbMeta:    c.NbMeta,
		Seed:      c.Seed,
		Verify:    c.Verify,
	})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, RunFullMethod, in, out); err != nil {
		return nil, err
	}
	resp, err := DecodeResponse(out)
	if err != nil {
		return nil, err
	}
	if len(resp.Samples) != c.NbMeta {
		return nil, fmt.Errorf("worker returned %d samples, want %d: %w", len(resp.Samples), c.NbMeta, measure.ErrSampleCount)
	}
	return resp.Samples, nil
}

func (c *Client) Close() error { return c.conn.Close() }
