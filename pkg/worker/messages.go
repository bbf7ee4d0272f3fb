package worker

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kunal/kernel-bench/pkg/measure"
)

var ErrBadMessage = errors.New("malformed bench message")

// Request asks a bench worker for one run.
type Request struct {
	Kernel string
	Optim  string
	measure.RunConfig
	NbMeta int
	Seed   int64
	Verify bool
}

// Response carries the raw samples of a run back to the caller.
type Response struct {
	Device  string
	Samples measure.SampleSet
}

func EncodeRequest(r Request) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"kernel":    r.Kernel,
		"optim":     r.Optim,
		"size":      r.Size,
		"block_dim": r.BlockDim,
		"grid_dim":  r.GridDim,
		"nrep":      r.NRep,
		"nwu":       r.NWarmup,
		"nb_meta":   r.NbMeta,
		// int64 does not survive a float64 round-trip
		"seed":   strconv.FormatInt(r.Seed, 10),
		"verify": r.Verify,
	})
}

func DecodeRequest(s *structpb.Struct) (Request, error) {
	f := s.GetFields()
	var r Request
	var err error
	if r.Kernel, err = str(f, "kernel"); err != nil {
		return r, err
	}
	if r.Optim, err = str(f, "optim"); err != nil {
		return r, err
	}
	for _, u := range []struct {
		key string
		dst *uint32
	}{
		{"size", &r.Size},
		{"block_dim", &r.BlockDim},
		{"grid_dim", &r.GridDim},
		{"nrep", &r.NRep},
		{"nwu", &r.NWarmup},
	} {
		if *u.dst, err = uint32Field(f, u.key); err != nil {
			return r, err
		}
	}
	nb, err := uint32Field(f, "nb_meta")
	if err != nil {
		return r, err
	}
	r.NbMeta = int(nb)

	seed, err := str(f, "seed")
	if err != nil {
		return r, err
	}
	if r.Seed, err = strconv.ParseInt(seed, 10, 64); err != nil {
		return r, fmt.Errorf("seed %q: %w", seed, ErrBadMessage)
	}
	if v, ok := f["verify"]; ok {
		r.Verify = v.GetBoolValue()
	}
	return r, nil
}

func EncodeResponse(r Response) (*structpb.Struct, error) {
	samples := make([]any, len(r.Samples))
	for i, v := range r.Samples {
		samples[i] = v
	}
	return structpb.NewStruct(map[string]any{
		"device":  r.Device,
		"samples": samples,
	})
}

func DecodeResponse(s *structpb.Struct) (Response, error) {
	f := s.GetFields()
	r := Response{Device: f["device"].GetStringValue()}
	list, ok := f["samples"].GetKind().(*structpb.Value_ListValue)
	if !ok {
		return r, fmt.Errorf("samples: %w", ErrBadMessage)
	}
	r.Samples = measure.NewSampleSet(len(list.ListValue.GetValues()))
	for i, v := range list.ListValue.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return r, fmt.Errorf("samples[%d]: %w", i, ErrBadMessage)
		}
		r.Samples[i] = n.NumberValue
	}
	return r, nil
}

func str(f map[string]*structpb.Value, key string) (string, error) {
	v, ok := f[key].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrBadMessage)
	}
	return v.StringValue, nil
}

func uint32Field(f map[string]*structpb.Value, key string) (uint32, error) {
	v, ok := f[key].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s: %w", key, ErrBadMessage)
	}
	n := v.NumberValue
	if n < 0 || n > math.MaxUint32 || n != math.Trunc(n) {
		return 0, fmt.Errorf("%s = %v: %w", key, n, ErrBadMessage)
	}
	return uint32(n), nil
}
