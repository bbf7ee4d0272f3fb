package device

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns the device backend registered under name.
func New(name string, logger *zap.Logger) (Device, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch name {
	case "sim", "simulated":
		d := NewSimulated()
		logger.Info("device ready", zap.String("device", d.Name()), zap.Int("workers", d.workers))
		return d, nil
	default:
		return nil, opErr("open", fmt.Errorf("%q: %w", name, ErrUnknownDevice))
	}
}
