package transform

import (
	"errors"
	"fmt"
)

// Configuration sentinels wrapped by ConfigError.
var (
	ErrUnknownKind  = errors.New("unknown transform kind")
	ErrChannelCount = errors.New("wrong number of input channels")
	ErrMixedDevices = errors.New("inputs must belong to the same device")
	ErrSampleCount  = errors.New("sample count must be positive")
	ErrImageNeedsIQ = errors.New("image markers need a complex spectrum")
)

// ConfigError rejects a configuration before setup. The transform keeps its
// previous configuration.
type ConfigError struct {
	Field string
	Value any
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("transform: invalid %s %v: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// AllocationError reports that setup could not build a transform's buffers
// or FFT plan. The transform stays disabled afterwards.
type AllocationError struct {
	Transform string
	Err       error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("transform %s: allocation failed: %v", e.Transform, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}
