package kernel

import "github.com/cwbudde/photofingerprint/internal/fingerprint"

// Device is a compute target able to build fingerprint pipelines.
type Device interface {
	Name() string
	// Capability is queried once, when a Kernel is constructed.
	Capability() Capability
	// NewPipeline compiles the named kernel function.
	NewPipeline(function string) (Pipeline, error)
	Close() error
}

// Pipeline is a compiled kernel function bound to a device.
type Pipeline interface {
	// ExecutionWidth is the device's preferred SIMD width for this pipeline.
	ExecutionWidth() int
	// MaxThreadsPerGroup bounds the thread group volume.
	MaxThreadsPerGroup() int
	// Dispatch launches one logical thread per grid cell. Every thread
	// that lands inside the image increments one counter in buf. The
	// returned channel receives exactly one value when the work completes.
	Dispatch(px fingerprint.Pixels, g Geometry, buf *Buffer) <-chan error
	Release()
}
