// Package backend selects and wraps fingerprint builders.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
	"github.com/cwbudde/photofingerprint/internal/fingerprint/kernel"
	"github.com/cwbudde/photofingerprint/internal/metrics"
)

// Backend identifies a builder implementation.
type Backend string

const (
	BackendCPU      Backend = "cpu"
	BackendSoftware Backend = "software"
	BackendOpenCL   Backend = "opencl"
)

var (
	// ErrUnknownBackend is returned when the name does not match a known backend.
	ErrUnknownBackend = errors.New("unknown fingerprint backend")
	// ErrBackendUnavailable indicates the backend cannot run in this build or on this host.
	ErrBackendUnavailable = errors.New("fingerprint backend unavailable")
)

var noopCleanup = func() {}

// NormalizeBackend maps arbitrary user input to a canonical backend identifier.
func NormalizeBackend(name string) Backend {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cpu":
		return BackendCPU
	case "software", "sw", "soft":
		return BackendSoftware
	case "gpu", "opencl", "cl":
		return BackendOpenCL
	default:
		return Backend(name)
	}
}

// SupportedBackends returns the list of backends understood by the factory.
func SupportedBackends() []Backend {
	return []Backend{BackendCPU, BackendSoftware, BackendOpenCL}
}

// Builder produces fingerprints from pixel buffers.
type Builder interface {
	Backend() Backend
	Build(ctx context.Context, px fingerprint.Pixels) (fingerprint.Fingerprint, error)
}

// BuildWithBackend builds px with b and also returns the backend that
// produced the fingerprint, which is BackendCPU once a KernelBuilder has
// degraded.
func BuildWithBackend(ctx context.Context, b Builder, px fingerprint.Pixels) (fingerprint.Fingerprint, Backend, error) {
	if kb, ok := b.(*KernelBuilder); ok {
		return kb.build(ctx, px)
	}
	fp, err := b.Build(ctx, px)
	return fp, b.Backend(), err
}

// Options tunes the builders created by NewBuilderForBackend.
type Options struct {
	Software kernel.SoftwareConfig
	Logger   *slog.Logger
}

// NewBuilderForBackend constructs the requested builder and returns a cleanup hook.
func NewBuilderForBackend(name string, opts Options) (Builder, func(), error) {
	backend := NormalizeBackend(name)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch backend {
	case BackendCPU:
		return NewCPU(), noopCleanup, nil
	case BackendSoftware:
		device := kernel.NewSoftwareDevice(opts.Software)
		return newKernelBuilder(backend, device, logger)
	case BackendOpenCL:
		device, err := kernel.NewOpenCLDevice()
		if err != nil {
			return nil, noopCleanup, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return newKernelBuilder(backend, device, logger)
	default:
		return nil, noopCleanup, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
}

// CPU is the reference builder.
type CPU struct {
	builder *fingerprint.CPUBuilder
}

// NewCPU returns the CPU builder.
func NewCPU() *CPU {
	return &CPU{builder: fingerprint.NewCPUBuilder()}
}

func (c *CPU) Backend() Backend { return BackendCPU }

// Build validates px and builds its fingerprint on the calling goroutine.
func (c *CPU) Build(_ context.Context, px fingerprint.Pixels) (fingerprint.Fingerprint, error) {
	if err := px.Validate(); err != nil {
		return fingerprint.Fingerprint{}, err
	}
	start := time.Now()
	fp := c.builder.Build(px)
	observe(BackendCPU, px, start)
	return fp, nil
}

func observe(backend Backend, px fingerprint.Pixels, start time.Time) {
	metrics.FingerprintsBuiltTotal.WithLabelValues(string(backend)).Inc()
	metrics.FingerprintBuildDurationSeconds.WithLabelValues(string(backend)).Observe(time.Since(start).Seconds())
	metrics.PixelsProcessedTotal.Add(float64(px.Len()))
}
