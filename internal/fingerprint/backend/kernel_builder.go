package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
	"github.com/cwbudde/photofingerprint/internal/fingerprint/kernel"
	"github.com/cwbudde/photofingerprint/internal/metrics"
)

// KernelBuilder runs the accumulation kernel and degrades to the CPU
// builder once the kernel fails.
type KernelBuilder struct {
	backend  Backend
	kernel   *kernel.Kernel
	fallback *CPU
	logger   *slog.Logger
	degraded atomic.Bool
}

func newKernelBuilder(backend Backend, device kernel.Device, logger *slog.Logger) (Builder, func(), error) {
	k := kernel.NewKernel(device, kernel.WithLogger(logger))
	b := NewKernelBuilder(backend, k, logger)

	cleanup := func() {
		k.Close()
		if err := device.Close(); err != nil {
			logger.Warn("Failed to close device", "device", device.Name(), "error", err)
		}
	}
	return b, cleanup, nil
}

// NewKernelBuilder wraps k. A kernel whose pipeline already failed yields a
// builder that starts out degraded.
func NewKernelBuilder(backend Backend, k *kernel.Kernel, logger *slog.Logger) *KernelBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	b := &KernelBuilder{
		backend:  backend,
		kernel:   k,
		fallback: NewCPU(),
		logger:   logger,
	}
	if err := k.Err(); err != nil {
		b.degrade("pipeline", err)
	} else {
		logger.Info("Kernel backend initialised",
			"backend", string(backend),
			"device", k.Device().Name(),
			"capability", k.Capability().String(),
		)
	}
	return b
}

func (b *KernelBuilder) Backend() Backend { return b.backend }

// Degraded reports whether builds are being answered by the CPU builder.
func (b *KernelBuilder) Degraded() bool {
	return b.degraded.Load()
}

// Kernel returns the wrapped kernel.
func (b *KernelBuilder) Kernel() *kernel.Kernel {
	return b.kernel
}

// Build runs one kernel pass over px. Context errors are returned as is;
// any other kernel failure switches this builder to the CPU path.
func (b *KernelBuilder) Build(ctx context.Context, px fingerprint.Pixels) (fingerprint.Fingerprint, error) {
	fp, _, err := b.build(ctx, px)
	return fp, err
}

// build is Build that also names the path which produced the fingerprint.
func (b *KernelBuilder) build(ctx context.Context, px fingerprint.Pixels) (fingerprint.Fingerprint, Backend, error) {
	if err := px.Validate(); err != nil {
		return fingerprint.Fingerprint{}, b.backend, err
	}
	if b.degraded.Load() {
		metrics.BackendFallbacksTotal.WithLabelValues(string(b.backend), "degraded").Inc()
		return b.fallbackBuild(ctx, px)
	}

	start := time.Now()
	fp, err := b.kernel.Fingerprint(ctx, px)
	switch {
	case err == nil:
		observe(b.backend, px, start)
		if g, gerr := b.kernel.Geometry(px.Width, px.Height); gerr == nil && px.Len() > 0 {
			metrics.KernelDispatchThreads.Observe(float64(g.Threads()))
		}
		return fp, b.backend, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fingerprint.Fingerprint{}, b.backend, err
	case errors.Is(err, kernel.ErrIncompleteAccumulation):
		b.degrade("incomplete", err)
	default:
		b.degrade("dispatch", err)
	}

	metrics.BackendFallbacksTotal.WithLabelValues(string(b.backend), "degraded").Inc()
	return b.fallbackBuild(ctx, px)
}

func (b *KernelBuilder) fallbackBuild(ctx context.Context, px fingerprint.Pixels) (fingerprint.Fingerprint, Backend, error) {
	fp, err := b.fallback.Build(ctx, px)
	return fp, b.fallback.Backend(), err
}

func (b *KernelBuilder) degrade(reason string, err error) {
	if b.degraded.Swap(true) {
		return
	}
	metrics.BackendFallbacksTotal.WithLabelValues(string(b.backend), reason).Inc()
	b.logger.Warn("Kernel backend degraded to CPU",
		"backend", string(b.backend),
		"reason", reason,
		"error", err,
	)
}
