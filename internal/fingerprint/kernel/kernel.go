package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
)

var (
	// ErrPipelineUnavailable is returned by every Encode on a kernel whose
	// pipeline could not be built.
	ErrPipelineUnavailable = errors.New("fingerprint pipeline unavailable")
	// ErrIncompleteAccumulation is returned when the read-back counters do
	// not add up to the pixel count.
	ErrIncompleteAccumulation = errors.New("incomplete accumulation")
)

// Kernel accumulates fingerprints on a Device. Its dispatch policy is fixed
// from the device capability at construction.
type Kernel struct {
	device     Device
	dispatcher Dispatcher
	pipeline   Pipeline
	err        error
	logger     *slog.Logger
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger used for pipeline and dispatch events.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// NewKernel builds the pipeline for device. A build failure does not fail
// construction; it is kept and returned by every Encode.
func NewKernel(device Device, opts ...Option) *Kernel {
	k := &Kernel{
		device: device,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}

	capability := device.Capability()
	function := FunctionFor(capability)

	pipeline, err := device.NewPipeline(function)
	if err != nil {
		k.err = fmt.Errorf("%w: %s on %s: %v", ErrPipelineUnavailable, function, device.Name(), err)
		k.logger.Error("Failed to build fingerprint pipeline",
			"device", device.Name(),
			"function", function,
			"error", err,
		)
		return k
	}

	k.pipeline = pipeline
	k.dispatcher = NewDispatcher(capability, pipeline.ExecutionWidth(), pipeline.MaxThreadsPerGroup())
	k.logger.Debug("Fingerprint pipeline ready",
		"device", device.Name(),
		"function", function,
		"capability", capability.String(),
		"execution_width", pipeline.ExecutionWidth(),
		"max_threads_per_group", pipeline.MaxThreadsPerGroup(),
	)
	return k
}

// Err returns the cached pipeline error, or nil.
func (k *Kernel) Err() error {
	return k.err
}

// Capability returns the dispatch capability fixed at construction.
func (k *Kernel) Capability() Capability {
	if k.dispatcher == nil {
		return k.device.Capability()
	}
	return k.dispatcher.Capability()
}

// Device returns the device the kernel runs on.
func (k *Kernel) Device() Device {
	return k.device
}

// Geometry returns the dispatch geometry Encode would use for a
// width x height image.
func (k *Kernel) Geometry(width, height int) (Geometry, error) {
	if k.err != nil {
		return Geometry{}, k.err
	}
	return k.dispatcher.Geometry(width, height), nil
}

// Encode submits one accumulation pass of px into buf. buf must not be read
// until the returned Submission completes. On a pipeline error buf is left
// untouched.
func (k *Kernel) Encode(px fingerprint.Pixels, buf *Buffer) (*Submission, error) {
	if k.err != nil {
		return nil, k.err
	}
	if err := px.Validate(); err != nil {
		return nil, err
	}

	sub := &Submission{
		buf:  buf,
		done: make(chan struct{}),
	}

	if px.Len() == 0 {
		close(sub.done)
		return sub, nil
	}

	geometry := k.dispatcher.Geometry(px.Width, px.Height)
	sub.geometry = geometry
	started := time.Now()
	result := k.pipeline.Dispatch(px, geometry, buf)

	go func() {
		sub.err = <-result
		close(sub.done)
		k.logger.Debug("Fingerprint dispatch completed",
			"device", k.device.Name(),
			"width", px.Width,
			"height", px.Height,
			"threads", geometry.Threads(),
			"duration", time.Since(started),
			"error", sub.err,
		)
	}()

	return sub, nil
}

// Fingerprint runs a full pass over px on a fresh buffer and normalizes the
// read-back counters.
func (k *Kernel) Fingerprint(ctx context.Context, px fingerprint.Pixels) (fingerprint.Fingerprint, error) {
	buf, err := k.Accumulate(ctx, px)
	if err != nil {
		return fingerprint.Fingerprint{}, err
	}
	return fingerprint.Normalize(buf.Counts(), px.Len()), nil
}

// Accumulate runs a full pass over px and returns the checked counters.
func (k *Kernel) Accumulate(ctx context.Context, px fingerprint.Pixels) (*Buffer, error) {
	sub, err := k.Encode(px, NewBuffer())
	if err != nil {
		return nil, err
	}
	buf, err := sub.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if total := buf.Total(); total != uint64(px.Len()) {
		return nil, fmt.Errorf("%w: counters sum to %d, expected %d", ErrIncompleteAccumulation, total, px.Len())
	}
	return buf, nil
}

// Close releases the pipeline. The device stays open.
func (k *Kernel) Close() {
	if k.pipeline != nil {
		k.pipeline.Release()
		k.pipeline = nil
	}
	if k.err == nil {
		k.err = fmt.Errorf("%w: kernel closed", ErrPipelineUnavailable)
	}
}

// Submission is an in-flight accumulation pass.
type Submission struct {
	buf      *Buffer
	geometry Geometry
	done     chan struct{}
	err      error
}

// Geometry returns the geometry the pass was dispatched with. It is zero
// for an empty image.
func (s *Submission) Geometry() Geometry {
	return s.geometry
}

// Done is closed when the pass completes.
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the pass completes and returns its buffer. Giving up
// through ctx does not cancel the device work.
func (s *Submission) Wait(ctx context.Context) (*Buffer, error) {
	select {
	case <-s.done:
		if s.err != nil {
			return nil, s.err
		}
		return s.buf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
