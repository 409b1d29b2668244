package kernel

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
)

// ErrUnknownFunction is returned when a pipeline is requested for a kernel
// function the device does not provide.
var ErrUnknownFunction = errors.New("unknown kernel function")

// SoftwareConfig shapes a SoftwareDevice.
type SoftwareConfig struct {
	ExecutionWidth     int
	MaxThreadsPerGroup int
	Capability         Capability
	// Workers bounds the number of thread groups running at once.
	Workers int
}

// DefaultSoftwareConfig mirrors a typical discrete GPU.
func DefaultSoftwareConfig() SoftwareConfig {
	return SoftwareConfig{
		ExecutionWidth:     32,
		MaxThreadsPerGroup: 256,
		Capability:         NonUniformCapable,
		Workers:            runtime.GOMAXPROCS(0),
	}
}

// SoftwareDevice executes kernel dispatches on goroutines, one per thread
// group, honoring the exact dispatch geometry.
type SoftwareDevice struct {
	cfg        SoftwareConfig
	launched   atomic.Uint64
	dispatches atomic.Uint64
}

// NewSoftwareDevice creates a software device. Zero fields fall back to
// DefaultSoftwareConfig; Capability is taken as given.
func NewSoftwareDevice(cfg SoftwareConfig) *SoftwareDevice {
	def := DefaultSoftwareConfig()
	if cfg.ExecutionWidth <= 0 {
		cfg.ExecutionWidth = def.ExecutionWidth
	}
	if cfg.MaxThreadsPerGroup <= 0 {
		cfg.MaxThreadsPerGroup = def.MaxThreadsPerGroup
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &SoftwareDevice{cfg: cfg}
}

func (d *SoftwareDevice) Name() string           { return "software" }
func (d *SoftwareDevice) Capability() Capability { return d.cfg.Capability }
func (d *SoftwareDevice) Close() error           { return nil }

// Config returns the effective configuration.
func (d *SoftwareDevice) Config() SoftwareConfig {
	return d.cfg
}

// ThreadsLaunched returns the number of threads run across all dispatches.
func (d *SoftwareDevice) ThreadsLaunched() uint64 {
	return d.launched.Load()
}

// Dispatches returns the number of completed dispatches.
func (d *SoftwareDevice) Dispatches() uint64 {
	return d.dispatches.Load()
}

// NewPipeline returns the software rendition of function.
func (d *SoftwareDevice) NewPipeline(function string) (Pipeline, error) {
	switch function {
	case FunctionUniform:
		return &softwarePipeline{device: d, checked: true}, nil
	case FunctionNonUniform:
		return &softwarePipeline{device: d, checked: false}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, function)
	}
}

type softwarePipeline struct {
	device *SoftwareDevice
	// checked discards threads outside the image.
	checked bool
}

func (p *softwarePipeline) ExecutionWidth() int     { return p.device.cfg.ExecutionWidth }
func (p *softwarePipeline) MaxThreadsPerGroup() int { return p.device.cfg.MaxThreadsPerGroup }
func (p *softwarePipeline) Release()                {}

func (p *softwarePipeline) Dispatch(px fingerprint.Pixels, g Geometry, buf *Buffer) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- p.run(px, g, buf)
		p.device.dispatches.Add(1)
	}()
	return result
}

func (p *softwarePipeline) run(px fingerprint.Pixels, g Geometry, buf *Buffer) error {
	if g.Group.Volume() > p.device.cfg.MaxThreadsPerGroup {
		return fmt.Errorf("thread group %dx%dx%d exceeds %d threads", g.Group.X, g.Group.Y, g.Group.Z, p.device.cfg.MaxThreadsPerGroup)
	}

	groups := g.Groups()
	extent := g.Extent()

	var eg errgroup.Group
	eg.SetLimit(p.device.cfg.Workers)
	for gz := 0; gz < groups.Z; gz++ {
		for gy := 0; gy < groups.Y; gy++ {
			for gx := 0; gx < groups.X; gx++ {
				origin := Size{X: gx * g.Group.X, Y: gy * g.Group.Y, Z: gz * g.Group.Z}
				eg.Go(func() error {
					return p.runGroup(px, g.Group, origin, extent, buf)
				})
			}
		}
	}
	return eg.Wait()
}

// runGroup executes the threads of one group. Threads past extent are not
// launched, which trims edge groups of a non-uniform grid.
func (p *softwarePipeline) runGroup(px fingerprint.Pixels, group, origin, extent Size, buf *Buffer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("thread group at (%d,%d,%d) faulted: %v", origin.X, origin.Y, origin.Z, r)
		}
	}()

	var launched uint64
	for tz := 0; tz < group.Z; tz++ {
		if origin.Z+tz >= extent.Z {
			break
		}
		for ty := 0; ty < group.Y; ty++ {
			y := origin.Y + ty
			if y >= extent.Y {
				break
			}
			for tx := 0; tx < group.X; tx++ {
				x := origin.X + tx
				if x >= extent.X {
					break
				}
				launched++
				p.thread(px, x, y, buf)
			}
		}
	}
	p.device.launched.Add(launched)
	return nil
}

func (p *softwarePipeline) thread(px fingerprint.Pixels, x, y int, buf *Buffer) {
	if p.checked && (x >= px.Width || y >= px.Height) {
		return
	}
	buf.Increment(fingerprint.KeyOf(px.At(x, y), x, y, px.Width, px.Height))
}
