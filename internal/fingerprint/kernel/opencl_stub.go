//go:build !gpu

package kernel

import (
	"fmt"

	"github.com/cwbudde/photofingerprint/internal/gpu"
)

// OpenCLDevice is unavailable without the gpu build tag.
type OpenCLDevice struct{}

// NewOpenCLDevice returns gpu.ErrNotBuilt.
func NewOpenCLDevice() (*OpenCLDevice, error) {
	return nil, fmt.Errorf("opencl device: %w", gpu.ErrNotBuilt)
}

func (d *OpenCLDevice) Name() string           { return "opencl" }
func (d *OpenCLDevice) Capability() Capability { return UniformOnly }
func (d *OpenCLDevice) Info() gpu.DeviceInfo   { return gpu.DeviceInfo{} }
func (d *OpenCLDevice) Close() error           { return nil }

func (d *OpenCLDevice) NewPipeline(string) (Pipeline, error) {
	return nil, gpu.ErrNotBuilt
}
