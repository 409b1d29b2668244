//go:build gpu

package kernel

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#include <CL/cl.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
	"github.com/cwbudde/photofingerprint/internal/gpu"
)

// OpenCLDevice runs the fingerprint kernels on the preferred OpenCL device.
type OpenCLDevice struct {
	runtime    *gpu.Runtime
	version    gpu.Version
	capability Capability
}

// NewOpenCLDevice opens the preferred OpenCL device and derives its
// dispatch capability from the device's non-uniform work-group support.
func NewOpenCLDevice() (*OpenCLDevice, error) {
	rt, err := gpu.InitOpenCL()
	if err != nil {
		return nil, fmt.Errorf("opencl device: %w", err)
	}
	if rt.ContextPtr() == nil || rt.QueuePtr() == nil {
		rt.Close()
		return nil, fmt.Errorf("opencl device: missing context or queue")
	}

	d := &OpenCLDevice{runtime: rt, capability: CapabilityForDevice(rt.Device)}
	if version, err := gpu.ParseVersion(rt.Device.Version); err == nil {
		d.version = version
	} else {
		slog.Warn("Unknown OpenCL device version", "version", rt.Device.Version, "error", err)
	}

	slog.Info("OpenCL device opened",
		"device", rt.Device.Name,
		"vendor", rt.Device.Vendor,
		"version", d.version.String(),
		"opencl_c", rt.Device.CVersion,
		"capability", d.capability.String(),
		"compute_units", rt.Device.MaxComputeUnits,
	)
	return d, nil
}

func (d *OpenCLDevice) Name() string           { return d.runtime.Device.Name }
func (d *OpenCLDevice) Capability() Capability { return d.capability }
func (d *OpenCLDevice) Info() gpu.DeviceInfo   { return d.runtime.Device }

// Close releases the OpenCL context and queue.
func (d *OpenCLDevice) Close() error {
	d.runtime.Close()
	return nil
}

func (d *OpenCLDevice) context() C.cl_context     { return C.cl_context(d.runtime.ContextPtr()) }
func (d *OpenCLDevice) queue() C.cl_command_queue { return C.cl_command_queue(d.runtime.QueuePtr()) }
func (d *OpenCLDevice) device() C.cl_device_id    { return C.cl_device_id(d.runtime.DevicePtr()) }

// NewPipeline compiles the kernel source and extracts function.
func (d *OpenCLDevice) NewPipeline(function string) (Pipeline, error) {
	if function != FunctionUniform && function != FunctionNonUniform {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, function)
	}

	p := &openCLPipeline{device: d}

	source := C.CString(Source())
	defer C.free(unsafe.Pointer(source))

	var status C.cl_int
	p.program = C.clCreateProgramWithSource(d.context(), 1, &source, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, clError("clCreateProgramWithSource", status)
	}

	options := C.CString(buildOptions(function, d.runtime.Device))
	defer C.free(unsafe.Pointer(options))

	dev := d.device()
	status = C.clBuildProgram(p.program, 1, &dev, options, nil, nil)
	if status != C.CL_SUCCESS {
		p.dumpBuildLog()
		p.Release()
		return nil, clError("clBuildProgram", status)
	}

	name := C.CString(function)
	defer C.free(unsafe.Pointer(name))
	p.kernel = C.clCreateKernel(p.program, name, &status)
	if status != C.CL_SUCCESS {
		p.Release()
		return nil, clError("clCreateKernel", status)
	}

	var multiple, groupSize C.size_t
	status = C.clGetKernelWorkGroupInfo(p.kernel, dev, C.CL_KERNEL_PREFERRED_WORK_GROUP_SIZE_MULTIPLE, C.size_t(unsafe.Sizeof(multiple)), unsafe.Pointer(&multiple), nil)
	if status != C.CL_SUCCESS {
		p.Release()
		return nil, clError("clGetKernelWorkGroupInfo(multiple)", status)
	}
	status = C.clGetKernelWorkGroupInfo(p.kernel, dev, C.CL_KERNEL_WORK_GROUP_SIZE, C.size_t(unsafe.Sizeof(groupSize)), unsafe.Pointer(&groupSize), nil)
	if status != C.CL_SUCCESS {
		p.Release()
		return nil, clError("clGetKernelWorkGroupInfo(size)", status)
	}
	p.executionWidth = int(multiple)
	p.maxThreads = int(groupSize)

	return p, nil
}

type openCLPipeline struct {
	device  *OpenCLDevice
	program C.cl_program
	kernel  C.cl_kernel

	executionWidth int
	maxThreads     int

	// mu serializes kernel argument updates.
	mu sync.Mutex
}

func (p *openCLPipeline) ExecutionWidth() int     { return p.executionWidth }
func (p *openCLPipeline) MaxThreadsPerGroup() int { return p.maxThreads }

func (p *openCLPipeline) Dispatch(px fingerprint.Pixels, g Geometry, buf *Buffer) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- p.run(px, g, buf)
	}()
	return result
}

func (p *openCLPipeline) run(px fingerprint.Pixels, g Geometry, buf *Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx := p.device.context()
	queue := p.device.queue()

	var status C.cl_int
	pixelBytes := C.size_t(len(px.Data) * int(unsafe.Sizeof(fingerprint.Pixel(0))))
	pixels := C.clCreateBuffer(ctx, C.CL_MEM_READ_ONLY|C.CL_MEM_COPY_HOST_PTR, pixelBytes, unsafe.Pointer(&px.Data[0]), &status)
	if status != C.CL_SUCCESS {
		return clError("clCreateBuffer(pixels)", status)
	}
	defer C.clReleaseMemObject(pixels)

	words := buf.words()
	counters := C.clCreateBuffer(ctx, C.CL_MEM_READ_WRITE|C.CL_MEM_COPY_HOST_PTR, C.size_t(BufferSize), unsafe.Pointer(&words[0]), &status)
	if status != C.CL_SUCCESS {
		return clError("clCreateBuffer(counters)", status)
	}
	defer C.clReleaseMemObject(counters)

	width := C.cl_uint(px.Width)
	height := C.cl_uint(px.Height)
	args := []struct {
		name string
		size uintptr
		ptr  unsafe.Pointer
	}{
		{"pixels", unsafe.Sizeof(pixels), unsafe.Pointer(&pixels)},
		{"width", unsafe.Sizeof(width), unsafe.Pointer(&width)},
		{"height", unsafe.Sizeof(height), unsafe.Pointer(&height)},
		{"counters", unsafe.Sizeof(counters), unsafe.Pointer(&counters)},
	}
	for i, arg := range args {
		status = C.clSetKernelArg(p.kernel, C.cl_uint(i), C.size_t(arg.size), arg.ptr)
		if status != C.CL_SUCCESS {
			return clError("clSetKernelArg("+arg.name+")", status)
		}
	}

	extent := g.Extent()
	global := [2]C.size_t{C.size_t(extent.X), C.size_t(extent.Y)}
	local := [2]C.size_t{C.size_t(g.Group.X), C.size_t(g.Group.Y)}
	status = C.clEnqueueNDRangeKernel(queue, p.kernel, 2, nil, &global[0], &local[0], 0, nil, nil)
	if status != C.CL_SUCCESS {
		return clError("clEnqueueNDRangeKernel", status)
	}

	status = C.clFinish(queue)
	if status != C.CL_SUCCESS {
		return clError("clFinish", status)
	}

	status = C.clEnqueueReadBuffer(queue, counters, C.CL_TRUE, 0, C.size_t(BufferSize), unsafe.Pointer(&words[0]), 0, nil, nil)
	if status != C.CL_SUCCESS {
		return clError("clEnqueueReadBuffer(counters)", status)
	}

	buf.store(words)
	return nil
}

func (p *openCLPipeline) Release() {
	if p.kernel != nil {
		C.clReleaseKernel(p.kernel)
		p.kernel = nil
	}
	if p.program != nil {
		C.clReleaseProgram(p.program)
		p.program = nil
	}
}

func (p *openCLPipeline) dumpBuildLog() {
	dev := p.device.device()
	if p.program == nil || dev == nil {
		return
	}

	var logSize C.size_t
	if status := C.clGetProgramBuildInfo(p.program, dev, C.CL_PROGRAM_BUILD_LOG, 0, nil, &logSize); status != C.CL_SUCCESS || logSize == 0 {
		return
	}

	log := make([]byte, int(logSize))
	if status := C.clGetProgramBuildInfo(p.program, dev, C.CL_PROGRAM_BUILD_LOG, logSize, unsafe.Pointer(&log[0]), nil); status != C.CL_SUCCESS {
		return
	}

	slog.Error("OpenCL build log", "log", string(log))
}

func clError(prefix string, status C.cl_int) error {
	return fmt.Errorf("%s: status %d", prefix, int(status))
}
