//go:build gpu

package gpu

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#include <CL/cl.h>

// 3.0 query, absent from 1.2 headers.
#ifndef CL_DEVICE_NON_UNIFORM_WORK_GROUP_SUPPORT
#define CL_DEVICE_NON_UNIFORM_WORK_GROUP_SUPPORT 0x1065
#endif
*/
import "C"

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unsafe"
)

// Runtime owns the OpenCL context and command queue of the device the
// fingerprint kernels run on.
type Runtime struct {
	deviceID C.cl_device_id
	context  C.cl_context
	queue    C.cl_command_queue
	Platform PlatformInfo
	Device   DeviceInfo
}

type device struct {
	id       C.cl_device_id
	platform PlatformInfo
	info     DeviceInfo
}

// InitOpenCL opens the best ranked device across all platforms, see
// PreferDevice.
func InitOpenCL() (*Runtime, error) {
	_, devices, err := discover()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	best := slices.MaxFunc(devices, func(a, b device) int {
		switch {
		case PreferDevice(a.info, b.info):
			return 1
		case PreferDevice(b.info, a.info):
			return -1
		}
		return 0
	})

	var status C.cl_int
	context := C.clCreateContext(nil, 1, &best.id, nil, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateContext", status)
	}
	queue := C.clCreateCommandQueue(context, best.id, 0, &status)
	if status != C.CL_SUCCESS {
		C.clReleaseContext(context)
		return nil, statusError("clCreateCommandQueue", status)
	}

	return &Runtime{
		deviceID: best.id,
		context:  context,
		queue:    queue,
		Platform: best.platform,
		Device:   best.info,
	}, nil
}

// ContextPtr exposes the cl_context to packages with their own cgo bindings.
func (r *Runtime) ContextPtr() unsafe.Pointer { return unsafe.Pointer(r.context) }

// QueuePtr exposes the cl_command_queue.
func (r *Runtime) QueuePtr() unsafe.Pointer { return unsafe.Pointer(r.queue) }

// DevicePtr exposes the cl_device_id.
func (r *Runtime) DevicePtr() unsafe.Pointer { return unsafe.Pointer(r.deviceID) }

// Close releases the queue and context. It is safe to call twice.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.queue != nil {
		C.clReleaseCommandQueue(r.queue)
		r.queue = nil
	}
	if r.context != nil {
		C.clReleaseContext(r.context)
		r.context = nil
	}
}

// EnumeratePlatforms lists every platform with its devices.
func EnumeratePlatforms() ([]PlatformInfo, error) {
	platforms, _, err := discover()
	return platforms, err
}

// discover walks all platforms once. A platform without devices is listed
// with an empty device slice.
func discover() ([]PlatformInfo, []device, error) {
	var count C.cl_uint
	if status := C.clGetPlatformIDs(0, nil, &count); status != C.CL_SUCCESS {
		return nil, nil, statusError("clGetPlatformIDs", status)
	}
	if count == 0 {
		return nil, nil, nil
	}
	ids := make([]C.cl_platform_id, int(count))
	if status := C.clGetPlatformIDs(count, &ids[0], nil); status != C.CL_SUCCESS {
		return nil, nil, statusError("clGetPlatformIDs", status)
	}

	var (
		platforms []PlatformInfo
		devices   []device
	)
	for _, pid := range ids {
		platform, err := platformInfo(pid)
		if err != nil {
			return nil, nil, err
		}

		dids, err := deviceIDs(pid)
		if err != nil && !errors.Is(err, ErrNoDevices) {
			return nil, nil, err
		}
		found := make([]device, 0, len(dids))
		for _, did := range dids {
			info, err := deviceInfo(did)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", platform.Name, err)
			}
			platform.Devices = append(platform.Devices, info)
			found = append(found, device{id: did, info: info})
		}
		for i := range found {
			found[i].platform = platform
		}
		platforms = append(platforms, platform)
		devices = append(devices, found...)
	}
	return platforms, devices, nil
}

func platformInfo(id C.cl_platform_id) (PlatformInfo, error) {
	get := func(param C.cl_platform_info) (string, error) {
		return queryString("clGetPlatformInfo", func(size C.size_t, value unsafe.Pointer, ret *C.size_t) C.cl_int {
			return C.clGetPlatformInfo(id, param, size, value, ret)
		})
	}

	var p PlatformInfo
	var err error
	if p.Name, err = get(C.CL_PLATFORM_NAME); err != nil {
		return p, err
	}
	if p.Vendor, err = get(C.CL_PLATFORM_VENDOR); err != nil {
		return p, err
	}
	p.Version, err = get(C.CL_PLATFORM_VERSION)
	return p, err
}

func deviceIDs(platform C.cl_platform_id) ([]C.cl_device_id, error) {
	var count C.cl_uint
	status := C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, 0, nil, &count)
	if status == C.CL_DEVICE_NOT_FOUND || (status == C.CL_SUCCESS && count == 0) {
		return nil, ErrNoDevices
	}
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs", status)
	}

	ids := make([]C.cl_device_id, int(count))
	if status := C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, count, &ids[0], nil); status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs", status)
	}
	return ids, nil
}

func deviceInfo(id C.cl_device_id) (DeviceInfo, error) {
	get := func(param C.cl_device_info) (string, error) {
		return queryString("clGetDeviceInfo", func(size C.size_t, value unsafe.Pointer, ret *C.size_t) C.cl_int {
			return C.clGetDeviceInfo(id, param, size, value, ret)
		})
	}

	var d DeviceInfo
	var err error
	if d.Name, err = get(C.CL_DEVICE_NAME); err != nil {
		return d, err
	}
	if d.Vendor, err = get(C.CL_DEVICE_VENDOR); err != nil {
		return d, err
	}
	if d.Version, err = get(C.CL_DEVICE_VERSION); err != nil {
		return d, err
	}
	if d.CVersion, err = get(C.CL_DEVICE_OPENCL_C_VERSION); err != nil {
		return d, err
	}

	rawType, err := deviceScalar[C.cl_device_type](id, C.CL_DEVICE_TYPE)
	if err != nil {
		return d, err
	}
	d.Type = mapDeviceType(rawType)

	units, err := deviceScalar[C.cl_uint](id, C.CL_DEVICE_MAX_COMPUTE_UNITS)
	if err != nil {
		return d, err
	}
	d.MaxComputeUnits = uint32(units)

	groupSize, err := deviceScalar[C.size_t](id, C.CL_DEVICE_MAX_WORK_GROUP_SIZE)
	if err != nil {
		return d, err
	}
	d.MaxWorkGroupSize = int(groupSize)

	if v, err := ParseVersion(d.Version); err == nil {
		d.NonUniformWorkGroups = nonUniformSupport(v, func() (bool, error) {
			flag, err := deviceScalar[C.cl_bool](id, C.CL_DEVICE_NON_UNIFORM_WORK_GROUP_SUPPORT)
			return flag == C.CL_TRUE, err
		})
	}
	return d, nil
}

// deviceScalar reads a fixed-size clGetDeviceInfo value.
func deviceScalar[T any](id C.cl_device_id, param C.cl_device_info) (T, error) {
	var v T
	status := C.clGetDeviceInfo(id, param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), nil)
	if status != C.CL_SUCCESS {
		return v, statusError(fmt.Sprintf("clGetDeviceInfo(%#x)", int(param)), status)
	}
	return v, nil
}

// queryString runs the two-call size/value protocol shared by the
// clGet*Info string queries.
func queryString(call string, query func(size C.size_t, value unsafe.Pointer, ret *C.size_t) C.cl_int) (string, error) {
	var size C.size_t
	if status := query(0, nil, &size); status != C.CL_SUCCESS {
		return "", statusError(call, status)
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, int(size))
	if status := query(size, unsafe.Pointer(&buf[0]), nil); status != C.CL_SUCCESS {
		return "", statusError(call, status)
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

func mapDeviceType(dt C.cl_device_type) DeviceType {
	switch {
	case dt&C.CL_DEVICE_TYPE_GPU != 0:
		return DeviceTypeGPU
	case dt&C.CL_DEVICE_TYPE_CPU != 0:
		return DeviceTypeCPU
	case dt&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		return DeviceTypeAccelerator
	case dt&C.CL_DEVICE_TYPE_DEFAULT != 0:
		return DeviceTypeDefault
	default:
		return DeviceTypeUnknown
	}
}

// statusNames covers the codes the discovery and fingerprint paths can hit.
var statusNames = map[C.cl_int]string{
	C.CL_DEVICE_NOT_FOUND:              "CL_DEVICE_NOT_FOUND",
	C.CL_DEVICE_NOT_AVAILABLE:          "CL_DEVICE_NOT_AVAILABLE",
	C.CL_COMPILER_NOT_AVAILABLE:        "CL_COMPILER_NOT_AVAILABLE",
	C.CL_MEM_OBJECT_ALLOCATION_FAILURE: "CL_MEM_OBJECT_ALLOCATION_FAILURE",
	C.CL_OUT_OF_RESOURCES:              "CL_OUT_OF_RESOURCES",
	C.CL_OUT_OF_HOST_MEMORY:            "CL_OUT_OF_HOST_MEMORY",
	C.CL_BUILD_PROGRAM_FAILURE:         "CL_BUILD_PROGRAM_FAILURE",
	C.CL_INVALID_VALUE:                 "CL_INVALID_VALUE",
	C.CL_INVALID_PLATFORM:              "CL_INVALID_PLATFORM",
	C.CL_INVALID_DEVICE:                "CL_INVALID_DEVICE",
	C.CL_INVALID_CONTEXT:               "CL_INVALID_CONTEXT",
	C.CL_INVALID_COMMAND_QUEUE:         "CL_INVALID_COMMAND_QUEUE",
	C.CL_INVALID_BUILD_OPTIONS:         "CL_INVALID_BUILD_OPTIONS",
	C.CL_INVALID_KERNEL_NAME:           "CL_INVALID_KERNEL_NAME",
	C.CL_INVALID_WORK_GROUP_SIZE:       "CL_INVALID_WORK_GROUP_SIZE",
	C.CL_INVALID_GLOBAL_WORK_SIZE:      "CL_INVALID_GLOBAL_WORK_SIZE",
	C.CL_INVALID_BUFFER_SIZE:           "CL_INVALID_BUFFER_SIZE",
	C.CL_INVALID_OPERATION:             "CL_INVALID_OPERATION",
	C.CL_INVALID_PROGRAM_EXECUTABLE:    "CL_INVALID_PROGRAM_EXECUTABLE",
	C.CL_INVALID_KERNEL_ARGS:           "CL_INVALID_KERNEL_ARGS",
}

func statusError(call string, status C.cl_int) error {
	name, ok := statusNames[status]
	if !ok {
		name = "CL_UNKNOWN_ERROR"
	}
	return fmt.Errorf("%s: %s (%d)", call, name, int(status))
}
