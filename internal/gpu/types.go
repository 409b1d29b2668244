package gpu

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotBuilt indicates the binary was built without GPU support.
	ErrNotBuilt = errors.New("opencl support requires building with '-tags gpu'")
	// ErrNoDevices indicates that no usable OpenCL devices were found.
	ErrNoDevices = errors.New("no OpenCL devices found")
)

// DeviceType describes the class of an OpenCL device.
type DeviceType string

const (
	DeviceTypeGPU         DeviceType = "GPU"
	DeviceTypeCPU         DeviceType = "CPU"
	DeviceTypeAccelerator DeviceType = "Accelerator"
	DeviceTypeDefault     DeviceType = "Default"
	DeviceTypeUnknown     DeviceType = "Unknown"
)

// DeviceInfo captures what the fingerprint kernels need to know about an
// OpenCL device.
type DeviceInfo struct {
	Name             string
	Vendor           string
	Version          string // CL_DEVICE_VERSION
	CVersion         string // CL_DEVICE_OPENCL_C_VERSION
	Type             DeviceType
	MaxComputeUnits  uint32
	MaxWorkGroupSize int

	// NonUniformWorkGroups reports whether a global size that is not a
	// multiple of the work-group size may be enqueued.
	NonUniformWorkGroups bool
}

// CStd returns the -cl-std value kernels relying on non-uniform work
// groups are built with on this device.
func (d DeviceInfo) CStd() string {
	if v, err := ParseVersion(d.CVersion); err == nil && v.Major >= 3 {
		return "CL3.0"
	}
	return "CL2.0"
}

// PreferDevice reports whether a ranks above b for running the fingerprint
// kernels: GPUs before CPUs before anything else, then devices that take the
// exact non-uniform grid, then more compute units.
func PreferDevice(a, b DeviceInfo) bool {
	if ra, rb := typeRank(a.Type), typeRank(b.Type); ra != rb {
		return ra > rb
	}
	if a.NonUniformWorkGroups != b.NonUniformWorkGroups {
		return a.NonUniformWorkGroups
	}
	return a.MaxComputeUnits > b.MaxComputeUnits
}

func typeRank(t DeviceType) int {
	switch t {
	case DeviceTypeGPU:
		return 2
	case DeviceTypeCPU:
		return 1
	default:
		return 0
	}
}

// PlatformInfo captures metadata about an OpenCL platform and its devices.
type PlatformInfo struct {
	Name    string
	Vendor  string
	Version string
	Devices []DeviceInfo
}

// Version is a parsed "OpenCL <major>.<minor> ..." or
// "OpenCL C <major>.<minor> ..." version string.
type Version struct {
	Major, Minor int
}

// ParseVersion parses the CL_DEVICE_VERSION, CL_PLATFORM_VERSION and
// CL_DEVICE_OPENCL_C_VERSION formats.
func ParseVersion(s string) (Version, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "OpenCL ")
	if !ok {
		return Version{}, fmt.Errorf("unrecognised OpenCL version %q", s)
	}
	rest = strings.TrimPrefix(rest, "C ")

	var v Version
	if _, err := fmt.Sscanf(rest, "%d.%d", &v.Major, &v.Minor); err != nil {
		return Version{}, fmt.Errorf("unrecognised OpenCL version %q: %w", s, err)
	}
	return v, nil
}

// AtLeast reports whether v is major.minor or newer.
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// nonUniformSupport decides NonUniformWorkGroups. 2.x devices support
// non-uniform work groups unconditionally; from 3.0 on the feature is
// optional and query reads CL_DEVICE_NON_UNIFORM_WORK_GROUP_SUPPORT.
func nonUniformSupport(device Version, query func() (bool, error)) bool {
	switch {
	case device.Major == 2:
		return true
	case device.Major >= 3:
		supported, err := query()
		return err == nil && supported
	default:
		return false
	}
}
