package kernel

import "github.com/cwbudde/photofingerprint/internal/gpu"

// CapabilityForDevice maps an OpenCL device to a dispatch capability. The
// device must report non-uniform work-group support: core in 2.x, queried
// on 3.x where it is optional, never on 1.x.
func CapabilityForDevice(info gpu.DeviceInfo) Capability {
	if info.NonUniformWorkGroups {
		return NonUniformCapable
	}
	return UniformOnly
}

// buildOptions returns the program build flags for function on info.
func buildOptions(function string, info gpu.DeviceInfo) string {
	if function == FunctionNonUniform {
		return "-cl-std=" + info.CStd()
	}
	return ""
}
