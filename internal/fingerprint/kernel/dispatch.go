package kernel

// Kernel function names. The bounds-checked variant is the only one safe to
// run on a rounded-up grid.
const (
	FunctionNonUniform = "fingerprint_kernel_nonuniform"
	FunctionUniform    = "fingerprint_kernel"
)

// Size is a three-dimensional extent.
type Size struct {
	X, Y, Z int
}

// Volume returns X*Y*Z.
func (s Size) Volume() int {
	return s.X * s.Y * s.Z
}

// Geometry is a resolved dispatch shape.
//
// With NonUniform set, Grid counts threads and matches the image exactly.
// Otherwise Grid counts thread groups.
type Geometry struct {
	Group      Size
	Grid       Size
	NonUniform bool
}

// Groups returns the number of thread groups along each axis.
func (g Geometry) Groups() Size {
	if !g.NonUniform {
		return g.Grid
	}
	return Size{
		X: ceilDiv(g.Grid.X, g.Group.X),
		Y: ceilDiv(g.Grid.Y, g.Group.Y),
		Z: ceilDiv(g.Grid.Z, g.Group.Z),
	}
}

// Extent returns the number of threads launched along each axis.
func (g Geometry) Extent() Size {
	if g.NonUniform {
		return g.Grid
	}
	return Size{
		X: g.Grid.X * g.Group.X,
		Y: g.Grid.Y * g.Group.Y,
		Z: g.Grid.Z * g.Group.Z,
	}
}

// Threads returns the total number of threads launched.
func (g Geometry) Threads() int {
	return g.Extent().Volume()
}

// Dispatcher turns image dimensions into a dispatch geometry.
type Dispatcher interface {
	Capability() Capability
	// Function names the kernel entry point matching this geometry.
	Function() string
	Geometry(width, height int) Geometry
}

// NewDispatcher returns the dispatcher for capability. Group size is
// (executionWidth, maxThreadsPerGroup/executionWidth, 1); both inputs are
// raised to at least 1.
func NewDispatcher(capability Capability, executionWidth, maxThreadsPerGroup int) Dispatcher {
	group := GroupSize(executionWidth, maxThreadsPerGroup)
	if capability == NonUniformCapable {
		return nonUniformDispatcher{group: group}
	}
	return uniformDispatcher{group: group}
}

// GroupSize computes the thread group shape used by both dispatchers.
func GroupSize(executionWidth, maxThreadsPerGroup int) Size {
	w := max(1, executionWidth)
	h := max(1, maxThreadsPerGroup/w)
	return Size{X: w, Y: h, Z: 1}
}

// FunctionFor returns the kernel entry point a capability dispatches.
func FunctionFor(capability Capability) string {
	if capability == NonUniformCapable {
		return FunctionNonUniform
	}
	return FunctionUniform
}

type nonUniformDispatcher struct {
	group Size
}

func (d nonUniformDispatcher) Capability() Capability { return NonUniformCapable }
func (d nonUniformDispatcher) Function() string       { return FunctionNonUniform }

func (d nonUniformDispatcher) Geometry(width, height int) Geometry {
	return Geometry{
		Group:      d.group,
		Grid:       Size{X: width, Y: height, Z: 1},
		NonUniform: true,
	}
}

type uniformDispatcher struct {
	group Size
}

func (d uniformDispatcher) Capability() Capability { return UniformOnly }
func (d uniformDispatcher) Function() string       { return FunctionUniform }

func (d uniformDispatcher) Geometry(width, height int) Geometry {
	return Geometry{
		Group: d.group,
		Grid: Size{
			X: ceilDiv(width, d.group.X),
			Y: ceilDiv(height, d.group.Y),
			Z: 1,
		},
	}
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
