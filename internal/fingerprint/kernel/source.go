package kernel

import (
	"bytes"
	"sync"
	"text/template"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
)

var sourceTemplate = template.Must(template.New("fingerprint.cl").Parse(`
#define COMPONENT_SHIFT {{.ComponentShift}}
#define RED_SHIFT {{.RedShift}}
#define GREEN_SHIFT {{.GreenShift}}
#define BLUE_SHIFT {{.BlueShift}}
#define MAX_REGIONS {{.MaxRegions}}

inline uint region_of(uint x, uint y, uint width, uint height) {
    const uint rows = min((uint)MAX_REGIONS, height);
    const uint cols = min((uint)MAX_REGIONS, width);
    if (rows == 0 || cols == 0) {
        return 0;
    }
    const uint row = min(y / (height / rows), rows - 1);
    const uint col = min(x / (width / cols), cols - 1);
    return row * cols + col;
}

inline uint key_of(uint pixel, uint x, uint y, uint width, uint height) {
    const uint r = ((pixel >> 24) & 0xff) >> COMPONENT_SHIFT;
    const uint g = ((pixel >> 16) & 0xff) >> COMPONENT_SHIFT;
    const uint b = ((pixel >> 8) & 0xff) >> COMPONENT_SHIFT;
    return (r << RED_SHIFT) | (g << GREEN_SHIFT) | (b << BLUE_SHIFT) | region_of(x, y, width, height);
}

__kernel void {{.NonUniform}}(
    __global const uint *pixels,
    const uint width,
    const uint height,
    volatile __global uint *counters) {

    const uint x = get_global_id(0);
    const uint y = get_global_id(1);
    atomic_inc(&counters[key_of(pixels[y * width + x], x, y, width, height)]);
}

__kernel void {{.Uniform}}(
    __global const uint *pixels,
    const uint width,
    const uint height,
    volatile __global uint *counters) {

    const uint x = get_global_id(0);
    const uint y = get_global_id(1);
    if (x >= width || y >= height) {
        return;
    }
    atomic_inc(&counters[key_of(pixels[y * width + x], x, y, width, height)]);
}
`))

// Source returns the OpenCL C source of both kernel functions, rendered from
// the fingerprint key layout.
var Source = sync.OnceValue(func() string {
	var buf bytes.Buffer
	err := sourceTemplate.Execute(&buf, map[string]any{
		"ComponentShift": fingerprint.ComponentShift,
		"RedShift":       fingerprint.RedShift,
		"GreenShift":     fingerprint.GreenShift,
		"BlueShift":      fingerprint.BlueShift,
		"MaxRegions":     fingerprint.MaxRegions,
		"NonUniform":     FunctionNonUniform,
		"Uniform":        FunctionUniform,
	})
	if err != nil {
		panic(err)
	}
	return buf.String()
})
