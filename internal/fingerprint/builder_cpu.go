package fingerprint

import "maps"

// CPUBuilder is the sequential reference implementation.
type CPUBuilder struct{}

// NewCPUBuilder creates a CPU fingerprint builder
func NewCPUBuilder() *CPUBuilder {
	return &CPUBuilder{}
}

// Build scans every pixel once and returns the normalized histogram.
// It panics if px does not hold exactly Width*Height pixels; use NewPixels
// to validate untrusted buffers.
func (b *CPUBuilder) Build(px Pixels) Fingerprint {
	px.mustValid()

	counts := make(map[Key]uint32, 64)
	for y := 0; y < px.Height; y++ {
		row := px.Data[y*px.Width : (y+1)*px.Width]
		for x, p := range row {
			counts[KeyOf(p, x, y, px.Width, px.Height)]++
		}
	}

	return Normalize(maps.All(counts), px.Len())
}

// Counts returns the dense per-key pixel counts of px.
func (b *CPUBuilder) Counts(px Pixels) *[KeySpace]uint32 {
	px.mustValid()

	var counts [KeySpace]uint32
	for y := 0; y < px.Height; y++ {
		for x := 0; x < px.Width; x++ {
			counts[KeyOf(px.At(x, y), x, y, px.Width, px.Height)]++
		}
	}
	return &counts
}
