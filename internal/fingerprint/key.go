package fingerprint

// Key identifies one (color, region) bucket.
//
// Layout, most significant first:
//
//	|-3 bit R-|-3 bit G-|-3 bit B-|-2 bit region-|
type Key uint16

// Bit layout of a Key. The OpenCL kernel source is rendered from these same
// constants, so both build paths share one definition.
const (
	ComponentShift = 5 // 8-bit channel -> 3-bit level
	RedShift       = 8
	GreenShift     = 5
	BlueShift      = 2
	RegionBits     = 2

	// MaxRegions is the side length of the region grid.
	MaxRegions = 2

	// KeySpace is the number of distinct keys.
	KeySpace = 1 << 11
)

// Quantize reduces an 8-bit channel to its 3-bit level.
func Quantize(component uint8) uint32 {
	return uint32(component >> ComponentShift)
}

// Region returns the spatial region index of (x, y) in a width x height
// image. The grid is at most 2x2 and collapses when a side is 1 pixel.
// Odd trailing rows and columns belong to the last region.
func Region(x, y, width, height int) uint32 {
	rows := min(MaxRegions, height)
	cols := min(MaxRegions, width)
	if rows <= 0 || cols <= 0 {
		return 0
	}
	rowHeight := height / rows
	colWidth := width / cols

	row := min(y/rowHeight, rows-1)
	col := min(x/colWidth, cols-1)
	return uint32(row*cols + col)
}

// KeyOf maps a packed pixel at (x, y) to its bucket key.
func KeyOf(p Pixel, x, y, width, height int) Key {
	r := Quantize(p.R()) << RedShift
	g := Quantize(p.G()) << GreenShift
	b := Quantize(p.B()) << BlueShift
	return Key(r | g | b | Region(x, y, width, height))
}

// Components splits a key back into its quantized channels and region.
func (k Key) Components() (r, g, b, region uint32) {
	v := uint32(k)
	return (v >> RedShift) & 0x7, (v >> GreenShift) & 0x7, (v >> BlueShift) & 0x7, v & (1<<RegionBits - 1)
}

// Valid reports whether the key lies inside the key space.
func (k Key) Valid() bool {
	return int(k) < KeySpace
}
