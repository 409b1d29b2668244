package fingerprint

import "testing"

func TestQuantize(t *testing.T) {
	tests := []struct {
		in   uint8
		want uint32
	}{
		{0, 0},
		{31, 0},
		{32, 1},
		{127, 3},
		{128, 4},
		{224, 7},
		{255, 7},
	}

	for _, tt := range tests {
		if got := Quantize(tt.in); got != tt.want {
			t.Errorf("Quantize(%d) = %d, expected %d", tt.in, got, tt.want)
		}
	}
}

func TestRegionQuadrants(t *testing.T) {
	// 4x4 image: each quadrant is 2x2
	tests := []struct {
		x, y int
		want uint32
	}{
		{0, 0, 0}, {1, 1, 0},
		{2, 0, 1}, {3, 1, 1},
		{0, 2, 2}, {1, 3, 2},
		{2, 2, 3}, {3, 3, 3},
	}

	for _, tt := range tests {
		if got := Region(tt.x, tt.y, 4, 4); got != tt.want {
			t.Errorf("Region(%d,%d) = %d, expected %d", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestRegionCollapsedAxes(t *testing.T) {
	// Single column: cols collapses to 1, region = row
	if got := Region(0, 0, 1, 4); got != 0 {
		t.Errorf("Region(0,0,1,4) = %d, expected 0", got)
	}
	if got := Region(0, 3, 1, 4); got != 1 {
		t.Errorf("Region(0,3,1,4) = %d, expected 1", got)
	}

	// Single row: rows collapses to 1, region = col
	if got := Region(3, 0, 4, 1); got != 1 {
		t.Errorf("Region(3,0,4,1) = %d, expected 1", got)
	}

	// 1x1 image has a single region
	if got := Region(0, 0, 1, 1); got != 0 {
		t.Errorf("Region(0,0,1,1) = %d, expected 0", got)
	}
}

func TestRegionOddDimensionsStayInGrid(t *testing.T) {
	for _, dims := range [][2]int{{3, 3}, {5, 7}, {2, 3}, {9, 1}, {1, 9}} {
		w, h := dims[0], dims[1]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if r := Region(x, y, w, h); r > 3 {
					t.Fatalf("Region(%d,%d,%d,%d) = %d, exceeds 2 bits", x, y, w, h, r)
				}
			}
		}
	}

	// Trailing column of a 3-wide image folds into the right region
	if got := Region(2, 0, 3, 3); got != 1 {
		t.Errorf("Region(2,0,3,3) = %d, expected 1", got)
	}
	if got := Region(2, 2, 3, 3); got != 3 {
		t.Errorf("Region(2,2,3,3) = %d, expected 3", got)
	}
}

func TestKeyOfLayout(t *testing.T) {
	// r=255 -> 7, g=64 -> 2, b=160 -> 5, bottom-right quadrant -> 3
	p := Pack(255, 64, 160, 0)
	key := KeyOf(p, 3, 3, 4, 4)

	want := Key(7<<8 | 2<<5 | 5<<2 | 3)
	if key != want {
		t.Fatalf("KeyOf = %d, expected %d", key, want)
	}

	r, g, b, region := key.Components()
	if r != 7 || g != 2 || b != 5 || region != 3 {
		t.Errorf("Components = (%d,%d,%d,%d), expected (7,2,5,3)", r, g, b, region)
	}
}

func TestKeyOfIgnoresAlpha(t *testing.T) {
	opaque := KeyOf(Pack(10, 200, 90, 255), 0, 0, 1, 1)
	clear := KeyOf(Pack(10, 200, 90, 0), 0, 0, 1, 1)
	if opaque != clear {
		t.Errorf("alpha changed key: %d vs %d", opaque, clear)
	}
}

func TestKeyOfStaysInKeySpace(t *testing.T) {
	top := KeyOf(Pack(255, 255, 255, 255), 1, 1, 2, 2)
	if !top.Valid() || top != KeySpace-1 {
		t.Errorf("max key = %d, expected %d", top, KeySpace-1)
	}
}

func TestPixelChannels(t *testing.T) {
	p := Pack(1, 2, 3, 4)
	if p.R() != 1 || p.G() != 2 || p.B() != 3 || p.A() != 4 {
		t.Errorf("channels = (%d,%d,%d,%d), expected (1,2,3,4)", p.R(), p.G(), p.B(), p.A())
	}
	if uint32(p) != 0x01020304 {
		t.Errorf("packed = %#x, expected 0x01020304", uint32(p))
	}
}
