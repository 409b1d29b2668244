package fingerprint

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"os"
)

// ErrSizeMismatch is returned when a pixel buffer does not hold exactly
// width*height pixels.
var ErrSizeMismatch = errors.New("pixel buffer size does not match dimensions")

// Pixel is a packed RGBA8 color: red in the top byte, alpha in the lowest.
type Pixel uint32

// Pack builds a Pixel from its channels.
func Pack(r, g, b, a uint8) Pixel {
	return Pixel(uint32(r)<<24 | uint32(g)<<16 | uint32(b)<<8 | uint32(a))
}

func (p Pixel) R() uint8 { return uint8(p >> 24) }
func (p Pixel) G() uint8 { return uint8(p >> 16) }
func (p Pixel) B() uint8 { return uint8(p >> 8) }
func (p Pixel) A() uint8 { return uint8(p) }

// Pixels is a row-major RGBA8 buffer with its dimensions.
type Pixels struct {
	Data   []Pixel
	Width  int
	Height int
}

// NewPixels validates that data holds exactly width*height pixels.
func NewPixels(data []Pixel, width, height int) (Pixels, error) {
	if width < 0 || height < 0 {
		return Pixels{}, fmt.Errorf("%w: negative dimensions %dx%d", ErrSizeMismatch, width, height)
	}
	if len(data) != width*height {
		return Pixels{}, fmt.Errorf("%w: got %d pixels for %dx%d", ErrSizeMismatch, len(data), width, height)
	}
	return Pixels{Data: data, Width: width, Height: height}, nil
}

// Len returns the pixel count.
func (px Pixels) Len() int {
	return px.Width * px.Height
}

// At returns the pixel at (x, y).
func (px Pixels) At(x, y int) Pixel {
	return px.Data[y*px.Width+x]
}

// Validate reports whether the buffer holds exactly Width*Height pixels.
func (px Pixels) Validate() error {
	_, err := NewPixels(px.Data, px.Width, px.Height)
	return err
}

func (px Pixels) mustValid() {
	if err := px.Validate(); err != nil {
		panic("fingerprint: " + err.Error())
	}
}

// FromImage converts any image to a premultiplied RGBA8 pixel buffer.
func FromImage(img image.Image) Pixels {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) || rgba.Stride != width*4 {
		rgba = image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	data := make([]Pixel, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := rgba.PixOffset(x, y)
			data[y*width+x] = Pack(rgba.Pix[i+0], rgba.Pix[i+1], rgba.Pix[i+2], rgba.Pix[i+3])
		}
	}

	return Pixels{Data: data, Width: width, Height: height}
}

// DecodeFile reads and decodes an image file into a pixel buffer.
func DecodeFile(path string) (Pixels, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pixels{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode decodes an image stream into a pixel buffer.
func Decode(r io.Reader) (Pixels, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return Pixels{}, fmt.Errorf("failed to decode image: %w", err)
	}

	return FromImage(img), nil
}
