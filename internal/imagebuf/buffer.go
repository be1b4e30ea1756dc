// Package imagebuf provides the immutable decoded pixel buffer every
// inference stage reads from.
package imagebuf

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/dudu/facekit/internal/face"
)

// Layout tags the pixel format of a Buffer
type Layout int

const (
	LayoutGray Layout = iota + 1
	LayoutRGB
	LayoutBGR
	LayoutRGBA
)

// Channels returns the channel count implied by the layout, or 0 if unknown
func (l Layout) Channels() int {
	switch l {
	case LayoutGray:
		return 1
	case LayoutRGB, LayoutBGR:
		return 3
	case LayoutRGBA:
		return 4
	}
	return 0
}

func (l Layout) String() string {
	switch l {
	case LayoutGray:
		return "gray8"
	case LayoutRGB:
		return "rgb8"
	case LayoutBGR:
		return "bgr8"
	case LayoutRGBA:
		return "rgba8"
	}
	return fmt.Sprintf("layout(%d)", int(l))
}

// Buffer is an owned, row-major, 8-bit pixel array. It has no mutators, so a
// Buffer may be shared across goroutines and inference calls.
type Buffer struct {
	width  int
	height int
	layout Layout
	pix    []byte
}

// FromPixels validates the dimensions and layout and copies data into a new Buffer
func FromPixels(width, height int, layout Layout, data []byte) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", face.ErrInvalidImage, width, height)
	}
	channels := layout.Channels()
	if channels == 0 {
		return nil, fmt.Errorf("%w: unknown layout %v", face.ErrInvalidImage, layout)
	}
	want, ok := pixelBytes(width, height, channels)
	if !ok {
		return nil, fmt.Errorf("%w: %s %dx%d is too large", face.ErrInvalidImage, layout, width, height)
	}
	if len(data) != want {
		return nil, fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d",
			face.ErrInvalidImage, layout, width, height, want, len(data))
	}

	pix := make([]byte, len(data))
	copy(pix, data)
	return &Buffer{width: width, height: height, layout: layout, pix: pix}, nil
}

// FromImage marshals any decoded image into an RGB Buffer. The image origin is
// moved to (0,0).
func FromImage(img image.Image) (*Buffer, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", face.ErrInvalidImage)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	size, ok := pixelBytes(w, h, 3)
	if !ok {
		return nil, fmt.Errorf("%w: dimensions %dx%d", face.ErrInvalidImage, w, h)
	}

	pix := make([]byte, size)
	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < w; x++ {
				o := (y*w + x) * 3
				copy(pix[o:o+3], row[x*4:x*4+3])
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := src.Pix[y*src.Stride+x]
				o := (y*w + x) * 3
				pix[o], pix[o+1], pix[o+2] = v, v, v
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				o := (y*w + x) * 3
				pix[o], pix[o+1], pix[o+2] = c.R, c.G, c.B
			}
		}
	}
	return &Buffer{width: w, height: h, layout: LayoutRGB, pix: pix}, nil
}

// Width returns the image width in pixels
func (b *Buffer) Width() int { return b.width }

// Height returns the image height in pixels
func (b *Buffer) Height() int { return b.height }

// Layout returns the pixel layout tag
func (b *Buffer) Layout() Layout { return b.layout }

// Channels returns the number of bytes per pixel
func (b *Buffer) Channels() int { return b.layout.Channels() }

// Pixels returns a copy of the raw pixel data
func (b *Buffer) Pixels() []byte {
	out := make([]byte, len(b.pix))
	copy(out, b.pix)
	return out
}

// Validate checks the buffer invariants. A nil or zero-value Buffer is invalid.
func (b *Buffer) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", face.ErrInvalidImage)
	}
	size, ok := pixelBytes(b.width, b.height, b.layout.Channels())
	if !ok || len(b.pix) != size {
		return fmt.Errorf("%w: degenerate %s %dx%d buffer", face.ErrInvalidImage, b.layout, b.width, b.height)
	}
	return nil
}

// RGBAt returns the pixel at (x, y) as RGB regardless of the storage layout
func (b *Buffer) RGBAt(x, y int) (r, g, bl uint8) {
	o := (y*b.width + x) * b.layout.Channels()
	switch b.layout {
	case LayoutGray:
		v := b.pix[o]
		return v, v, v
	case LayoutBGR:
		return b.pix[o+2], b.pix[o+1], b.pix[o]
	default:
		return b.pix[o], b.pix[o+1], b.pix[o+2]
	}
}

// GrayAt returns the luma of the pixel at (x, y)
func (b *Buffer) GrayAt(x, y int) uint8 {
	if b.layout == LayoutGray {
		return b.pix[y*b.width+x]
	}
	r, g, bl := b.RGBAt(x, y)
	return luma(r, g, bl)
}

// Gray returns the whole image as a row-major luma plane
func (b *Buffer) Gray() []uint8 {
	out := make([]uint8, b.width*b.height)
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			out[y*b.width+x] = b.GrayAt(x, y)
		}
	}
	return out
}

// ColorModel implements image.Image
func (b *Buffer) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image
func (b *Buffer) Bounds() image.Rectangle { return image.Rect(0, 0, b.width, b.height) }

// At implements image.Image. Alpha is ignored; pixels are reported opaque.
func (b *Buffer) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= b.width || y >= b.height {
		return color.RGBA{}
	}
	r, g, bl := b.RGBAt(x, y)
	return color.RGBA{R: r, G: g, B: bl, A: 0xff}
}

// pixelBytes returns width*height*channels, or false when any factor is
// non-positive or the product does not fit in an int
func pixelBytes(width, height, channels int) (int, bool) {
	if width <= 0 || height <= 0 || channels <= 0 {
		return 0, false
	}
	if width > math.MaxInt/height || width*height > math.MaxInt/channels {
		return 0, false
	}
	return width * height * channels, true
}

// luma uses the ITU-R 601 weights in fixed point, matching pigo's grayscale conversion
func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b)) / 1000)
}
