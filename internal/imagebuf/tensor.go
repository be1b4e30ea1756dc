package imagebuf

import (
	"image"
	"image/color"
)

// Normalization describes how 8-bit channels map to network input values:
// v = (x - Mean[c]) / Std[c]. SwapRB emits planes in BGR order.
type Normalization struct {
	Mean   [3]float32
	Std    [3]float32
	SwapRB bool
}

// Uniform returns a normalization using the same mean and std on every channel
func Uniform(mean, std float32) Normalization {
	return Normalization{
		Mean: [3]float32{mean, mean, mean},
		Std:  [3]float32{std, std, std},
	}
}

// ToCHW converts an image into a planar float32 tensor (C=3, H, W)
func ToCHW(img image.Image, n Normalization) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 3*plane)

	rIdx, bIdx := 0, 2
	if n.SwapRB {
		rIdx, bIdx = 2, 0
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl := rgbAt(img, b.Min.X+x, b.Min.Y+y)
			i := y*w + x
			out[rIdx*plane+i] = (float32(r) - n.Mean[rIdx]) / n.Std[rIdx]
			out[plane+i] = (float32(g) - n.Mean[1]) / n.Std[1]
			out[bIdx*plane+i] = (float32(bl) - n.Mean[bIdx]) / n.Std[bIdx]
		}
	}
	return out
}

// ToGrayCHW converts an image into a single-plane float32 tensor of luma values
func ToGrayCHW(img image.Image, mean, std float32) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl := rgbAt(img, b.Min.X+x, b.Min.Y+y)
			out[y*w+x] = (float32(luma(r, g, bl)) - mean) / std
		}
	}
	return out
}

func rgbAt(img image.Image, x, y int) (uint8, uint8, uint8) {
	switch src := img.(type) {
	case *Buffer:
		return src.RGBAt(x, y)
	case *image.NRGBA:
		o := src.PixOffset(x, y)
		return src.Pix[o], src.Pix[o+1], src.Pix[o+2]
	case *image.RGBA:
		o := src.PixOffset(x, y)
		return src.Pix[o], src.Pix[o+1], src.Pix[o+2]
	}
	c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
	return c.R, c.G, c.B
}
