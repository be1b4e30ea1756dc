package imagebuf

import (
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Warp maps src into a width x height RGBA image through the affine
// source-to-destination matrix m, sampling bilinearly. Destination pixels
// that fall outside src stay black.
func Warp(src image.Image, m f64.Aff3, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Transform(dst, m, src, src.Bounds(), draw.Src, nil)
	return dst
}

// ScaleTranslate builds the matrix that scales by s about the origin and
// then moves (cx, cy) to the destination point (tx, ty)
func ScaleTranslate(s, cx, cy, tx, ty float64) f64.Aff3 {
	return f64.Aff3{
		s, 0, tx - cx*s,
		0, s, ty - cy*s,
	}
}
