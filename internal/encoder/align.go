package encoder

import (
	"image"
	"math"

	"golang.org/x/image/math/f64"

	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
)

const alignedSize = 112

// ArcFace reference landmarks for 112x112 aligned face
var arcfaceDst = [5]face.Point{
	{X: 38.2946, Y: 51.6963}, // left eye
	{X: 73.5318, Y: 51.5014}, // right eye
	{X: 56.0252, Y: 71.7366}, // nose
	{X: 41.5493, Y: 92.3655}, // left mouth
	{X: 70.7299, Y: 92.2041}, // right mouth
}

// Align warps the face described by landmarks onto the 112x112 template
func Align(img image.Image, landmarks face.Landmarks) (*image.RGBA, f64.Aff3) {
	transform := estimateSimilarityTransform(landmarks.FivePoint().Points(), arcfaceDst)
	return imagebuf.Warp(img, transform, alignedSize, alignedSize), transform
}

// estimateSimilarityTransform computes the least-squares 2D similarity
// (rotation, uniform scale, translation) mapping src onto dst:
//
//	[a -b tx]
//	[b  a ty]
func estimateSimilarityTransform(src, dst [5]face.Point) f64.Aff3 {
	n := float64(len(src))

	// Compute centroids
	var srcCx, srcCy, dstCx, dstCy float64
	for i := range src {
		srcCx += float64(src[i].X)
		srcCy += float64(src[i].Y)
		dstCx += float64(dst[i].X)
		dstCy += float64(dst[i].Y)
	}
	srcCx /= n
	srcCy /= n
	dstCx /= n
	dstCy /= n

	// Accumulate over centered points
	var srcVar, dot, cross float64
	for i := range src {
		sx := float64(src[i].X) - srcCx
		sy := float64(src[i].Y) - srcCy
		dx := float64(dst[i].X) - dstCx
		dy := float64(dst[i].Y) - dstCy

		srcVar += sx*sx + sy*sy
		dot += sx*dx + sy*dy
		cross += sx*dy - sy*dx
	}

	// Degenerate source: collapse to a translation onto the template center
	if srcVar < 1e-10 || math.IsNaN(srcVar) {
		return f64.Aff3{1, 0, dstCx - srcCx, 0, 1, dstCy - srcCy}
	}

	a := dot / srcVar
	b := cross / srcVar

	// Translation: dstC - [a -b; b a] * srcC
	tx := dstCx - (a*srcCx - b*srcCy)
	ty := dstCy - (b*srcCx + a*srcCy)

	return f64.Aff3{
		a, -b, tx,
		b, a, ty,
	}
}
