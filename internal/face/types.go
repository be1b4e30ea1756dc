package face

import "math"

// NumLandmarks is the fixed number of points in every landmark set
const NumLandmarks = 106

// Point represents a 2D point in image pixel coordinates
type Point struct {
	X, Y float32
}

// Region is an axis-aligned face box in the pixel frame of the image it was
// produced from. Right and Bottom are exclusive edges.
type Region struct {
	Left, Top     float32
	Right, Bottom float32
	Score         float32
}

// Rect builds a region from edge coordinates, swapping edges given out of order
func Rect(left, top, right, bottom float32) Region {
	if left > right {
		left, right = right, left
	}
	if top > bottom {
		top, bottom = bottom, top
	}
	return Region{Left: left, Top: top, Right: right, Bottom: bottom}
}

// Width returns region width
func (r Region) Width() float32 {
	return r.Right - r.Left
}

// Height returns region height
func (r Region) Height() float32 {
	return r.Bottom - r.Top
}

// Center returns region center point
func (r Region) Center() Point {
	return Point{
		X: (r.Left + r.Right) / 2,
		Y: (r.Top + r.Bottom) / 2,
	}
}

// Area returns region area
func (r Region) Area() float32 {
	return r.Width() * r.Height()
}

// Empty reports whether the region has non-positive extent
func (r Region) Empty() bool {
	return !(r.Right > r.Left) || !(r.Bottom > r.Top)
}

// Clamp restricts the region to the [0,width)x[0,height) image extent.
// The result may be empty when the region lies entirely outside the image.
func (r Region) Clamp(width, height int) Region {
	w, h := float32(width), float32(height)
	c := r
	c.Left = clamp(r.Left, 0, w)
	c.Top = clamp(r.Top, 0, h)
	c.Right = clamp(r.Right, 0, w)
	c.Bottom = clamp(r.Bottom, 0, h)
	return c
}

// Expand grows the region by factor of its size on every side, keeping the center
func (r Region) Expand(factor float32) Region {
	dx := r.Width() * factor
	dy := r.Height() * factor
	e := r
	e.Left -= dx
	e.Top -= dy
	e.Right += dx
	e.Bottom += dy
	return e
}

// IoU calculates Intersection over Union of two regions
func (r Region) IoU(o Region) float32 {
	x1 := max32(r.Left, o.Left)
	y1 := max32(r.Top, o.Top)
	x2 := min32(r.Right, o.Right)
	y2 := min32(r.Bottom, o.Bottom)

	if x1 >= x2 || y1 >= y2 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := r.Area() + o.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// Landmarks is an ordered set of NumLandmarks points in the 106-point
// insightface layout
type Landmarks []Point

// Valid reports whether the set has the expected cardinality and finite coordinates
func (l Landmarks) Valid() bool {
	if len(l) != NumLandmarks {
		return false
	}
	for _, p := range l {
		if math.IsNaN(float64(p.X)) || math.IsNaN(float64(p.Y)) ||
			math.IsInf(float64(p.X), 0) || math.IsInf(float64(p.Y), 0) {
			return false
		}
	}
	return true
}

// FivePoint is the reduced landmark layout used for alignment
type FivePoint struct {
	LeftEye    Point // index 0
	RightEye   Point // index 1
	Nose       Point // index 2
	LeftMouth  Point // index 3
	RightMouth Point // index 4
}

// Points returns the five points in template order
func (f FivePoint) Points() [5]Point {
	return [5]Point{f.LeftEye, f.RightEye, f.Nose, f.LeftMouth, f.RightMouth}
}

// FivePoint extracts 5-point landmarks from the 106-point set
func (l Landmarks) FivePoint() FivePoint {
	// Indices 33-42 and 87-96 are the two eye contours, averaged to a center.
	return FivePoint{
		LeftEye:    l.centroid(RightEyeIndices),
		RightEye:   l.centroid(LeftEyeIndices),
		Nose:       l[86],
		LeftMouth:  l[52],
		RightMouth: l[61],
	}
}

// Bounds computes the tight region around all points
func (l Landmarks) Bounds() Region {
	if len(l) == 0 {
		return Region{}
	}
	minX, minY := l[0].X, l[0].Y
	maxX, maxY := l[0].X, l[0].Y
	for _, p := range l[1:] {
		minX = min32(minX, p.X)
		maxX = max32(maxX, p.X)
		minY = min32(minY, p.Y)
		maxY = max32(maxY, p.Y)
	}
	return Region{Left: minX, Top: minY, Right: maxX, Bottom: maxY}
}

func (l Landmarks) centroid(indices []int) Point {
	var c Point
	for _, i := range indices {
		c.X += l[i].X
		c.Y += l[i].Y
	}
	n := float32(len(indices))
	return Point{X: c.X / n, Y: c.Y / n}
}

// Eye contour index groups of the 106-point layout
var (
	LeftEyeIndices  = []int{87, 88, 89, 90, 91, 92, 93, 94, 95, 96}
	RightEyeIndices = []int{33, 34, 35, 36, 37, 38, 39, 40, 41, 42}
)

func clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
