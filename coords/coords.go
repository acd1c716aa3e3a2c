package coords

import (
	"errors"
	"math"
)

// Matrix is an affine transform in PDF order [a b c d e f].
type Matrix [6]float64

func Identity() Matrix { return Matrix{1, 0, 0, 1, 0, 0} }

// Multiply returns m x o, i.e. m applied first and o second.
func (m Matrix) Multiply(o Matrix) Matrix {
	return Matrix{
		m[0]*o[0] + m[1]*o[2],
		m[0]*o[1] + m[1]*o[3],
		m[2]*o[0] + m[3]*o[2],
		m[2]*o[1] + m[3]*o[3],
		m[4]*o[0] + m[5]*o[2] + o[4],
		m[4]*o[1] + m[5]*o[3] + o[5],
	}
}

type Point struct{ X, Y float64 }

func (m Matrix) Transform(p Point) Point {
	return Point{X: m[0]*p.X + m[2]*p.Y + m[4], Y: m[1]*p.X + m[3]*p.Y + m[5]}
}

func (m Matrix) Inverse() (Matrix, error) {
	det := m[0]*m[3] - m[1]*m[2]
	if math.Abs(det) < 1e-10 {
		return Matrix{}, errors.New("matrix singular")
	}
	return Matrix{
		m[3] / det, -m[1] / det, -m[2] / det, m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det, (m[1]*m[4] - m[0]*m[5]) / det,
	}, nil
}

func Translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }
func Scale(sx, sy float64) Matrix     { return Matrix{sx, 0, 0, sy, 0, 0} }
func Rotate(angle float64) Matrix {
	c := math.Cos(angle)
	s := math.Sin(angle)
	return Matrix{c, s, -s, c, 0, 0}
}

// Rect is an axis-aligned rectangle with X0 <= X1 and Y0 <= Y1 when normalized.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// NewRect builds a rect from an origin and a size.
func NewRect(x, y, w, h float64) Rect { return Rect{X0: x, Y0: y, X1: x + w, Y1: y + h} }

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

func (r Rect) Center() Point { return Point{X: (r.X0 + r.X1) / 2, Y: (r.Y0 + r.Y1) / 2} }

// IsEmpty reports whether r encloses no area.
func (r Rect) IsEmpty() bool { return r.X0 >= r.X1 || r.Y0 >= r.Y1 }

// Intersect returns the overlap of r and o. The result is empty when they do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		X0: math.Max(r.X0, o.X0),
		Y0: math.Max(r.Y0, o.Y0),
		X1: math.Min(r.X1, o.X1),
		Y1: math.Min(r.Y1, o.Y1),
	}
	if out.IsEmpty() {
		return Rect{}
	}
	return out
}

// Transform maps the corners of r through m and returns their bounding box.
func (r Rect) Transform(m Matrix) Rect {
	return RectFromPoints(
		m.Transform(Point{X: r.X0, Y: r.Y0}),
		m.Transform(Point{X: r.X1, Y: r.Y0}),
		m.Transform(Point{X: r.X0, Y: r.Y1}),
		m.Transform(Point{X: r.X1, Y: r.Y1}),
	)
}

// RectFromPoints returns the bounding box of points.
func RectFromPoints(points ...Point) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{X0: minX, Y0: minY, X1: maxX, Y1: maxY}
}
