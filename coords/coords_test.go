package coords

import (
	"math"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestMatrixMultiplyAppliesLeftFirst(t *testing.T) {
	m := Scale(2, 3).Multiply(Translate(10, 20))
	p := m.Transform(Point{X: 1, Y: 1})
	if !approx(p.X, 12) || !approx(p.Y, 23) {
		t.Fatalf("unexpected point %+v", p)
	}
}

func TestMatrixInverse(t *testing.T) {
	m := Scale(2, 4).Multiply(Translate(5, 7))
	inv, err := m.Inverse()
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	p := inv.Transform(m.Transform(Point{X: 3, Y: -2}))
	if !approx(p.X, 3) || !approx(p.Y, -2) {
		t.Fatalf("round trip mismatch: %+v", p)
	}
	if _, err := Scale(0, 1).Inverse(); err == nil {
		t.Fatalf("expected singular matrix error")
	}
}

func TestRectIntersect(t *testing.T) {
	a := NewRect(0, 0, 100, 50)
	b := NewRect(80, 40, 40, 40)
	got := a.Intersect(b)
	want := Rect{X0: 80, Y0: 40, X1: 100, Y1: 50}
	if got != want {
		t.Fatalf("intersect = %+v, want %+v", got, want)
	}
	if !a.Intersect(NewRect(200, 200, 5, 5)).IsEmpty() {
		t.Fatalf("disjoint rects should not intersect")
	}
}

func TestRectTransformRotated(t *testing.T) {
	r := Rect{X0: 0, Y0: 0, X1: 1, Y1: 1}
	got := r.Transform(Rotate(math.Pi / 2).Multiply(Translate(10, 10)))
	if !approx(got.X0, 9) || !approx(got.X1, 10) || !approx(got.Y0, 10) || !approx(got.Y1, 11) {
		t.Fatalf("unexpected rect %+v", got)
	}
	c := got.Center()
	if !approx(c.X, 9.5) || !approx(c.Y, 10.5) {
		t.Fatalf("unexpected center %+v", c)
	}
}
