package main

// CheckCollision checks if two circles overlap
func CheckCollision(x1, y1, r1, x2, y2, r2 float64) bool {
	dx := x2 - x1
	dy := y2 - y1
	dist2 := dx*dx + dy*dy
	radSum := r1 + r2
	return dist2 <= radSum*radSum
}

// Rect is an axis-aligned box, X/Y its top-left corner
type Rect struct {
	X, Y, W, H float64
}

// ReducedHitbox returns a box of scale*size centered on (cx, cy)
func ReducedHitbox(cx, cy, size, scale float64) Rect {
	s := size * scale
	return Rect{X: cx - s/2, Y: cy - s/2, W: s, H: s}
}

// Contains reports whether the point lies inside r (edges included)
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.W && y >= r.Y && y <= r.Y+r.H
}

// CircleRectOverlap checks a circle against a box using the closest point of
// the box to the circle center. Touching counts as overlap.
func CircleRectOverlap(cx, cy, radius float64, r Rect) bool {
	nx := Clamp(cx, r.X, r.X+r.W)
	ny := Clamp(cy, r.Y, r.Y+r.H)
	dx := cx - nx
	dy := cy - ny
	return dx*dx+dy*dy <= radius*radius
}
