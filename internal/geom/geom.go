// Package geom maps between surface pixel coordinates and the normalized
// unit square annotations are stored in, so a marker placed on one screen
// replays at the same relative position on any other.
package geom

import "math"

const (
	MinZoom = 0.5
	MaxZoom = 3.0
)

// ToNormalized converts a pixel position to unit-square coordinates.
// A degenerate surface maps everything to the origin.
func ToNormalized(px, py, surfaceW, surfaceH float64) (x, y float64) {
	if surfaceW <= 0 || surfaceH <= 0 {
		return 0, 0
	}
	return px / surfaceW, py / surfaceH
}

// ToPixel is the inverse of ToNormalized for the same surface size.
func ToPixel(x, y, surfaceW, surfaceH float64) (px, py float64) {
	if surfaceW <= 0 || surfaceH <= 0 {
		return 0, 0
	}
	return x * surfaceW, y * surfaceH
}

func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// AngleDeg returns the angle in degrees from the center (cx, cy) to the
// pointer (px, py), in pixel space.
func AngleDeg(cx, cy, px, py float64) float64 {
	return math.Atan2(py-cy, px-cx) * 180 / math.Pi
}

func ClampZoom(z float64) float64 {
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}

// Dist returns the Euclidean distance between two pixel points.
func Dist(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

// HandlePoint returns the pixel position offset px from (cx, cy) along
// angleDeg. Used to place an arrow's rotate handle past its tip.
func HandlePoint(cx, cy, angleDeg, offset float64) (x, y float64) {
	rad := angleDeg * math.Pi / 180
	return cx + offset*math.Cos(rad), cy + offset*math.Sin(rad)
}
