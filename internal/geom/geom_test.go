package geom

import (
	"math"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		px, py, w, h float64
	}{
		{0, 0, 1920, 1080},
		{960, 540, 1920, 1080},
		{1920, 1080, 1920, 1080},
		{13.7, 211.3, 375, 667},
		{1, 1, 3, 7},
	}
	for _, c := range cases {
		x, y := ToNormalized(c.px, c.py, c.w, c.h)
		gotX, gotY := ToPixel(x, y, c.w, c.h)
		if math.Abs(gotX-c.px) > 1e-9 || math.Abs(gotY-c.py) > 1e-9 {
			t.Errorf("round trip (%v,%v) on %vx%v: got (%v,%v)", c.px, c.py, c.w, c.h, gotX, gotY)
		}
	}
}

func TestDegenerateSurface(t *testing.T) {
	x, y := ToNormalized(100, 100, 0, 0)
	if x != 0 || y != 0 {
		t.Errorf("expected (0,0) for zero surface, got (%v,%v)", x, y)
	}
	px, py := ToPixel(0.5, 0.5, 0, 600)
	if px != 0 || py != 0 {
		t.Errorf("expected (0,0) for zero-width surface, got (%v,%v)", px, py)
	}
}

func TestClamp01(t *testing.T) {
	if Clamp01(-0.3) != 0 {
		t.Error("negative should clamp to 0")
	}
	if Clamp01(1.7) != 1 {
		t.Error("values above 1 should clamp to 1")
	}
	if Clamp01(0.42) != 0.42 {
		t.Error("in-range values should pass through")
	}
}

func TestAngleDeg(t *testing.T) {
	cases := []struct {
		px, py, want float64
	}{
		{10, 0, 0},
		{0, 10, 90},
		{-10, 0, 180},
		{0, -10, -90},
	}
	for _, c := range cases {
		got := AngleDeg(0, 0, c.px, c.py)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("AngleDeg to (%v,%v): got %v want %v", c.px, c.py, got, c.want)
		}
	}
}

func TestClampZoom(t *testing.T) {
	if ClampZoom(0.1) != MinZoom {
		t.Error("zoom below minimum should clamp")
	}
	if ClampZoom(4.0) != MaxZoom {
		t.Error("zoom above maximum should clamp")
	}
	if ClampZoom(2.0) != 2.0 {
		t.Error("in-range zoom should pass through")
	}
}
