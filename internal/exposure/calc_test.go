package exposure

import (
	"math"
	"testing"
)

// TestComputeReference checks the documented reference point:
// 24mm f/2.8 with 4.3µm pixels allows roughly 9.4 seconds.
func TestComputeReference(t *testing.T) {
	res, err := Compute(Params{FocalLength: 24, Aperture: 2.8, PixelPitch: 4.3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := (35*2.8 + 30*4.3) / 24 // 9.4583...
	if math.Abs(res.ExposureSeconds-want) > 1e-9 {
		t.Errorf("exposure = %v, want %v", res.ExposureSeconds, want)
	}
	if res.ExposureSeconds < 9.4 || res.ExposureSeconds > 9.5 {
		t.Errorf("exposure = %v, want ~9.4s", res.ExposureSeconds)
	}
}

// TestComputeMonotonicity verifies exposure grows with aperture and pixel
// pitch and shrinks with focal length.
func TestComputeMonotonicity(t *testing.T) {
	base := Params{FocalLength: 50, Aperture: 4, PixelPitch: 5}
	ref, err := Compute(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wider := base
	wider.Aperture = 5.6
	coarser := base
	coarser.PixelPitch = 6.5
	longer := base
	longer.FocalLength = 135

	if r, _ := Compute(wider); r.ExposureSeconds <= ref.ExposureSeconds {
		t.Errorf("larger aperture should increase exposure: %v <= %v", r.ExposureSeconds, ref.ExposureSeconds)
	}
	if r, _ := Compute(coarser); r.ExposureSeconds <= ref.ExposureSeconds {
		t.Errorf("larger pitch should increase exposure: %v <= %v", r.ExposureSeconds, ref.ExposureSeconds)
	}
	if r, _ := Compute(longer); r.ExposureSeconds >= ref.ExposureSeconds {
		t.Errorf("longer focal length should decrease exposure: %v >= %v", r.ExposureSeconds, ref.ExposureSeconds)
	}
}

// TestComputeDeclination verifies the declination variant lengthens exposure
// toward the pole and never blows up at it.
func TestComputeDeclination(t *testing.T) {
	dec := func(d float64) *float64 { return &d }

	equator, err := Compute(Params{FocalLength: 24, Aperture: 2.8, PixelPitch: 4.3, Declination: dec(0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(equator.AdjustedSeconds-equator.ExposureSeconds) > 1e-9 {
		t.Errorf("at dec=0 adjusted should equal base: %v vs %v", equator.AdjustedSeconds, equator.ExposureSeconds)
	}

	high, err := Compute(Params{FocalLength: 24, Aperture: 2.8, PixelPitch: 4.3, Declination: dec(60)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if high.AdjustedSeconds <= equator.AdjustedSeconds {
		t.Errorf("dec=60 should allow longer exposure: %v <= %v", high.AdjustedSeconds, equator.AdjustedSeconds)
	}

	pole, err := Compute(Params{FocalLength: 24, Aperture: 2.8, PixelPitch: 4.3, Declination: dec(90)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.IsInf(pole.AdjustedSeconds, 0) || math.IsNaN(pole.AdjustedSeconds) {
		t.Errorf("pole exposure must be finite, got %v", pole.AdjustedSeconds)
	}
}

func TestComputeInvalidInputs(t *testing.T) {
	bad := func(d float64) *float64 { return &d }

	tests := []struct {
		name    string
		params  Params
		wantErr error
	}{
		{"zero focal length", Params{FocalLength: 0, Aperture: 2.8, PixelPitch: 4.3}, ErrFocalLength},
		{"negative focal length", Params{FocalLength: -24, Aperture: 2.8, PixelPitch: 4.3}, ErrFocalLength},
		{"zero aperture", Params{FocalLength: 24, Aperture: 0, PixelPitch: 4.3}, ErrAperture},
		{"zero pitch", Params{FocalLength: 24, Aperture: 2.8, PixelPitch: 0}, ErrPixelPitch},
		{"declination out of range", Params{FocalLength: 24, Aperture: 2.8, PixelPitch: 4.3, Declination: bad(95)}, ErrDeclination},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compute(tt.params); err != tt.wantErr {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestFOVDegrees checks the derivation against a full-frame 24mm setup:
// 36mm sensor width at 24mm focal length is ~73.7 degrees.
func TestFOVDegrees(t *testing.T) {
	// 6000px * 6µm = 36mm sensor width.
	got := FOVDegrees(6, 6000, 24)
	want := 2 * 180 / math.Pi * math.Atan(18.0/24.0)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("FOV = %v, want %v", got, want)
	}
	if got < 73 || got > 75 {
		t.Errorf("FOV = %v, want ~73.7", got)
	}
}
