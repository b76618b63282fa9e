// Package exposure implements the NPF exposure rule and field-of-view
// derivation for a camera/lens/sensor combination.
//
// The NPF rule estimates the longest exposure before stars visibly trail:
//
//	t = (35*N + 30*P) / F
//
// where N is the aperture f-number, P the pixel pitch in micrometers and F
// the focal length in millimeters. Near the celestial pole stars move more
// slowly across the sensor, so the declination-aware variant divides by
// cos(declination).
package exposure

import (
	"errors"
	"math"
)

// pixelScaleConstant converts (pitch µm / focal mm) to arcseconds per pixel.
const pixelScaleConstant = 206.265

// maxDeclinationDeg caps the declination correction so the adjusted
// exposure stays finite at the celestial pole.
const maxDeclinationDeg = 89.0

var (
	ErrFocalLength = errors.New("focal length must be positive")
	ErrAperture    = errors.New("aperture must be positive")
	ErrPixelPitch  = errors.New("pixel pitch must be positive")
	ErrDeclination = errors.New("declination must be within [-90, 90] degrees")
)

// Params are the optical inputs to the NPF calculation.
type Params struct {
	FocalLength float64  // millimeters
	Aperture    float64  // f-number
	PixelPitch  float64  // micrometers
	Declination *float64 // degrees, optional
}

// Result is the computed recommendation.
type Result struct {
	// ExposureSeconds is the base NPF exposure time.
	ExposureSeconds float64
	// AdjustedSeconds is the declination-corrected exposure time.
	// Zero when no declination was supplied.
	AdjustedSeconds float64
	// PixelScaleArcsec is the angular size of one sensor pixel.
	PixelScaleArcsec float64
}

// Compute applies the NPF rule. It fails only on non-physical inputs.
func Compute(p Params) (Result, error) {
	if p.FocalLength <= 0 {
		return Result{}, ErrFocalLength
	}
	if p.Aperture <= 0 {
		return Result{}, ErrAperture
	}
	if p.PixelPitch <= 0 {
		return Result{}, ErrPixelPitch
	}

	res := Result{
		ExposureSeconds:  (35*p.Aperture + 30*p.PixelPitch) / p.FocalLength,
		PixelScaleArcsec: pixelScaleConstant * p.PixelPitch / p.FocalLength,
	}

	if p.Declination != nil {
		dec := *p.Declination
		if dec < -90 || dec > 90 {
			return Result{}, ErrDeclination
		}
		if dec > maxDeclinationDeg {
			dec = maxDeclinationDeg
		}
		if dec < -maxDeclinationDeg {
			dec = -maxDeclinationDeg
		}
		res.AdjustedSeconds = res.ExposureSeconds / math.Cos(dec*math.Pi/180)
	}

	return res, nil
}

// FOVDegrees returns the angular field of view in degrees along one sensor
// axis: pitch in micrometers, sensor extent in pixels, focal length in
// millimeters. The 2000 divisor converts µm*px to mm and halves the extent.
func FOVDegrees(pitchUm, sensorPx, focalMm float64) float64 {
	return 2 * deg(math.Atan((pitchUm*sensorPx/2000)/focalMm))
}

func deg(rad float64) float64 { return rad * 180 / math.Pi }
