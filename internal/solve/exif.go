package solve

import (
	"bytes"
	"math"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/Picklezoid/Astrophotography-Toolkit/internal/astrometry"
)

// Plausible sensor-width range for the scale bounds when only the focal
// length is known: smartphone sensors up to full frame.
const (
	minSensorWidthMm = 4.0
	maxSensorWidthMm = 36.0
)

// ScaleHints derives field-width bounds for the solver from the upload's
// EXIF focal length. Returns nil when the image carries no usable EXIF;
// solving then falls back to a blind scale search.
func ScaleHints(data []byte) *astrometry.UploadHints {
	ex, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	tag, err := ex.Get(exif.FocalLength)
	if err != nil {
		return nil
	}
	num, denom, err := tag.Rat2(0)
	if err != nil || num <= 0 || denom <= 0 {
		return nil
	}
	focalMm := float64(num) / float64(denom)

	return &astrometry.UploadHints{
		ScaleLowerDeg: fieldWidthDeg(minSensorWidthMm, focalMm),
		ScaleUpperDeg: fieldWidthDeg(maxSensorWidthMm, focalMm),
	}
}

func fieldWidthDeg(sensorWidthMm, focalMm float64) float64 {
	return 2 * math.Atan(sensorWidthMm/(2*focalMm)) * 180 / math.Pi
}
