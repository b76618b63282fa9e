// Command diag is an offline planning check: it runs the exposure
// calculator and tile lookup for a named target without starting the
// HTTP server.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Picklezoid/Astrophotography-Toolkit/internal/catalog"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/exposure"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/skymap"
)

func main() {
	target := flag.String("target", "M31", "catalog target name")
	focal := flag.Float64("focal", 135, "focal length in mm")
	aperture := flag.Float64("aperture", 2.8, "aperture f-number")
	pitch := flag.Float64("pitch", 4.3, "pixel pitch in micrometers")
	sensorW := flag.Float64("sensor-width", 6000, "sensor width in pixels")
	sensorH := flag.Float64("sensor-height", 4000, "sensor height in pixels")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	cat, err := catalog.Load(logger)
	if err != nil {
		fmt.Println("ERROR loading catalog:", err)
		os.Exit(1)
	}

	t, ok := cat.Lookup(*target)
	if !ok {
		fmt.Printf("ERROR: unknown target %q\n", *target)
		os.Exit(1)
	}
	fmt.Printf("Target: %s at RA %.4f° Dec %.4f°\n", t.Name, t.RADeg, t.DecDeg)

	res, err := exposure.Compute(exposure.Params{
		FocalLength: *focal,
		Aperture:    *aperture,
		PixelPitch:  *pitch,
		Declination: &t.DecDeg,
	})
	if err != nil {
		fmt.Println("ERROR computing exposure:", err)
		os.Exit(1)
	}
	fmt.Printf("NPF exposure: %.2fs base, %.2fs at Dec %.1f°\n", res.ExposureSeconds, res.AdjustedSeconds, t.DecDeg)
	fmt.Printf("Pixel scale: %.2f\"/px\n", res.PixelScaleArcsec)

	fovW := exposure.FOVDegrees(*pitch, *sensorW, *focal)
	fovH := exposure.FOVDegrees(*pitch, *sensorH, *focal)
	fmt.Printf("Field of view: %.2f° x %.2f°\n", fovW, fovH)

	tiles := skymap.TilesForField(skymap.Request{
		RADeg:        t.RADeg,
		DecDeg:       t.DecDeg,
		FOVWidthDeg:  fovW,
		FOVHeightDeg: fovH,
		OutWidth:     int(*sensorW),
		OutHeight:    int(*sensorH),
	})

	fmt.Printf("Atlas tiles covering the field (%d):\n", len(tiles))
	for _, tile := range tiles {
		fmt.Printf("  skymap_tile_%d_%d.jpg\n", tile.Row, tile.Col)
	}
}
