package solve

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // upload codecs
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/Picklezoid/Astrophotography-Toolkit/internal/astrometry"
)

// defaultMarkerRadius is used when the service reports no object radius.
const defaultMarkerRadius = 20.0

// renderOverlay draws the solver's annotations onto the original upload:
// one circle and label per identified object, each annotation in a distinct
// hue. Returns the composite as PNG.
func renderOverlay(imageData []byte, annotations []astrometry.Annotation) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("decoding stored upload: %w", err)
	}

	dc := gg.NewContextForImage(src)

	for i, a := range annotations {
		// Spread hues around the wheel with a stride coprime to 360 so
		// neighboring annotations stay distinguishable.
		hue := float64((i * 137) % 360)
		c := colorful.Hsv(hue, 0.85, 0.95)

		r := a.Radius
		if r <= 0 {
			r = defaultMarkerRadius
		}

		dc.SetColor(c)
		dc.SetLineWidth(2)
		dc.DrawCircle(a.PixelX, a.PixelY, r)
		dc.Stroke()

		if len(a.Names) > 0 {
			dc.DrawString(a.Names[0], a.PixelX+r+4, a.PixelY+4)
		}
	}

	var out bytes.Buffer
	if err := dc.EncodePNG(&out); err != nil {
		return nil, fmt.Errorf("encoding overlay: %w", err)
	}
	return out.Bytes(), nil
}
