package skymap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sort"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/Picklezoid/Astrophotography-Toolkit/internal/metrics"
)

var (
	// ErrNoCoverage means the requested field lies entirely on missing tiles.
	ErrNoCoverage = errors.New("no sky map coverage for this field")
	// ErrUnavailable means the tile directory itself is absent or empty.
	ErrUnavailable = errors.New("sky map asset is not available")
)

// Minification above this ratio (atlas pixels per output pixel) triggers
// 2× supersampling to suppress aliasing in wide fields.
const supersampleThreshold = 1.5

// Request describes one preview rendering.
type Request struct {
	RADeg        float64
	DecDeg       float64
	FOVWidthDeg  float64
	FOVHeightDeg float64
	RotationDeg  float64
	OutWidth     int
	OutHeight    int
}

// Validate rejects non-renderable parameters.
func (r Request) Validate() error {
	if r.DecDeg < -90 || r.DecDeg > 90 {
		return errors.New("declination must be within [-90, 90] degrees")
	}
	if r.FOVWidthDeg <= 0 || r.FOVHeightDeg <= 0 {
		return errors.New("field of view must be positive")
	}
	if r.FOVWidthDeg > 180 || r.FOVHeightDeg > 180 {
		return errors.New("field of view must not exceed 180 degrees")
	}
	if r.OutWidth < 1 || r.OutHeight < 1 {
		return errors.New("output dimensions must be positive")
	}
	return nil
}

// Renderer reprojects atlas regions into camera frames.
type Renderer struct {
	store       *Store
	maxOutputPx int
	logger      *slog.Logger
}

// NewRenderer creates a Renderer. maxOutputPx caps either output dimension;
// larger requests are rendered at the cap (best-available resolution).
func NewRenderer(store *Store, maxOutputPx int, logger *slog.Logger) *Renderer {
	if maxOutputPx <= 0 {
		maxOutputPx = 4096
	}
	return &Renderer{store: store, maxOutputPx: maxOutputPx, logger: logger}
}

// Render produces the preview raster. The returned image has the requested
// dimensions unless they exceeded the cap, in which case it is scaled down
// proportionally.
func (r *Renderer) Render(req Request) (*image.RGBA, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !r.store.Available() {
		return nil, ErrUnavailable
	}

	start := time.Now()
	defer func() {
		metrics.ObservePreviewRender(time.Since(start))
	}()

	outW, outH := r.capDimensions(req.OutWidth, req.OutHeight)

	// Wide fields map many atlas pixels onto one output pixel; render at 2×
	// and downscale so point sampling does not alias.
	renderW, renderH := outW, outH
	minification := req.FOVWidthDeg * pxPerDeg / float64(outW)
	supersampled := minification > supersampleThreshold && outW*2 <= r.maxOutputPx && outH*2 <= r.maxOutputPx
	if supersampled {
		renderW *= 2
		renderH *= 2
	}

	proj := newTanProjection(req.RADeg, req.DecDeg, req.FOVWidthDeg, req.FOVHeightDeg, req.RotationDeg, renderW, renderH)

	img := image.NewRGBA(image.Rect(0, 0, renderW, renderH))
	covered := 0
	for py := 0; py < renderH; py++ {
		for px := 0; px < renderW; px++ {
			ra, dec := proj.pixelToSky(float64(px), float64(py))
			mx, my := mapCoords(ra, dec)
			c, ok := r.store.sample(mx, my)
			if !ok {
				c = color.RGBA{A: 255}
			} else {
				covered++
			}
			img.SetRGBA(px, py, c)
		}
	}

	if covered == 0 {
		return nil, ErrNoCoverage
	}

	if supersampled {
		scaled := image.NewRGBA(image.Rect(0, 0, outW, outH))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		img = scaled
	}

	r.logger.Debug("preview rendered",
		"ra", fmt.Sprintf("%.2f", req.RADeg),
		"dec", fmt.Sprintf("%.2f", req.DecDeg),
		"fov_width_deg", fmt.Sprintf("%.2f", req.FOVWidthDeg),
		"out_width", outW,
		"out_height", outH,
		"covered_pixels", covered,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return img, nil
}

// capDimensions scales oversized requests down to the output cap,
// preserving aspect ratio.
func (r *Renderer) capDimensions(w, h int) (int, int) {
	if w <= r.maxOutputPx && h <= r.maxOutputPx {
		return w, h
	}
	scale := float64(r.maxOutputPx) / float64(max(w, h))
	cw := max(1, int(float64(w)*scale))
	ch := max(1, int(float64(h)*scale))
	r.logger.Debug("capping preview dimensions", "requested_w", w, "requested_h", h, "capped_w", cw, "capped_h", ch)
	return cw, ch
}

// TileRef names one atlas tile.
type TileRef struct {
	Row int
	Col int
}

// TilesForField returns the atlas tiles a field's footprint touches,
// determined by projecting the output border and center back onto the atlas.
// Used by the diagnostic CLI and by coverage reporting.
func TilesForField(req Request) []TileRef {
	w, h := req.OutWidth, req.OutHeight
	if w < 2 {
		w = 2
	}
	if h < 2 {
		h = 2
	}
	proj := newTanProjection(req.RADeg, req.DecDeg, req.FOVWidthDeg, req.FOVHeightDeg, req.RotationDeg, w, h)

	seen := make(map[tileKey]bool)
	probe := func(px, py float64) {
		ra, dec := proj.pixelToSky(px, py)
		x, y := mapCoords(ra, dec)
		row, col := tileFor(x, y)
		seen[tileKey{row: row, col: col}] = true
	}

	const steps = 8
	for i := 0; i <= steps; i++ {
		t := float64(i) / steps
		probe(t*float64(w-1), 0)
		probe(t*float64(w-1), float64(h-1))
		probe(0, t*float64(h-1))
		probe(float64(w-1), t*float64(h-1))
	}
	probe(float64(w-1)/2, float64(h-1)/2)

	refs := make([]TileRef, 0, len(seen))
	for k := range seen {
		refs = append(refs, TileRef{Row: k.row, Col: k.col})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Row != refs[j].Row {
			return refs[i].Row < refs[j].Row
		}
		return refs[i].Col < refs[j].Col
	})
	return refs
}
