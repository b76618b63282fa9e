// Package skymap renders field-of-view previews from a tiled all-sky
// composite image.
//
// The asset is an equirectangular (plate carrée) atlas split into a 4×8 grid
// of 2048×2048 JPEG tiles, each spanning 45°×45°. Tile (0,0) covers
// RA [0°,45°], Dec [+45°,+90°]; columns advance east in RA, rows advance
// south in Dec. The atlas WCS has a negative RA step, so within each tile
// RA increases leftward: local x = 0 sits at the column's eastern edge,
// RA (col+1)·45°. A preview is produced by inverse-mapping every output
// pixel through a gnomonic (tangent-plane) projection centered on the
// target, then sampling the atlas bilinearly at the resulting RA/Dec.
package skymap

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Atlas geometry. Fixed by the asset, not configurable.
const (
	TileSize = 2048 // pixels per tile edge
	TileDeg  = 45.0 // degrees per tile edge
	GridCols = 8
	GridRows = 4

	mapWidth  = GridCols * TileSize
	mapHeight = GridRows * TileSize

	pxPerDeg = TileSize / TileDeg
)

// mapCoords converts an ICRS position to continuous atlas grid coordinates:
// x grows east in RA (wrapping at 360°), y grows south from Dec +90°. The
// grid orders pixels by sky position for tile selection, seam wrapping, and
// interpolation weights; the per-tile leftward RA orientation of the stored
// content is folded in by pixelAt when a grid pixel is resolved.
func mapCoords(raDeg, decDeg float64) (x, y float64) {
	ra := math.Mod(raDeg, 360)
	if ra < 0 {
		ra += 360
	}
	dec := clamp(decDeg, -90, 90)
	return ra * pxPerDeg, (90 - dec) * pxPerDeg
}

// tileFor returns the grid cell containing an atlas pixel coordinate.
func tileFor(x, y float64) (row, col int) {
	col = int(math.Floor(x / TileSize))
	row = int(math.Floor(y / TileSize))
	if col < 0 {
		col = 0
	}
	if col >= GridCols {
		col = GridCols - 1
	}
	if row < 0 {
		row = 0
	}
	if row >= GridRows {
		row = GridRows - 1
	}
	return row, col
}

// tanProjection is a gnomonic output frame: a tangent plane touching the
// celestial sphere at the pointing center, with the camera's pixel scale and
// rotation folded into a 2×2 CD matrix.
type tanProjection struct {
	ra0, dec0        float64 // tangent point, radians
	sinDec0, cosDec0 float64
	cx, cy           float64    // output center, pixel units
	cd               *mat.Dense // pixel offsets -> degrees on the tangent plane
}

// newTanProjection builds the output frame for a field of fovW×fovH degrees
// rendered into outW×outH pixels, rotated by rotationDeg (position angle,
// counterclockwise on the sky).
func newTanProjection(raDeg, decDeg, fovW, fovH, rotationDeg float64, outW, outH int) *tanProjection {
	// East is to the left in a sky view, so the RA-axis scale is negative.
	scale := mat.NewDense(2, 2, []float64{
		-fovW / float64(outW), 0,
		0, fovH / float64(outH),
	})

	theta := rotationDeg * math.Pi / 180
	rot := mat.NewDense(2, 2, []float64{
		math.Cos(theta), -math.Sin(theta),
		math.Sin(theta), math.Cos(theta),
	})

	cd := mat.NewDense(2, 2, nil)
	cd.Mul(scale, rot)

	ra0 := raDeg * math.Pi / 180
	dec0 := decDeg * math.Pi / 180
	return &tanProjection{
		ra0:     ra0,
		dec0:    dec0,
		sinDec0: math.Sin(dec0),
		cosDec0: math.Cos(dec0),
		cx:      float64(outW) / 2,
		cy:      float64(outH) / 2,
		cd:      cd,
	}
}

// pixelToSky maps an output pixel center to ICRS degrees. The gnomonic
// inverse is defined for every pixel, including fields centered on a pole.
func (p *tanProjection) pixelToSky(px, py float64) (raDeg, decDeg float64) {
	// Offsets from the field center; y flipped so north is up.
	u := px + 0.5 - p.cx
	v := p.cy - (py + 0.5)

	xi := (p.cd.At(0, 0)*u + p.cd.At(0, 1)*v) * math.Pi / 180
	eta := (p.cd.At(1, 0)*u + p.cd.At(1, 1)*v) * math.Pi / 180

	rho := math.Hypot(xi, eta)
	if rho == 0 {
		return p.ra0 * 180 / math.Pi, p.dec0 * 180 / math.Pi
	}

	c := math.Atan(rho)
	sinC, cosC := math.Sin(c), math.Cos(c)

	dec := math.Asin(cosC*p.sinDec0 + eta*sinC*p.cosDec0/rho)
	ra := p.ra0 + math.Atan2(xi*sinC, rho*p.cosDec0*cosC-eta*p.sinDec0*sinC)

	raDeg = ra * 180 / math.Pi
	raDeg = math.Mod(raDeg, 360)
	if raDeg < 0 {
		raDeg += 360
	}
	return raDeg, dec * 180 / math.Pi
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
