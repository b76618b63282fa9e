package skymap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

// writeTile creates a uniform-color atlas tile on disk.
func writeTile(t *testing.T, dir string, row, col int, c color.RGBA) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	for y := 0; y < TileSize; y++ {
		for x := 0; x < TileSize; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	path := filepath.Join(dir, fmt.Sprintf("skymap_tile_%d_%d.jpg", row, col))
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating tile: %v", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encoding tile: %v", err)
	}
}

// writeSplitTile creates a tile whose left half is one color and right half
// another, for orientation checks.
func writeSplitTile(t *testing.T, dir string, row, col int, left, right color.RGBA) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	for y := 0; y < TileSize; y++ {
		for x := 0; x < TileSize; x++ {
			if x < TileSize/2 {
				img.SetRGBA(x, y, left)
			} else {
				img.SetRGBA(x, y, right)
			}
		}
	}

	path := filepath.Join(dir, fmt.Sprintf("skymap_tile_%d_%d.jpg", row, col))
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating tile: %v", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encoding tile: %v", err)
	}
}

// TestRenderExactDimensions covers the core contract: a field fully inside
// coverage comes back at exactly the requested output dimensions with the
// tile's pixels.
func TestRenderExactDimensions(t *testing.T) {
	dir := t.TempDir()
	writeTile(t, dir, 1, 0, color.RGBA{R: 200, G: 30, B: 30, A: 255})

	store := NewStore(dir, 4, testLogger)
	renderer := NewRenderer(store, 4096, testLogger)

	img, err := renderer.Render(Request{
		RADeg:        22.5,
		DecDeg:       22.5,
		FOVWidthDeg:  2,
		FOVHeightDeg: 1.5,
		OutWidth:     64,
		OutHeight:    48,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Fatalf("dimensions = %dx%d, want 64x48", img.Bounds().Dx(), img.Bounds().Dy())
	}

	// JPEG round-trips shift uniform colors slightly; allow a wide margin.
	center := img.RGBAAt(32, 24)
	if center.R < 150 || center.G > 80 || center.B > 80 {
		t.Errorf("center pixel = %v, want dominantly red", center)
	}
}

// TestRenderContentOrientation pins the in-tile RA orientation: the atlas
// WCS has a negative RA step, so within tile column 0 (RA 0°..45°) a low RA
// sits on the RIGHT side of the tile image and a high RA on the LEFT.
func TestRenderContentOrientation(t *testing.T) {
	dir := t.TempDir()
	red := color.RGBA{R: 230, A: 255}
	blue := color.RGBA{B: 230, A: 255}
	writeSplitTile(t, dir, 1, 0, red, blue) // left half red, right half blue

	store := NewStore(dir, 4, testLogger)
	renderer := NewRenderer(store, 4096, testLogger)

	render := func(ra float64) color.RGBA {
		img, err := renderer.Render(Request{
			RADeg:        ra,
			DecDeg:       22.5,
			FOVWidthDeg:  0.5,
			FOVHeightDeg: 0.5,
			OutWidth:     8,
			OutHeight:    8,
		})
		if err != nil {
			t.Fatalf("render at RA %v: %v", ra, err)
		}
		return img.RGBAAt(4, 4)
	}

	// RA 10° is 35° west of the tile's eastern edge: local x ≈ 1593 of 2048,
	// on the blue right half.
	if c := render(10); c.B < 150 || c.R > 80 {
		t.Errorf("RA 10 sampled %v, want dominantly blue (tile right half)", c)
	}

	// RA 40° is 5° from the eastern edge: local x ≈ 228, on the red left half.
	if c := render(40); c.R < 150 || c.B > 80 {
		t.Errorf("RA 40 sampled %v, want dominantly red (tile left half)", c)
	}
}

// TestSampleTileEdges pins the mapping at the column edges: RA just inside
// the column's western boundary (col·45°) reads the rightmost tile pixels,
// RA just inside the eastern boundary reads the leftmost.
func TestSampleTileEdges(t *testing.T) {
	dir := t.TempDir()
	writeSplitTile(t, dir, 1, 0, color.RGBA{R: 230, A: 255}, color.RGBA{B: 230, A: 255})

	store := NewStore(dir, 4, testLogger)

	c, ok := store.sample(mapCoords(1, 22.5))
	if !ok || c.B < 150 {
		t.Errorf("RA 1 sampled %v (ok=%v), want blue right half", c, ok)
	}

	c, ok = store.sample(mapCoords(44, 22.5))
	if !ok || c.R < 150 {
		t.Errorf("RA 44 sampled %v (ok=%v), want red left half", c, ok)
	}
}

// TestRenderPoleCentered verifies a field centered on the celestial pole
// renders without error even with partial tile coverage.
func TestRenderPoleCentered(t *testing.T) {
	dir := t.TempDir()
	writeTile(t, dir, 0, 0, color.RGBA{R: 90, G: 90, B: 200, A: 255})

	store := NewStore(dir, 4, testLogger)
	renderer := NewRenderer(store, 4096, testLogger)

	img, err := renderer.Render(Request{
		RADeg:        0,
		DecDeg:       90,
		FOVWidthDeg:  10,
		FOVHeightDeg: 10,
		OutWidth:     64,
		OutHeight:    64,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 64 {
		t.Fatalf("dimensions = %dx%d, want 64x64", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestRenderNoCoverage(t *testing.T) {
	dir := t.TempDir()
	writeTile(t, dir, 1, 0, color.RGBA{R: 200, A: 255})

	store := NewStore(dir, 4, testLogger)
	renderer := NewRenderer(store, 4096, testLogger)

	_, err := renderer.Render(Request{
		RADeg:        200,
		DecDeg:       -50,
		FOVWidthDeg:  2,
		FOVHeightDeg: 2,
		OutWidth:     32,
		OutHeight:    32,
	})
	if !errors.Is(err, ErrNoCoverage) {
		t.Fatalf("err = %v, want ErrNoCoverage", err)
	}
}

func TestRenderUnavailable(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does-not-exist"), 4, testLogger)
	renderer := NewRenderer(store, 4096, testLogger)

	_, err := renderer.Render(Request{
		RADeg:        10,
		DecDeg:       10,
		FOVWidthDeg:  2,
		FOVHeightDeg: 2,
		OutWidth:     32,
		OutHeight:    32,
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

// TestRenderDimensionCap verifies oversized requests degrade to the cap
// instead of failing or upsampling.
func TestRenderDimensionCap(t *testing.T) {
	dir := t.TempDir()
	writeTile(t, dir, 1, 0, color.RGBA{R: 200, A: 255})

	store := NewStore(dir, 4, testLogger)
	renderer := NewRenderer(store, 64, testLogger)

	img, err := renderer.Render(Request{
		RADeg:        22.5,
		DecDeg:       22.5,
		FOVWidthDeg:  2,
		FOVHeightDeg: 1,
		OutWidth:     256,
		OutHeight:    128,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 32 {
		t.Errorf("dimensions = %dx%d, want 64x32", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestRenderInvalidRequest(t *testing.T) {
	store := NewStore(t.TempDir(), 4, testLogger)
	renderer := NewRenderer(store, 4096, testLogger)

	tests := []struct {
		name string
		req  Request
	}{
		{"zero fov", Request{RADeg: 10, DecDeg: 10, OutWidth: 32, OutHeight: 32}},
		{"fov too wide", Request{RADeg: 10, DecDeg: 10, FOVWidthDeg: 200, FOVHeightDeg: 2, OutWidth: 32, OutHeight: 32}},
		{"bad declination", Request{RADeg: 10, DecDeg: 100, FOVWidthDeg: 2, FOVHeightDeg: 2, OutWidth: 32, OutHeight: 32}},
		{"zero output", Request{RADeg: 10, DecDeg: 10, FOVWidthDeg: 2, FOVHeightDeg: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := renderer.Render(tt.req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// TestTilesForField checks footprint-to-tile mapping, including the RA seam.
func TestTilesForField(t *testing.T) {
	small := TilesForField(Request{
		RADeg: 22.5, DecDeg: 22.5,
		FOVWidthDeg: 2, FOVHeightDeg: 2,
		OutWidth: 64, OutHeight: 64,
	})
	if len(small) != 1 || small[0] != (TileRef{Row: 1, Col: 0}) {
		t.Errorf("small field tiles = %v, want [{1 0}]", small)
	}

	seam := TilesForField(Request{
		RADeg: 0, DecDeg: 22.5,
		FOVWidthDeg: 4, FOVHeightDeg: 2,
		OutWidth: 64, OutHeight: 64,
	})
	cols := map[int]bool{}
	for _, ref := range seam {
		cols[ref.Col] = true
	}
	if !cols[0] || !cols[7] {
		t.Errorf("field across the RA seam should touch cols 0 and 7, got %v", seam)
	}

	pole := TilesForField(Request{
		RADeg: 0, DecDeg: 90,
		FOVWidthDeg: 10, FOVHeightDeg: 10,
		OutWidth: 64, OutHeight: 64,
	})
	if len(pole) < 4 {
		t.Errorf("pole field should span several tiles, got %v", pole)
	}
	for _, ref := range pole {
		if ref.Row != 0 {
			t.Errorf("pole field should stay in row 0, got %v", ref)
		}
	}
}

// TestStoreLRUEviction verifies the decoded-tile cache honors its bound.
func TestStoreLRUEviction(t *testing.T) {
	dir := t.TempDir()
	writeTile(t, dir, 0, 0, color.RGBA{R: 10, A: 255})
	writeTile(t, dir, 0, 1, color.RGBA{G: 10, A: 255})
	writeTile(t, dir, 0, 2, color.RGBA{B: 10, A: 255})

	store := NewStore(dir, 2, testLogger)

	for _, key := range []tileKey{{0, 0}, {0, 1}, {0, 2}} {
		if store.tile(key) == nil {
			t.Fatalf("tile %v failed to load", key)
		}
	}

	store.mu.Lock()
	n := len(store.entries)
	store.mu.Unlock()
	if n != 2 {
		t.Errorf("cache holds %d tiles, want 2", n)
	}

	// The evicted tile must still be reloadable.
	if store.tile(tileKey{0, 0}) == nil {
		t.Error("evicted tile failed to reload")
	}
}

// TestStoreMissingTile verifies missing files are treated as no-data, not
// errors, and remembered.
func TestStoreMissingTile(t *testing.T) {
	store := NewStore(t.TempDir(), 2, testLogger)

	if img := store.tile(tileKey{2, 3}); img != nil {
		t.Error("missing tile should return nil")
	}
	store.mu.Lock()
	missing := store.missing[tileKey{2, 3}]
	store.mu.Unlock()
	if !missing {
		t.Error("missing tile should be remembered")
	}
}
