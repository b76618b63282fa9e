package skymap

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg" // tile codec
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/Picklezoid/Astrophotography-Toolkit/internal/metrics"
)

type tileKey struct {
	row, col int
}

// Store reads atlas tiles from disk and keeps a bounded number of decoded
// tiles in memory. Safe for concurrent use. Tiles are read-only once on
// disk, so a missing tile is remembered and never re-statted.
type Store struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	entries  map[tileKey]*tileEntry
	head     *tileEntry // most recently used
	tail     *tileEntry // least recently used
	maxTiles int

	missing map[tileKey]bool
}

type tileEntry struct {
	key        tileKey
	img        *image.RGBA
	prev, next *tileEntry
}

// NewStore creates a Store over the given tile directory keeping at most
// maxTiles decoded tiles in memory.
func NewStore(dir string, maxTiles int, logger *slog.Logger) *Store {
	if maxTiles <= 0 {
		maxTiles = 12
	}
	return &Store{
		dir:      dir,
		logger:   logger,
		entries:  make(map[tileKey]*tileEntry),
		maxTiles: maxTiles,
		missing:  make(map[tileKey]bool),
	}
}

// Available reports whether the tile directory exists and holds at least one
// tile. Used for the degraded-mode readiness signal.
func (s *Store) Available() bool {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var row, col int
		if n, err := fmt.Sscanf(e.Name(), "skymap_tile_%d_%d.jpg", &row, &col); n == 2 && err == nil {
			return true
		}
	}
	return false
}

// tilePath returns the on-disk location of a tile, matching the layout the
// atlas splitter produces.
func (s *Store) tilePath(key tileKey) string {
	return filepath.Join(s.dir, fmt.Sprintf("skymap_tile_%d_%d.jpg", key.row, key.col))
}

// tile returns the decoded tile, or nil if the file does not exist or cannot
// be decoded. Decode failures are logged once and treated as missing.
func (s *Store) tile(key tileKey) *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.missing[key] {
		return nil
	}
	if e, ok := s.entries[key]; ok {
		s.moveToFront(e)
		metrics.IncTileCacheHits()
		return e.img
	}
	metrics.IncTileCacheMisses()

	img, err := s.loadTile(key)
	if err != nil {
		s.missing[key] = true
		if !os.IsNotExist(err) {
			s.logger.Warn("unreadable skymap tile", "row", key.row, "col", key.col, "error", err)
		}
		return nil
	}

	e := &tileEntry{key: key, img: img}
	s.entries[key] = e
	s.addToFront(e)
	if len(s.entries) > s.maxTiles {
		s.evictTail()
	}
	return img
}

func (s *Store) loadTile(key tileKey) (*image.RGBA, error) {
	f, err := os.Open(s.tilePath(key))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoded, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding tile %d_%d: %w", key.row, key.col, err)
	}

	// Normalize to RGBA for uniform fast sampling.
	rgba, ok := decoded.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(image.Rect(0, 0, decoded.Bounds().Dx(), decoded.Bounds().Dy()))
		draw.Draw(rgba, rgba.Bounds(), decoded, decoded.Bounds().Min, draw.Src)
	}
	return rgba, nil
}

// sample bilinearly interpolates the atlas at continuous map coordinates,
// wrapping in RA and clamping in Dec. ok is false when every contributing
// pixel falls on a missing tile.
func (s *Store) sample(x, y float64) (c color.RGBA, ok bool) {
	// Shift to pixel-center coordinates.
	fx := x - 0.5
	fy := y - 0.5

	x0 := math.Floor(fx)
	y0 := math.Floor(fy)
	wx := fx - x0
	wy := fy - y0

	var r, g, b, wsum float64
	for dy := 0; dy <= 1; dy++ {
		for dx := 0; dx <= 1; dx++ {
			w := (1 - math.Abs(float64(dx)-wx)) * (1 - math.Abs(float64(dy)-wy))
			if w == 0 {
				continue
			}
			px, py, inMap := wrapMapPixel(int(x0)+dx, int(y0)+dy)
			if !inMap {
				continue
			}
			pc, have := s.pixelAt(px, py)
			if !have {
				continue
			}
			r += w * float64(pc.R)
			g += w * float64(pc.G)
			b += w * float64(pc.B)
			wsum += w
		}
	}

	if wsum == 0 {
		return color.RGBA{}, false
	}
	return color.RGBA{
		R: uint8(clamp(r/wsum, 0, 255)),
		G: uint8(clamp(g/wsum, 0, 255)),
		B: uint8(clamp(b/wsum, 0, 255)),
		A: 255,
	}, true
}

// pixelAt reads one atlas pixel, resolving it to its tile. The atlas WCS
// carries a negative RA step: within a tile RA runs leftward, so the in-tile
// x is mirrored relative to the east-growing grid coordinate.
func (s *Store) pixelAt(px, py int) (color.RGBA, bool) {
	row := py / TileSize
	col := px / TileSize
	img := s.tile(tileKey{row: row, col: col})
	if img == nil {
		return color.RGBA{}, false
	}
	return img.RGBAAt(TileSize-1-(px-col*TileSize), py-row*TileSize), true
}

// wrapMapPixel wraps x around the RA seam and rejects y outside the atlas.
func wrapMapPixel(x, y int) (int, int, bool) {
	if y < 0 || y >= mapHeight {
		return 0, 0, false
	}
	x = x % mapWidth
	if x < 0 {
		x += mapWidth
	}
	return x, y, true
}

func (s *Store) moveToFront(e *tileEntry) {
	if e == s.head {
		return
	}
	s.remove(e)
	s.addToFront(e)
}

func (s *Store) addToFront(e *tileEntry) {
	e.next = s.head
	e.prev = nil
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *Store) remove(e *tileEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
}

func (s *Store) evictTail() {
	if s.tail == nil {
		return
	}
	delete(s.entries, s.tail.key)
	s.remove(s.tail)
}
