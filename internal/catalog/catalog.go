// Package catalog resolves well-known deep-sky target names to ICRS J2000
// coordinates from a small embedded table. It replaces an online name
// resolver so the preview service works offline.
package catalog

import (
	"bufio"
	"embed"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

//go:embed targets.csv
var targetsFile embed.FS

// Target is a named sky position in ICRS J2000 degrees.
type Target struct {
	Name   string
	RADeg  float64
	DecDeg float64
}

// Catalog is an immutable name index built once at startup.
// Safe for concurrent reads.
type Catalog struct {
	byName  map[string]Target
	ordered []Target
}

// Load parses the embedded target table. Malformed lines are skipped with a
// warning rather than failing the whole load.
func Load(logger *slog.Logger) (*Catalog, error) {
	f, err := targetsFile.Open("targets.csv")
	if err != nil {
		return nil, fmt.Errorf("opening embedded catalog: %w", err)
	}
	defer f.Close()

	c := &Catalog{byName: make(map[string]Target)}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			logger.Warn("skipping malformed catalog line", "line", lineNo)
			continue
		}

		names := strings.Split(parts[0], ";")
		ra, err1 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		dec, err2 := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err1 != nil || err2 != nil || ra < 0 || ra >= 360 || dec < -90 || dec > 90 {
			logger.Warn("skipping catalog line with invalid coordinates", "line", lineNo)
			continue
		}

		target := Target{Name: strings.TrimSpace(names[0]), RADeg: ra, DecDeg: dec}
		c.ordered = append(c.ordered, target)
		for _, n := range names {
			c.byName[normalize(n)] = target
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading embedded catalog: %w", err)
	}

	logger.Info("catalog loaded", "targets", len(c.ordered))
	return c, nil
}

// Lookup resolves a target name (or alias) case-insensitively.
func (c *Catalog) Lookup(name string) (Target, bool) {
	t, ok := c.byName[normalize(name)]
	return t, ok
}

// Targets returns all primary entries in file order, for listing endpoints.
func (c *Catalog) Targets() []Target {
	return c.ordered
}

func normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
