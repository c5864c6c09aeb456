// Package tile decodes tile identifiers produced by the slide tiler.
//
// Tile file names embed the tile's origin and extent in full-resolution slide
// pixels, for example:
//
//	slide-01 [x=4096,y=8192,w=4096,h=4096].png
//
// Each value follows its marker ("x=", "y=", "w=", "h=") and ends at the next
// ',' or ']' or at the end of the name.
package tile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// ErrMalformedTileIdentifier is returned when a tile name lacks a marker or
// carries a non-numeric value.
var ErrMalformedTileIdentifier = errors.New("malformed tile identifier")

// Tile is the position and size of a tile in slide pixels.
type Tile struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	W    int    `json:"w"`
	H    int    `json:"h"`
	Path string `json:"path,omitempty"`
}

// Name returns the base file name of the tile, or its coordinates if it has no path.
func (t Tile) Name() string {
	if t.Path == "" {
		return fmt.Sprintf("[x=%d,y=%d,w=%d,h=%d]", t.X, t.Y, t.W, t.H)
	}
	return filepath.Base(t.Path)
}

// Parse extracts the tile offset and size from an identifier. Directory
// components of a path are ignored.
func Parse(id string) (Tile, error) {
	name := filepath.Base(id)

	var vals [4]int
	for i, marker := range [4]string{"x=", "y=", "w=", "h="} {
		v, err := markerValue(name, marker)
		if err != nil {
			return Tile{}, fmt.Errorf("%w: %q: %v", ErrMalformedTileIdentifier, name, err)
		}
		vals[i] = v
	}

	return Tile{X: vals[0], Y: vals[1], W: vals[2], H: vals[3], Path: id}, nil
}

// markerValue finds marker at a token boundary and parses the integer after it.
func markerValue(s, marker string) (int, error) {
	from := 0
	for {
		i := strings.Index(s[from:], marker)
		if i < 0 {
			return 0, fmt.Errorf("missing %q", marker)
		}
		i += from
		if i == 0 || !isIdentRune(rune(s[i-1])) {
			start := i + len(marker)
			end := start
			for end < len(s) && s[end] != ',' && s[end] != ']' {
				end++
			}
			raw := strings.TrimSpace(s[start:end])
			v, err := strconv.Atoi(raw)
			if err != nil {
				return 0, fmt.Errorf("non-numeric %q value %q", marker, raw)
			}
			return v, nil
		}
		from = i + len(marker)
	}
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".webp": true,
}

// IsImageFile reports whether name has a raster image extension.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// List reads the image files of a tile directory.
//
// Tiles are returned sorted by row, then column, then name. Files whose names
// cannot be parsed are reported in the second return value and skipped; only a
// failure to read the directory itself is returned as an error.
func List(dir string) ([]Tile, []error, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tile directory: %w", err)
	}

	tiles := make([]Tile, 0, len(entries))
	var skipped []error
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		t, err := Parse(filepath.Join(dir, e.Name()))
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		tiles = append(tiles, t)
	}

	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Y != tiles[j].Y {
			return tiles[i].Y < tiles[j].Y
		}
		if tiles[i].X != tiles[j].X {
			return tiles[i].X < tiles[j].X
		}
		return tiles[i].Name() < tiles[j].Name()
	})

	return tiles, skipped, nil
}
