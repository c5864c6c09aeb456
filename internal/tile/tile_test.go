package tile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want Tile
	}{
		{"qupath name", "slide-01 [x=4096,y=8192,w=4096,h=4096].png", Tile{X: 4096, Y: 8192, W: 4096, H: 4096}},
		{"with downsample", "s [d=4,x=0,y=12,w=1024,h=2048].jpg", Tile{X: 0, Y: 12, W: 1024, H: 2048}},
		{"full path", "/tmp/Tiles/a/b [x=1,y=2,w=3,h=4].png", Tile{X: 1, Y: 2, W: 3, H: 4}},
		{"no brackets", "x=10,y=20,w=30,h=40", Tile{X: 10, Y: 20, W: 30, H: 40}},
		{"negative offset", "t [x=-5,y=7,w=8,h=9]", Tile{X: -5, Y: 7, W: 8, H: 9}},
		{"marker inside word", "max=1 [x=2,y=3,w=4,h=5]", Tile{X: 2, Y: 3, W: 4, H: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.id)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if got.X != tt.want.X || got.Y != tt.want.Y || got.W != tt.want.W || got.H != tt.want.H {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if got.Path != tt.id {
				t.Errorf("Path: got %q, want %q", got.Path, tt.id)
			}
		})
	}
}

func TestParse_RoundTripsGeneratedNames(t *testing.T) {
	for _, v := range [][4]int{{0, 0, 1, 1}, {123, 456, 789, 1011}, {99999, 1, 512, 256}} {
		id := fmt.Sprintf("slide [x=%d,y=%d,w=%d,h=%d].png", v[0], v[1], v[2], v[3])
		got, err := Parse(id)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", id, err)
		}
		if [4]int{got.X, got.Y, got.W, got.H} != v {
			t.Errorf("Parse(%q): got %+v", id, got)
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []string{
		"",
		"slide.png",
		"slide [x=1,y=2,w=3].png",
		"slide [x=a,y=2,w=3,h=4].png",
		"slide [x=1,y=,w=3,h=4].png",
		"slide [x=1.5,y=2,w=3,h=4].png",
	}

	for _, id := range tests {
		t.Run(id, func(t *testing.T) {
			_, err := Parse(id)
			if !errors.Is(err, ErrMalformedTileIdentifier) {
				t.Errorf("expected ErrMalformedTileIdentifier, got %v", err)
			}
		})
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"s [x=4096,y=0,w=4096,h=4096].png",
		"s [x=0,y=4096,w=4096,h=4096].png",
		"s [x=0,y=0,w=4096,h=4096].png",
		"notes.txt",
		"broken.png",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tiles, skipped, err := List(dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tiles) != 3 {
		t.Fatalf("tiles: got %d, want 3", len(tiles))
	}
	if len(skipped) != 1 {
		t.Errorf("skipped: got %d, want 1", len(skipped))
	}

	wantOrder := [][2]int{{0, 0}, {4096, 0}, {0, 4096}}
	for i, w := range wantOrder {
		if tiles[i].X != w[0] || tiles[i].Y != w[1] {
			t.Errorf("tile %d: got (%d,%d), want (%d,%d)", i, tiles[i].X, tiles[i].Y, w[0], w[1])
		}
	}
}

func TestList_MissingDirectory(t *testing.T) {
	if _, _, err := List(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestIsImageFile(t *testing.T) {
	tests := map[string]bool{
		"a.png":     true,
		"a.JPG":     true,
		"a.tiff":    true,
		"a.webp":    true,
		"notes.txt": false,
		"noext":     false,
	}
	for name, want := range tests {
		if got := IsImageFile(name); got != want {
			t.Errorf("IsImageFile(%q): got %v, want %v", name, got, want)
		}
	}
}
