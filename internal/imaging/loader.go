package imaging

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/patrickmn/go-cache"
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// DefaultCacheTTL is how long an unused image stays cached.
const DefaultCacheTTL = 10 * time.Minute

// ImageCache provides thread-safe caching of loaded images to avoid redundant disk reads.
//
// The cache stores decoded image.Image objects keyed by their file path. Once an image
// is loaded, subsequent Load() calls for the same path return the cached copy without
// disk I/O until the entry expires.
//
// # Example Usage
//
//	cache := imaging.NewImageCache()
//	img, err := cache.Load("/path/to/tile [x=0,y=0,w=4096,h=4096].png")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// Use img...
//	cache.Evict(path) // Optional: free memory
type ImageCache struct {
	store *cache.Cache
}

// NewImageCache creates a cache whose entries expire after DefaultCacheTTL.
func NewImageCache() *ImageCache {
	return NewImageCacheTTL(DefaultCacheTTL)
}

// NewImageCacheTTL creates a cache whose entries expire after ttl. Expired
// entries are purged every 2*ttl.
func NewImageCacheTTL(ttl time.Duration) *ImageCache {
	return &ImageCache{store: cache.New(ttl, 2*ttl)}
}

// Load retrieves an image from the cache or loads it from disk if not cached.
//
// The image is cached using the exact path string provided. Different paths to the
// same file (e.g., relative vs absolute) will result in separate cache entries.
func (c *ImageCache) Load(path string) (image.Image, error) {
	if v, ok := c.store.Get(path); ok {
		return v.(image.Image), nil
	}

	img, err := Open(path)
	if err != nil {
		return nil, err
	}

	c.store.Set(path, img, cache.DefaultExpiration)
	return img, nil
}

// Len returns the number of cached images, including expired ones not yet purged.
func (c *ImageCache) Len() int {
	return c.store.ItemCount()
}

// Clear removes all images from the cache.
func (c *ImageCache) Clear() {
	c.store.Flush()
}

// Evict removes a specific image from the cache by its path.
// If the path is not in the cache, this method does nothing.
func (c *ImageCache) Evict(path string) {
	c.store.Delete(path)
}

// Open decodes an image file without caching it.
func Open(path string) (image.Image, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// ImageInfo contains metadata about a loaded image file.
type ImageInfo struct {
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Format        string `json:"format"`
	FileSizeBytes int64  `json:"file_size_bytes"`
}

// LoadImageInfo loads an image through cache and reports its dimensions,
// format (from the file extension) and size on disk.
func LoadImageInfo(cache *ImageCache, path string) (*ImageInfo, error) {
	img, err := cache.Load(path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	format := "unknown"
	if f, err := imaging.FormatFromFilename(path); err == nil {
		format = strings.ToLower(f.String())
	} else if strings.EqualFold(filepath.Ext(path), ".webp") {
		format = "webp"
	}

	bounds := img.Bounds()
	return &ImageInfo{
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		Format:        format,
		FileSizeBytes: stat.Size(),
	}, nil
}
