// Package imaging provides the raster helpers shared by the slide pipeline
// and the MCP tools.
//
// This package loads tile and low-resolution slide images, derives the HSV
// saturation channel used by tissue thresholding, crops regions around
// detections and renders annotation overlays for quality control. All
// operations work with standard Go image.Image types and use a coordinate
// system where (0,0) is at the top-left corner, X increases rightward, and Y
// increases downward.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based and relative to the image
// being processed. Overlays take slide-space polygons and map them onto the
// image by a downsample factor, so an image rendered at 1/20 of the slide
// resolution uses a downsample of 20.
//
// # Thread Safety
//
// The ImageCache type is safe for concurrent use. Individual image operations
// are stateless and can be called concurrently on different images.
//
// # Supported Formats
//
// Decoding goes through disintegration/imaging, which understands PNG, JPEG,
// GIF, TIFF and BMP. WebP decoding is registered from golang.org/x/image.
//
// # Performance Considerations
//
// Cached images expire after the cache TTL. Long slide runs should Evict each
// tile once it has been processed; a 4096x4096 RGBA tile holds 64 MiB.
package imaging
