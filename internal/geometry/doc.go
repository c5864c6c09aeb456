// Package geometry provides the polygon, box and coordinate-space primitives
// shared by the slide aggregation pipeline.
//
// # Coordinate Spaces
//
// Every Polygon carries the space its coordinates are expressed in:
//   - SpaceMask: raster coordinates of a mask or downsampled image
//     (tile-local, undersampled pixels)
//   - SpaceSlide: full-resolution slide pixels
//
// A Transform maps SpaceMask to SpaceSlide by scaling first and offsetting
// second. The tile offset is already expressed in slide pixels, so it is never
// scaled. Physical units (micrometres) are only ever produced as area values
// from SpaceSlide polygons and the slide pixel size; no polygon is stored in
// micrometres.
//
// All pixel coordinates follow the image convention: origin at the top-left
// corner, X increases rightward and Y increases downward.
//
// # Errors
//
//   - ErrDegenerateGeometry: fewer than 3 distinct points
//   - ErrWrongSpace: an operation received a polygon in the wrong space
package geometry
