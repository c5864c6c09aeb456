// Package tissue separates stained tissue from slide background on
// low-resolution slide images.
//
// # Algorithm
//
// Threshold runs the following steps:
//
//  1. A median filter (MedianRadius, default 5 for an 11x11 window) is run on
//     a copy of the image. Its output is not used by the later steps; see
//     Options.MedianRadius.
//  2. The HSV saturation channel of the original image is extracted. Stained
//     tissue is saturated while glass background is close to white or grey.
//  3. Otsu's method picks the global threshold that maximises the
//     between-class variance of the saturation histogram. Pixels strictly
//     above the threshold become foreground (255).
//  4. A morphological closing with an elliptical structuring element of radius
//     CloseRadius fills small gaps. Pixels outside the image never contribute
//     to the dilation and never erode the mask.
//
// Contours then turns the mask into slide-space polygons by scaling each
// external contour by the slide's undersampling factor.
package tissue
