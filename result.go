package gsplat

import (
	"image"
	"image/color"

	"github.com/gogpu/gsplat/internal/binning"
	"github.com/gogpu/gsplat/internal/buffers"
	"github.com/gogpu/gsplat/internal/composite"
)

// RenderResult is the output of Forward. It owns the saved state Backward
// needs, so it must be passed back unchanged together with the same camera
// and Gaussians. All returned slices are views into the result; do not
// modify them.
type RenderResult struct {
	cam  Camera
	fp   fingerprint
	grid binning.Grid
	rich bool

	// blended on the accelerator; Backward refuses it
	deviceBlend bool

	numRendered int

	geo *buffers.Geometry
	bin *buffers.Binning
	img *buffers.Image

	color      []float32
	depth      []float32
	normal     []float32
	contribSum []float32
	contribMax []float32
}

// Color returns the rendered image: 3×H×W planar, channel-major.
func (r *RenderResult) Color() []float32 { return r.color }

// Radii returns the integer screen radius of every Gaussian. Zero marks a
// culled Gaussian.
func (r *RenderResult) Radii() []int32 { return r.geo.Radii }

// NumRendered returns the number of (Gaussian, tile) pairs blended.
func (r *RenderResult) NumRendered() int { return r.numRendered }

// Width returns the image width in pixels.
func (r *RenderResult) Width() int { return r.cam.Width }

// Height returns the image height in pixels.
func (r *RenderResult) Height() int { return r.cam.Height }

// Depth returns the expected view-space depth per pixel (H×W), or nil
// without rich output. It is the unnormalized blend weight sum of depths.
func (r *RenderResult) Depth() []float32 { return r.depth }

// Normal returns the expected camera-space normal per pixel (3×H×W
// planar), or nil without rich output.
func (r *RenderResult) Normal() []float32 { return r.normal }

// ContribSum returns the total blend weight every Gaussian received over
// all pixels, or nil without rich output.
func (r *RenderResult) ContribSum() []float32 { return r.contribSum }

// ContribMax returns the largest single-pixel blend weight of every
// Gaussian, or nil without rich output.
func (r *RenderResult) ContribMax() []float32 { return r.contribMax }

// Transmittance returns the per-pixel transmittance left after the last
// contributor (H×W).
func (r *RenderResult) Transmittance() []float32 { return r.img.FinalT }

// Image converts the color output to an 8-bit image. Values are clamped
// to [0, 1].
func (r *RenderResult) Image() *image.NRGBA {
	w, h := r.cam.Width, r.cam.Height
	plane := w * h
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			pix := y*w + x
			img.SetNRGBA(x, y, color.NRGBA{
				R: to8(r.color[pix]),
				G: to8(r.color[plane+pix]),
				B: to8(r.color[2*plane+pix]),
				A: 255,
			})
		}
	}
	return img
}

func to8(v float32) uint8 {
	switch {
	case !(v > 0):
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

// scene rebuilds the compositor input from the saved state.
func (r *RenderResult) scene() *composite.Scene {
	s := &composite.Scene{
		Width:        r.cam.Width,
		Height:       r.cam.Height,
		Grid:         r.grid,
		Ranges:       r.img.Ranges,
		PointList:    r.bin.PointList,
		Means2D:      r.geo.Means2D,
		ConicOpacity: r.geo.ConicOpacity,
		Colors:       r.geo.RGB,
		Depths:       r.geo.Depths,
		Background:   r.cam.Background,
	}
	if r.rich {
		s.Normals = r.geo.Normals
	}
	return s
}

// OutputGrads are the gradients of a scalar loss with respect to the
// Forward outputs. Depth and Normal may only be set when the result was
// rendered with rich output.
type OutputGrads struct {
	Color  []float32 // 3×H×W planar
	Depth  []float32 // H×W
	Normal []float32 // 3×H×W planar
}

// Gradients are the per-Gaussian gradients produced by Backward. Every
// slice has the length of the matching input; the representation that was
// not used gets a zero-filled slice, except SH which is nil for RGBColor
// batches.
type Gradients struct {
	// Means2D is the screen-space mean gradient, 2 per Gaussian, with
	// respect to normalized device coordinates.
	Means2D   []float32
	Colors    []float32
	Opacities []float32
	Means3D   []float32
	Cov3D     []float32
	SH        []float32
	Scales    []float32
	Rotations []float32

	// Conic is the gradient of the inverse 2D covariance (A, B, C), 3 per
	// Gaussian.
	Conic []float32
}
