package gsplat

import (
	"fmt"
	"math"

	"github.com/gogpu/gsplat/internal/geom"
	"github.com/gogpu/gsplat/internal/project"
	"github.com/gogpu/gsplat/internal/sh"
)

// Camera describes one view. Matrices are column-major: element (r, c)
// is at index c*4+r.
type Camera struct {
	// View maps world to camera space. The camera looks down +z.
	View [16]float32
	// Proj maps world to clip space (projection times view).
	Proj [16]float32

	// TanFovX and TanFovY are the tangents of half the field of view.
	TanFovX, TanFovY float32

	Width, Height int

	// Position is the camera center in world space, used for SH view
	// directions.
	Position [3]float32

	// ScaleModifier multiplies every scale. Zero means 1.
	ScaleModifier float32

	// SHDegree is the SH evaluation degree, 0 to 3.
	SHDegree int

	Background [3]float32

	// Prefiltered promises that every Gaussian passes the near-plane test.
	// Forward fails with ErrPrefilterViolation if one does not.
	Prefiltered bool

	// RichOutput enables expected depth, expected normal and per-Gaussian
	// contribution statistics.
	RichOutput bool

	// Gamma applies out = max(c, 0)^(1/Gamma) to the final color. Zero or
	// one leaves the color linear.
	Gamma float32

	// NearPlane is the view-space depth below which Gaussians are culled.
	// Zero means 0.2.
	NearPlane float32

	// GuardBand culls Gaussians whose NDC position exceeds it on either
	// axis. Zero disables the lateral test.
	GuardBand float32
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (c *Camera) validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil camera", ErrInvalidCamera)
	}
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: image size %dx%d", ErrInvalidCamera, c.Width, c.Height)
	case !(c.TanFovX > 0) || !(c.TanFovY > 0) || !finite(c.TanFovX) || !finite(c.TanFovY):
		return fmt.Errorf("%w: tan fov (%v, %v)", ErrInvalidCamera, c.TanFovX, c.TanFovY)
	case c.SHDegree < 0 || c.SHDegree > sh.MaxDegree:
		return fmt.Errorf("%w: SH degree %d", ErrInvalidCamera, c.SHDegree)
	case c.ScaleModifier < 0 || c.NearPlane < 0 || c.GuardBand < 0 || c.Gamma < 0:
		return fmt.Errorf("%w: negative modifier, near plane, guard band or gamma", ErrInvalidCamera)
	}
	for _, v := range c.View {
		if !finite(v) {
			return fmt.Errorf("%w: non-finite view matrix", ErrInvalidCamera)
		}
	}
	for _, v := range c.Proj {
		if !finite(v) {
			return fmt.Errorf("%w: non-finite projection matrix", ErrInvalidCamera)
		}
	}
	return nil
}

// gammaActive reports whether Forward applies a gamma transfer.
func (c *Camera) gammaActive() bool {
	return c.Gamma > 0 && c.Gamma != 1
}

func (c *Camera) params() *project.Params {
	p := &project.Params{
		View:          geom.Mat4(c.View),
		Proj:          geom.Mat4(c.Proj),
		TanFovX:       c.TanFovX,
		TanFovY:       c.TanFovY,
		Width:         c.Width,
		Height:        c.Height,
		Position:      geom.V3(c.Position[0], c.Position[1], c.Position[2]),
		ScaleModifier: c.ScaleModifier,
		SHDegree:      c.SHDegree,
		Near:          c.NearPlane,
		GuardBand:     c.GuardBand,
		Prefiltered:   c.Prefiltered,
		Rich:          c.RichOutput,
	}
	if p.ScaleModifier == 0 {
		p.ScaleModifier = 1
	}
	if p.Near == 0 {
		p.Near = project.DefaultNear
	}
	return p
}
