package gsplat

import (
	"fmt"

	"github.com/gogpu/gsplat/internal/binning"
	"github.com/gogpu/gsplat/internal/geom"
	"github.com/gogpu/gsplat/internal/project"
)

// MarkVisible reports, for every mean (N×3), whether it passes the
// frustum test Forward applies before projecting: in front of the near
// plane and, with a guard band, inside it.
func (r *Rasterizer) MarkVisible(cam *Camera, means []float32) ([]bool, error) {
	if err := cam.validate(); err != nil {
		return nil, err
	}
	if len(means)%3 != 0 {
		return nil, fmt.Errorf("%w: %d mean values is not a multiple of 3", ErrShapeMismatch, len(means))
	}
	p := cam.params()
	n := len(means) / 3
	visible := make([]bool, n)
	r.pool.For(n, r.pool.Grain(n, 1024), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			_, visible[i] = p.InFrustum(geom.V3At(means, i))
		}
	})
	return visible, nil
}

// Radii projects every Gaussian and returns its screen radius in pixels,
// without shading, binning or blending. Culled Gaussians get 0. The
// result matches RenderResult.Radii of a Forward with the same camera,
// and like Forward it fails with ErrPrefilterViolation when
// Camera.Prefiltered is set and a mean lies outside the frustum.
func (r *Rasterizer) Radii(cam *Camera, means []float32, shape ShapeSource) ([]int32, error) {
	if err := cam.validate(); err != nil {
		return nil, err
	}
	in := &project.Inputs{}
	if err := shapeInputs(means, shape, in); err != nil {
		return nil, err
	}
	p := cam.params()
	n := in.Count
	if p.Prefiltered {
		if err := project.CheckPrefiltered(r.pool, p, in.Means, n); err != nil {
			return nil, err
		}
	}
	grid := binning.NewGrid(cam.Width, cam.Height)
	radii := make([]int32, n)
	r.pool.For(n, r.pool.Grain(n, 256), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			var cov geom.Sym3
			if in.Cov != nil {
				cov = geom.Sym3At(in.Cov, i)
			} else {
				cov = project.Cov3D(geom.V3At(in.Scales, i), p.ScaleModifier, geom.QuatAt(in.Rotations, i))
			}
			if f, ok, _ := p.ProjectOne(geom.V3At(in.Means, i), cov, grid); ok {
				radii[i] = f.Radius
			}
		}
	})
	return radii, nil
}
