package gsplat

import (
	"fmt"

	"github.com/gogpu/gsplat/internal/project"
	"github.com/gogpu/gsplat/internal/sh"
)

// Gaussians is the scene batch of one render call. All slices are packed
// per Gaussian and are only read.
type Gaussians struct {
	// Means holds N×3 world-space positions.
	Means []float32
	// Opacities holds N activated opacities in [0, 1].
	Opacities []float32
	// Color is either SHColor or RGBColor.
	Color ColorSource
	// Shape is either ScaleRotation or Covariance.
	Shape ShapeSource
}

// Len returns the number of Gaussians.
func (g *Gaussians) Len() int { return len(g.Means) / 3 }

// ColorSource is the color representation of a batch. It is implemented
// only by SHColor and RGBColor.
type ColorSource interface {
	colorSource()
}

// SHColor holds spherical-harmonic coefficients: N×Count×3 values, where
// Count is the number of stored coefficients per Gaussian (1 to 16).
type SHColor struct {
	Coeffs []float32
	Count  int
}

// RGBColor holds N×3 precomputed colors.
type RGBColor struct {
	Colors []float32
}

func (SHColor) colorSource()  {}
func (RGBColor) colorSource() {}

// ShapeSource is the covariance representation of a batch. It is
// implemented only by ScaleRotation and Covariance.
type ShapeSource interface {
	shapeSource()
}

// ScaleRotation holds N×3 scales and N×4 rotation quaternions ordered
// (w, x, y, z). Quaternions need not be normalized.
type ScaleRotation struct {
	Scales    []float32
	Rotations []float32
}

// Covariance holds N×6 precomputed 3D covariances, upper triangle ordered
// (xx, xy, xz, yy, yz, zz).
type Covariance struct {
	Cov []float32
}

func (ScaleRotation) shapeSource() {}
func (Covariance) shapeSource()    {}

// NewColorSource builds a ColorSource from optional arguments, the way
// loosely typed callers hold them. Exactly one of sh and colors must be
// non-empty.
func NewColorSource(shCoeffs []float32, count int, colors []float32) (ColorSource, error) {
	switch {
	case len(shCoeffs) > 0 && len(colors) > 0, len(shCoeffs) == 0 && len(colors) == 0:
		return nil, ErrColorSource
	case len(shCoeffs) > 0:
		return SHColor{Coeffs: shCoeffs, Count: count}, nil
	default:
		return RGBColor{Colors: colors}, nil
	}
}

// NewShapeSource builds a ShapeSource from optional arguments. Exactly one
// of (scales, rotations) and cov must be non-empty.
func NewShapeSource(scales, rotations, cov []float32) (ShapeSource, error) {
	hasSR := len(scales) > 0 || len(rotations) > 0
	switch {
	case hasSR && len(cov) > 0, !hasSR && len(cov) == 0:
		return nil, ErrShapeSource
	case hasSR:
		return ScaleRotation{Scales: scales, Rotations: rotations}, nil
	default:
		return Covariance{Cov: cov}, nil
	}
}

// colorOf unwraps a ColorSource, accepting pointers too.
func colorOf(c ColorSource) (shc *SHColor, rgb *RGBColor, err error) {
	switch v := c.(type) {
	case SHColor:
		return &v, nil, nil
	case *SHColor:
		if v != nil {
			return v, nil, nil
		}
	case RGBColor:
		return nil, &v, nil
	case *RGBColor:
		if v != nil {
			return nil, v, nil
		}
	}
	return nil, nil, ErrColorSource
}

// shapeOf unwraps a ShapeSource, accepting pointers too.
func shapeOf(s ShapeSource) (sr *ScaleRotation, cov *Covariance, err error) {
	switch v := s.(type) {
	case ScaleRotation:
		return &v, nil, nil
	case *ScaleRotation:
		if v != nil {
			return v, nil, nil
		}
	case Covariance:
		return nil, &v, nil
	case *Covariance:
		if v != nil {
			return nil, v, nil
		}
	}
	return nil, nil, ErrShapeSource
}

func lengthError(name string, got, want int) error {
	return fmt.Errorf("%w: %s has %d values, want %d", ErrShapeMismatch, name, got, want)
}

// shapeInputs validates means and shape and fills the matching fields of
// in.
func shapeInputs(means []float32, shape ShapeSource, in *project.Inputs) error {
	sr, cov, err := shapeOf(shape)
	if err != nil {
		return err
	}
	if len(means)%3 != 0 {
		return fmt.Errorf("%w: %d mean values is not a multiple of 3", ErrShapeMismatch, len(means))
	}
	n := len(means) / 3
	in.Count = n
	in.Means = means

	if sr != nil {
		if len(sr.Scales) != 3*n {
			return lengthError("scales", len(sr.Scales), 3*n)
		}
		if len(sr.Rotations) != 4*n {
			return lengthError("rotations", len(sr.Rotations), 4*n)
		}
		in.Scales, in.Rotations = sr.Scales, sr.Rotations
		return nil
	}
	if len(cov.Cov) != 6*n {
		return lengthError("covariances", len(cov.Cov), 6*n)
	}
	in.Cov = cov.Cov
	return nil
}

// inputs validates g against cam and flattens it for the kernels. It
// performs no allocation beyond the returned struct.
func (g *Gaussians) inputs(cam *Camera) (*project.Inputs, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil Gaussians", ErrShapeMismatch)
	}
	in := &project.Inputs{}
	// The sum types are checked first so that "both or neither" is always
	// the reported error, whatever else is wrong.
	shc, rgb, err := colorOf(g.Color)
	if err != nil {
		return nil, err
	}
	if err := shapeInputs(g.Means, g.Shape, in); err != nil {
		return nil, err
	}
	n := in.Count
	if len(g.Opacities) != n {
		return nil, lengthError("opacities", len(g.Opacities), n)
	}
	in.Opacities = g.Opacities

	if shc != nil {
		if shc.Count < sh.CoeffCount(cam.SHDegree) || shc.Count > sh.CoeffCount(sh.MaxDegree) {
			return nil, fmt.Errorf("%w: %d SH coefficients cannot serve degree %d",
				ErrShapeMismatch, shc.Count, cam.SHDegree)
		}
		if len(shc.Coeffs) != n*shc.Count*3 {
			return nil, lengthError("SH coefficients", len(shc.Coeffs), n*shc.Count*3)
		}
		in.SH, in.SHCount = shc.Coeffs, shc.Count
	} else {
		if len(rgb.Colors) != 3*n {
			return nil, lengthError("colors", len(rgb.Colors), 3*n)
		}
		in.Colors = rgb.Colors
	}
	return in, nil
}
