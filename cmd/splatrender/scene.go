package main

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/gogpu/gsplat"
)

// sceneFile is the TOML layout of a scene:
//
//	[camera]
//	width = 256
//	height = 256
//	fov_y = 50
//	position = [0, 0, -4]
//	look_at = [0, 0, 0]
//
//	[[gaussian]]
//	mean = [0, 0, 0]
//	scale = [0.3, 0.3, 0.3]
//	rotation = [1, 0, 0, 0]
//	opacity = 0.8
//	color = [1, 0.5, 0]
type sceneFile struct {
	Camera    cameraConfig     `toml:"camera"`
	Gaussians []gaussianConfig `toml:"gaussian"`
}

type cameraConfig struct {
	Width  int     `toml:"width"`
	Height int     `toml:"height"`
	FovY   float64 `toml:"fov_y"` // degrees

	Position [3]float32 `toml:"position"`
	LookAt   [3]float32 `toml:"look_at"`
	Up       [3]float32 `toml:"up"`

	Near float32 `toml:"near"`
	Far  float32 `toml:"far"`

	SHDegree      int        `toml:"sh_degree"`
	Background    [3]float32 `toml:"background"`
	Gamma         float32    `toml:"gamma"`
	ScaleModifier float32    `toml:"scale_modifier"`
	GuardBand     float32    `toml:"guard_band"`
	Rich          bool       `toml:"rich"`
}

type gaussianConfig struct {
	Mean     [3]float32 `toml:"mean"`
	Opacity  float32    `toml:"opacity"`
	Scale    []float32  `toml:"scale"`
	Rotation []float32  `toml:"rotation"`
	Cov      []float32  `toml:"cov"`
	Color    []float32  `toml:"color"`
	SH       []float32  `toml:"sh"`
}

var errScene = errors.New("splatrender: invalid scene")

// loadScene decodes a TOML scene file. Unknown keys are rejected.
func loadScene(path string) (*gsplat.Camera, *gsplat.Gaussians, error) {
	var sf sceneFile
	md, err := toml.DecodeFile(path, &sf)
	if err != nil {
		return nil, nil, fmt.Errorf("read scene: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, nil, fmt.Errorf("%w: unknown keys %s", errScene, strings.Join(keys, ", "))
	}
	return sf.build()
}

func (sf *sceneFile) build() (*gsplat.Camera, *gsplat.Gaussians, error) {
	cam, err := sf.Camera.build()
	if err != nil {
		return nil, nil, err
	}
	g, err := buildGaussians(sf.Gaussians)
	if err != nil {
		return nil, nil, err
	}
	return cam, g, nil
}

func (c *cameraConfig) build() (*gsplat.Camera, error) {
	if c.Width <= 0 || c.Height <= 0 {
		return nil, fmt.Errorf("%w: camera size %dx%d", errScene, c.Width, c.Height)
	}
	fov := c.FovY
	if fov == 0 {
		fov = 50
	}
	if fov <= 0 || fov >= 180 {
		return nil, fmt.Errorf("%w: fov_y %v", errScene, fov)
	}
	near, far := c.Near, c.Far
	if near == 0 {
		near = 0.01
	}
	if far == 0 {
		far = 100
	}
	up := c.Up
	if up == [3]float32{} {
		up = [3]float32{0, -1, 0}
	}
	target := c.LookAt
	if target == c.Position {
		target[2] += 1
	}

	view, err := lookAt(c.Position, target, up)
	if err != nil {
		return nil, err
	}
	tanY := float32(math.Tan(fov * math.Pi / 360))
	tanX := tanY * float32(c.Width) / float32(c.Height)
	return &gsplat.Camera{
		View:          view,
		Proj:          mul4(perspective(tanX, tanY, near, far), view),
		TanFovX:       tanX,
		TanFovY:       tanY,
		Width:         c.Width,
		Height:        c.Height,
		Position:      c.Position,
		ScaleModifier: c.ScaleModifier,
		SHDegree:      c.SHDegree,
		Background:    c.Background,
		Gamma:         c.Gamma,
		GuardBand:     c.GuardBand,
		RichOutput:    c.Rich,
	}, nil
}

// buildGaussians packs the per-Gaussian tables. Every Gaussian must use
// the same color and shape representation.
func buildGaussians(gs []gaussianConfig) (*gsplat.Gaussians, error) {
	g := &gsplat.Gaussians{
		Means:     make([]float32, 0, 3*len(gs)),
		Opacities: make([]float32, 0, len(gs)),
	}
	var shCoeffs, colors, scales, rotations, cov []float32
	shCount := -1
	for i, gc := range gs {
		g.Means = append(g.Means, gc.Mean[:]...)
		g.Opacities = append(g.Opacities, gc.Opacity)

		switch {
		case len(gc.SH) > 0:
			if len(gc.SH)%3 != 0 || (shCount >= 0 && len(gc.SH)/3 != shCount) {
				return nil, fmt.Errorf("%w: gaussian %d has %d SH values", errScene, i, len(gc.SH))
			}
			shCount = len(gc.SH) / 3
			shCoeffs = append(shCoeffs, gc.SH...)
		case len(gc.Color) == 3:
			colors = append(colors, gc.Color...)
		default:
			return nil, fmt.Errorf("%w: gaussian %d needs color (3 values) or sh", errScene, i)
		}

		switch {
		case len(gc.Cov) == 6:
			cov = append(cov, gc.Cov...)
		case len(gc.Scale) == 3:
			rot := gc.Rotation
			if len(rot) == 0 {
				rot = []float32{1, 0, 0, 0}
			}
			if len(rot) != 4 {
				return nil, fmt.Errorf("%w: gaussian %d rotation has %d values", errScene, i, len(rot))
			}
			scales = append(scales, gc.Scale...)
			rotations = append(rotations, rot...)
		default:
			return nil, fmt.Errorf("%w: gaussian %d needs scale (3 values) or cov (6 values)", errScene, i)
		}
	}

	var err error
	if g.Color, err = gsplat.NewColorSource(shCoeffs, shCount, colors); err != nil && len(gs) > 0 {
		return nil, fmt.Errorf("%w: mixed color representations: %w", errScene, err)
	}
	if g.Shape, err = gsplat.NewShapeSource(scales, rotations, cov); err != nil && len(gs) > 0 {
		return nil, fmt.Errorf("%w: mixed shape representations: %w", errScene, err)
	}
	if len(gs) == 0 {
		g.Color = gsplat.RGBColor{}
		g.Shape = gsplat.Covariance{}
	}
	return g, nil
}

// lookAt returns a column-major world-to-camera matrix. The camera looks
// down +z with y pointing down the image.
func lookAt(eye, target, up [3]float32) ([16]float32, error) {
	z := normalize(sub(target, eye))
	// y is the image-down direction: minus up, made orthogonal to z.
	d := dot(up, z)
	y := normalize([3]float32{d*z[0] - up[0], d*z[1] - up[1], d*z[2] - up[2]})
	if y == [3]float32{} {
		return [16]float32{}, fmt.Errorf("%w: up is parallel to the view direction", errScene)
	}
	x := cross(y, z)

	var m [16]float32
	for c := range 3 {
		m[c*4+0] = x[c]
		m[c*4+1] = y[c]
		m[c*4+2] = z[c]
	}
	m[12] = -dot(x, eye)
	m[13] = -dot(y, eye)
	m[14] = -dot(z, eye)
	m[15] = 1
	return m, nil
}

// perspective maps camera space to clip space with depth in [0, 1].
func perspective(tanX, tanY, near, far float32) [16]float32 {
	var m [16]float32
	m[0] = 1 / tanX
	m[5] = 1 / tanY
	m[10] = far / (far - near)
	m[11] = 1
	m[14] = -far * near / (far - near)
	return m
}

func mul4(a, b [16]float32) [16]float32 {
	var out [16]float32
	for c := range 4 {
		for r := range 4 {
			var s float32
			for k := range 4 {
				s += a[k*4+r] * b[c*4+k]
			}
			out[c*4+r] = s
		}
	}
	return out
}

func sub(a, b [3]float32) [3]float32 { return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func dot(a, b [3]float32) float32 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func cross(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v [3]float32) [3]float32 {
	l := float32(math.Sqrt(float64(dot(v, v))))
	if l < 1e-8 {
		return [3]float32{}
	}
	return [3]float32{v[0] / l, v[1] / l, v[2] / l}
}
