package gsplat

import (
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/gsplat/internal/binning"
	"github.com/gogpu/gsplat/internal/buffers"
	"github.com/gogpu/gsplat/internal/composite"
	"github.com/gogpu/gsplat/internal/parallel"
	"github.com/gogpu/gsplat/internal/project"
)

// minGammaInput bounds the gamma derivative near zero, where
// x^(1/γ-1) diverges for γ > 1.
const minGammaInput = 1e-6

// Rasterizer renders Gaussian batches and differentiates the renders.
// Calls on one Rasterizer may run concurrently; every call owns its
// buffers.
type Rasterizer struct {
	pool *parallel.WorkerPool
	opts options
}

// New creates a Rasterizer. The worker pool is shared by all calls and
// released by Close.
func New(opts ...Option) *Rasterizer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Rasterizer{
		pool: parallel.NewWorkerPool(o.workers),
		opts: o,
	}
}

// Close stops the worker pool. Results already returned stay valid.
func (r *Rasterizer) Close() {
	r.pool.Close()
}

func (r *Rasterizer) accelerator() GPUAccelerator {
	if r.opts.noAccel {
		return nil
	}
	return Accelerator()
}

// Forward renders g as seen by cam.
//
// The returned result holds the saved state for Backward. Every
// allocation goes through the configured Allocator, one call per state
// buffer.
func (r *Rasterizer) Forward(cam *Camera, g *Gaussians) (res *RenderResult, err error) {
	defer func() {
		if err != nil {
			r.snapshot("forward", cam, g, err)
		}
	}()
	if err := cam.validate(); err != nil {
		return nil, err
	}
	in, err := g.inputs(cam)
	if err != nil {
		return nil, err
	}
	return r.forward(cam, in)
}

func (r *Rasterizer) forward(cam *Camera, in *project.Inputs) (*RenderResult, error) {
	log := Logger()
	p := cam.params()
	n := in.Count
	grid := binning.NewGrid(cam.Width, cam.Height)
	alloc := r.opts.allocator()

	geoChunk, err := buffers.Obtain(alloc, buffers.GeometrySize(n, p.Rich))
	if err != nil {
		return nil, err
	}
	geo := buffers.NewGeometry(geoChunk, n, p.Rich)

	project.Covariances(r.pool, p, in, geo)
	if err := r.preprocess(cam, p, in, geo, grid); err != nil {
		return nil, err
	}
	project.Shade(r.pool, p, in, geo)

	total := binning.InclusiveScan(r.pool, geo.TilesTouched, geo.ScanSum)
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d Gaussian-tile pairs overflow 32-bit offsets", ErrAllocation, total)
	}
	numRendered := int(total)

	binChunk, err := buffers.Obtain(alloc, buffers.BinningSize(numRendered))
	if err != nil {
		return nil, err
	}
	bin := buffers.NewBinning(binChunk, numRendered)
	if numRendered > 0 {
		binning.DuplicateWithKeys(r.pool, geo, bin, grid)
		binning.SortPairs(r.pool, bin.KeysUnsorted, bin.PointListUnsorted, bin.Keys, bin.PointList, grid.KeyBits())
	}

	gamma := cam.gammaActive()
	imgChunk, err := buffers.Obtain(alloc, buffers.ImageSize(cam.Width, cam.Height, grid.Tiles(), gamma))
	if err != nil {
		return nil, err
	}
	img := buffers.NewImage(imgChunk, cam.Width, cam.Height, grid.Tiles(), gamma)
	binning.IdentifyTileRanges(r.pool, bin.Keys, img.Ranges)

	log.Debug("gsplat: forward",
		"gaussians", n, "rendered", numRendered, "tiles", grid.Tiles(),
		"bytes", len(geoChunk)+len(binChunk)+len(imgChunk))

	plane := cam.Width * cam.Height
	res := &RenderResult{
		cam:         *cam,
		grid:        grid,
		rich:        p.Rich,
		numRendered: numRendered,
		geo:         geo,
		bin:         bin,
		img:         img,
		color:       make([]float32, 3*plane),
	}
	out := &composite.ForwardOut{
		Color:    res.color,
		FinalT:   img.FinalT,
		NContrib: img.NContrib,
	}
	if gamma {
		out.Color = img.Linear
	}
	if p.Rich {
		res.depth = make([]float32, plane)
		res.normal = make([]float32, 3*plane)
		res.contribSum = make([]float32, n)
		res.contribMax = make([]float32, n)
		out.Depth, out.Normal = res.depth, res.normal
		out.ContribSum, out.ContribMax = res.contribSum, res.contribMax
	}
	res.deviceBlend = r.composite(res.scene(), out, p.Rich)

	if gamma {
		applyGamma(r.pool, img.Linear, res.color, cam.Gamma)
	}
	res.fp = fingerprintOf(cam, in)
	return res, nil
}

// preprocess projects every Gaussian, on the accelerator when one accepts
// the job.
func (r *Rasterizer) preprocess(cam *Camera, p *project.Params, in *project.Inputs, geo *buffers.Geometry, grid binning.Grid) error {
	a := r.accelerator()
	if a == nil || !a.CanAccelerate(AccelPreprocess) {
		return project.Project(r.pool, p, in, geo, grid)
	}
	if p.Prefiltered {
		if err := project.CheckPrefiltered(r.pool, p, in.Means, in.Count); err != nil {
			return err
		}
	}
	resolved := *cam
	resolved.NearPlane = p.Near
	resolved.ScaleModifier = p.ScaleModifier
	job := &PreprocessJob{
		Camera:       &resolved,
		Count:        in.Count,
		Means:        in.Means,
		Cov3D:        geo.Cov3D,
		Means2D:      geo.Means2D,
		Depths:       geo.Depths,
		ConicOpacity: geo.ConicOpacity,
		Radii:        geo.Radii,
		TilesTouched: geo.TilesTouched,
	}
	err := a.Preprocess(job)
	if err == nil {
		if in.Opacities != nil {
			for i := range in.Count {
				if geo.Radii[i] > 0 {
					geo.ConicOpacity[4*i+3] = in.Opacities[i]
				}
			}
		}
		return nil
	}
	if !errors.Is(err, ErrFallbackToCPU) {
		Logger().Warn("gsplat: GPU preprocess failed, using CPU", "accelerator", a.Name(), "err", err)
	}
	return project.Project(r.pool, p, in, geo, grid)
}

// composite blends the scene. The accelerator takes the job only for
// inference-only rasterizers without rich output. It reports whether the
// accelerator produced the blend.
func (r *Rasterizer) composite(s *composite.Scene, out *composite.ForwardOut, rich bool) bool {
	if a := r.accelerator(); a != nil && r.opts.inference && !rich && a.CanAccelerate(AccelComposite) {
		job := &CompositeJob{
			Width:        s.Width,
			Height:       s.Height,
			Background:   s.Background,
			Ranges:       s.Ranges,
			PointList:    s.PointList,
			Means2D:      s.Means2D,
			ConicOpacity: s.ConicOpacity,
			Colors:       s.Colors,
			Depths:       s.Depths,
			Color:        out.Color,
			FinalT:       out.FinalT,
			NContrib:     out.NContrib,
		}
		err := a.Composite(job)
		if err == nil {
			return true
		}
		if !errors.Is(err, ErrFallbackToCPU) {
			Logger().Warn("gsplat: GPU composite failed, using CPU", "accelerator", a.Name(), "err", err)
		}
	}
	composite.Forward(r.pool, s, out)
	return false
}

// applyGamma writes max(lin, 0)^(1/γ) into dst.
func applyGamma(pool *parallel.WorkerPool, lin, dst []float32, gamma float32) {
	inv := 1 / float64(gamma)
	pool.For(len(lin), pool.Grain(len(lin), 4096), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			v := lin[i]
			if v <= 0 {
				dst[i] = 0
				continue
			}
			dst[i] = float32(math.Pow(float64(v), inv))
		}
	})
}

// gammaGrad maps output color gradients through the gamma transfer.
// Pixels whose linear value is not positive receive no gradient.
func gammaGrad(pool *parallel.WorkerPool, lin, dOut []float32, gamma float32) []float32 {
	inv := 1 / float64(gamma)
	dLin := make([]float32, len(lin))
	pool.For(len(lin), pool.Grain(len(lin), 4096), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			v := lin[i]
			if v <= 0 {
				continue
			}
			x := math.Max(float64(v), minGammaInput)
			dLin[i] = dOut[i] * float32(inv*math.Pow(x, inv-1))
		}
	})
	return dLin
}

// Backward propagates grads through the render that produced res.
//
// cam and g must be the same values that were passed to Forward;
// anything else fails with ErrPairingMismatch. Depth and Normal gradients
// require a result rendered with rich output.
func (r *Rasterizer) Backward(res *RenderResult, cam *Camera, g *Gaussians, grads *OutputGrads) (out *Gradients, err error) {
	defer func() {
		if err != nil {
			r.snapshot("backward", cam, g, err)
		}
	}()
	if res == nil {
		return nil, ErrNilResult
	}
	if res.deviceBlend {
		return nil, ErrInferenceOnly
	}
	if err := cam.validate(); err != nil {
		return nil, err
	}
	in, err := g.inputs(cam)
	if err != nil {
		return nil, err
	}
	if err := res.checkGrads(grads); err != nil {
		return nil, err
	}
	if fingerprintOf(cam, in) != res.fp {
		return nil, ErrPairingMismatch
	}
	return r.backward(res, cam, in, grads), nil
}

func (r *Rasterizer) backward(res *RenderResult, cam *Camera, in *project.Inputs, grads *OutputGrads) *Gradients {
	n := in.Count
	p := cam.params()

	dColor := grads.Color
	if cam.gammaActive() {
		dColor = gammaGrad(r.pool, res.img.Linear, grads.Color, cam.Gamma)
	}

	blend := &composite.GaussianGrads{
		Means2D:   make([]float32, 2*n),
		Conic:     make([]float32, 3*n),
		Opacities: make([]float32, n),
		Colors:    make([]float32, 3*n),
	}
	if grads.Depth != nil {
		blend.Depths = make([]float32, n)
	}
	if grads.Normal != nil {
		blend.Normals = make([]float32, 3*n)
	}
	composite.Backward(r.pool, res.scene(),
		&composite.Saved{FinalT: res.img.FinalT, NContrib: res.img.NContrib},
		&composite.PixelGrads{Color: dColor, Depth: grads.Depth, Normal: grads.Normal},
		blend)

	pg := &project.ParamGrads{
		Means3D:   make([]float32, 3*n),
		Cov3D:     make([]float32, 6*n),
		Scales:    make([]float32, 3*n),
		Rotations: make([]float32, 4*n),
	}
	if in.SH != nil {
		pg.SH = make([]float32, len(in.SH))
	}
	sg := &project.ScreenGrads{
		Means2D: blend.Means2D,
		Conic:   blend.Conic,
		Colors:  blend.Colors,
		Depths:  blend.Depths,
		Normals: blend.Normals,
	}
	project.Backward(r.pool, p, in, res.geo, sg, pg)

	out := &Gradients{
		Means2D:   blend.Means2D,
		Colors:    blend.Colors,
		Opacities: blend.Opacities,
		Means3D:   pg.Means3D,
		Cov3D:     pg.Cov3D,
		SH:        pg.SH,
		Scales:    pg.Scales,
		Rotations: pg.Rotations,
		Conic:     blend.Conic,
	}
	if in.SH != nil {
		// Colors were derived from SH; the color gradient went there.
		out.Colors = make([]float32, 3*n)
	}
	Logger().Debug("gsplat: backward", "gaussians", n, "rendered", res.numRendered)
	return out
}

// checkGrads validates grads against the result's image size and output
// set.
func (r *RenderResult) checkGrads(grads *OutputGrads) error {
	if grads == nil {
		return fmt.Errorf("%w: nil output gradients", ErrShapeMismatch)
	}
	plane := r.cam.Width * r.cam.Height
	if len(grads.Color) != 3*plane {
		return lengthError("color gradient", len(grads.Color), 3*plane)
	}
	if (grads.Depth != nil || grads.Normal != nil) && !r.rich {
		return ErrNotRich
	}
	if grads.Depth != nil && len(grads.Depth) != plane {
		return lengthError("depth gradient", len(grads.Depth), plane)
	}
	if grads.Normal != nil && len(grads.Normal) != 3*plane {
		return lengthError("normal gradient", len(grads.Normal), 3*plane)
	}
	return nil
}
