package gsplat

import (
	"errors"
	"math"
	"testing"

	"github.com/gogpu/gsplat/internal/geom"
	"github.com/gogpu/gsplat/internal/project"
)

const (
	testW = 48
	testH = 40
)

// perspective returns a column-major projection with clip w = view z.
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

// yaw rotates the world about y; the camera stays at the origin.
func yaw(angle float64) [16]float32 {
	c, s := float32(math.Cos(angle)), float32(math.Sin(angle))
	return [16]float32{
		c, 0, -s, 0,
		0, 1, 0, 0,
		s, 0, c, 0,
		0, 0, 0, 1,
	}
}

func cameraWithView(view [16]float32) *Camera {
	const tanX, tanY = 0.5, 0.5 * testH / testW
	return &Camera{
		View:       view,
		Proj:       mul4(perspective(tanX, tanY, 0.01, 100), view),
		TanFovX:    tanX,
		TanFovY:    tanY,
		Width:      testW,
		Height:     testH,
		SHDegree:   3,
		Background: [3]float32{0.1, 0.2, 0.3},
	}
}

func testCamera() *Camera { return cameraWithView(yaw(0.05)) }

// testGaussians returns three large, overlapping Gaussians whose alpha
// stays above the contribution floor on every pixel of testCamera.
func testGaussians(t *testing.T, withCov bool) *Gaussians {
	t.Helper()
	means := []float32{-0.25, 0.1, 4, 0.05, -0.15, 4.6, -0.35, 0.05, 5.2}
	scales := []float32{1.6, 1.45, 2.0, 1.5, 2.1, 1.7, 1.9, 1.55, 1.42}
	rotations := []float32{0.95, 0.1, -0.2, 0.05, 0.9, 0, 0.3, 0.1, 1, -0.15, 0.05, 0.2}
	g := &Gaussians{
		Means:     means,
		Opacities: []float32{0.5, 0.6, 0.45},
	}
	if withCov {
		cov := make([]float32, 18)
		for i := range 3 {
			c := project.Cov3D(geom.V3At(scales, i), 1, geom.QuatAt(rotations, i))
			copy(cov[6*i:], c[:])
		}
		g.Shape = Covariance{Cov: cov}
		g.Color = RGBColor{Colors: []float32{0.9, 0.2, 0.3, 0.2, 0.8, 0.4, 0.3, 0.3, 0.9}}
		return g
	}
	g.Shape = ScaleRotation{Scales: scales, Rotations: rotations}
	coeffs := make([]float32, 3*16*3)
	for i := range coeffs {
		coeffs[i] = 0.04 * float32(math.Sin(1.7*float64(i)))
	}
	for i := range 3 {
		for ch := range 3 {
			coeffs[i*48+ch] = 0.6 + 0.2*float32(ch) - 0.15*float32(i)
		}
	}
	g.Color = SHColor{Coeffs: coeffs, Count: 16}
	return g
}

func assertClose(t *testing.T, name string, got, want []float32, tol float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: len %d, want %d", name, len(got), len(want))
	}
	for i := range got {
		if d := got[i] - want[i]; d > tol || d < -tol {
			t.Fatalf("%s[%d] = %v, want %v", name, i, got[i], want[i])
		}
	}
}

// lossWeights returns fixed pseudo-random output gradients.
func lossWeights(rich bool) *OutputGrads {
	plane := testW * testH
	w := &OutputGrads{Color: make([]float32, 3*plane)}
	for i := range w.Color {
		w.Color[i] = float32(math.Sin(0.37*float64(i) + 0.2))
	}
	if rich {
		w.Depth = make([]float32, plane)
		w.Normal = make([]float32, 3*plane)
		for i := range w.Depth {
			w.Depth[i] = 0.05 * float32(math.Cos(0.53*float64(i)))
		}
		for i := range w.Normal {
			w.Normal[i] = 0.3 * float32(math.Sin(0.71*float64(i)+1))
		}
	}
	return w
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range min(len(a), len(b)) {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func renderLoss(t *testing.T, r *Rasterizer, cam *Camera, g *Gaussians, w *OutputGrads) float64 {
	t.Helper()
	res, err := r.Forward(cam, g)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	return dot(res.Color(), w.Color) + dot(res.Depth(), w.Depth) + dot(res.Normal(), w.Normal)
}

type gradParam struct {
	name  string
	input func(g *Gaussians) []float32
	grad  func(gr *Gradients) []float32
	index []int // nil checks every entry
}

// checkGradients compares Backward with central differences of the
// rendered loss for every listed parameter.
func checkGradients(t *testing.T, cam *Camera, g *Gaussians, params []gradParam) {
	t.Helper()
	r := New(WithWorkers(4), WithoutAccelerator())
	defer r.Close()

	w := lossWeights(cam.RichOutput)
	res, err := r.Forward(cam, g)
	if err != nil {
		t.Fatal(err)
	}
	grads, err := r.Backward(res, cam, g, w)
	if err != nil {
		t.Fatal(err)
	}

	const h = 1e-3
	for _, p := range params {
		in := p.input(g)
		analytic := p.grad(grads)
		if len(analytic) != len(in) {
			t.Fatalf("%s: gradient len %d, want %d", p.name, len(analytic), len(in))
		}
		idx := p.index
		if idx == nil {
			idx = make([]int, len(in))
			for i := range idx {
				idx[i] = i
			}
		}
		for _, i := range idx {
			orig := in[i]
			in[i] = orig + h
			lp := renderLoss(t, r, cam, g, w)
			in[i] = orig - h
			lm := renderLoss(t, r, cam, g, w)
			in[i] = orig

			fd := (lp - lm) / (2 * h)
			an := float64(analytic[i])
			if math.Abs(fd-an) > 0.03+0.05*math.Max(math.Abs(fd), math.Abs(an)) {
				t.Errorf("%s[%d]: analytic %.5f, finite difference %.5f", p.name, i, an, fd)
			}
		}
	}
}

var (
	meansParam = gradParam{"means", func(g *Gaussians) []float32 { return g.Means },
		func(gr *Gradients) []float32 { return gr.Means3D }, nil}
	opacityParam = gradParam{"opacities", func(g *Gaussians) []float32 { return g.Opacities },
		func(gr *Gradients) []float32 { return gr.Opacities }, nil}
	scaleParam = gradParam{"scales", func(g *Gaussians) []float32 { return g.Shape.(ScaleRotation).Scales },
		func(gr *Gradients) []float32 { return gr.Scales }, nil}
	rotationParam = gradParam{"rotations", func(g *Gaussians) []float32 { return g.Shape.(ScaleRotation).Rotations },
		func(gr *Gradients) []float32 { return gr.Rotations }, nil}
	shParam = gradParam{"sh", func(g *Gaussians) []float32 { return g.Color.(SHColor).Coeffs },
		func(gr *Gradients) []float32 { return gr.SH }, []int{0, 1, 2, 4, 13, 47, 48, 77, 100, 143}}
	covParam = gradParam{"cov", func(g *Gaussians) []float32 { return g.Shape.(Covariance).Cov },
		func(gr *Gradients) []float32 { return gr.Cov3D }, nil}
	colorParam = gradParam{"colors", func(g *Gaussians) []float32 { return g.Color.(RGBColor).Colors },
		func(gr *Gradients) []float32 { return gr.Colors }, nil}
)

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	tests := []struct {
		name    string
		withCov bool
		rich    bool
		gamma   float32
		params  []gradParam
	}{
		{"scale rotation SH", false, false, 0, []gradParam{meansParam, opacityParam, scaleParam, rotationParam, shParam}},
		{"scale rotation SH rich", false, true, 0, []gradParam{meansParam, scaleParam, rotationParam, shParam}},
		{"covariance RGB", true, false, 0, []gradParam{meansParam, opacityParam, covParam, colorParam}},
		{"covariance RGB rich", true, true, 0, []gradParam{meansParam, covParam}},
		{"gamma", true, false, 2.2, []gradParam{opacityParam, colorParam, meansParam}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := testCamera()
			cam.RichOutput = tt.rich
			cam.Gamma = tt.gamma
			checkGradients(t, cam, testGaussians(t, tt.withCov), tt.params)
		})
	}
}

func TestGradientsUnusedAlternativesZero(t *testing.T) {
	r := New(WithoutAccelerator())
	defer r.Close()
	cam := testCamera()

	t.Run("covariance RGB", func(t *testing.T) {
		g := testGaussians(t, true)
		res, err := r.Forward(cam, g)
		if err != nil {
			t.Fatal(err)
		}
		gr, err := r.Backward(res, cam, g, lossWeights(false))
		if err != nil {
			t.Fatal(err)
		}
		if gr.SH != nil {
			t.Errorf("SH gradient has %d values, want none", len(gr.SH))
		}
		assertClose(t, "scales", gr.Scales, make([]float32, 9), 0)
		assertClose(t, "rotations", gr.Rotations, make([]float32, 12), 0)
		if len(gr.Means2D) != 6 || len(gr.Cov3D) != 18 {
			t.Errorf("lengths: means2D %d, cov %d", len(gr.Means2D), len(gr.Cov3D))
		}
	})
	t.Run("scale rotation SH", func(t *testing.T) {
		g := testGaussians(t, false)
		res, err := r.Forward(cam, g)
		if err != nil {
			t.Fatal(err)
		}
		gr, err := r.Backward(res, cam, g, lossWeights(false))
		if err != nil {
			t.Fatal(err)
		}
		assertClose(t, "colors", gr.Colors, make([]float32, 9), 0)
		assertClose(t, "cov", gr.Cov3D, make([]float32, 18), 0)
		if len(gr.SH) != 144 {
			t.Errorf("SH gradient has %d values, want 144", len(gr.SH))
		}
	})
}

func TestForwardConservation(t *testing.T) {
	r := New(WithoutAccelerator())
	defer r.Close()

	t.Run("empty batch shows background", func(t *testing.T) {
		cam := testCamera()
		g := &Gaussians{Color: RGBColor{}, Shape: Covariance{}}
		res, err := r.Forward(cam, g)
		if err != nil {
			t.Fatal(err)
		}
		if res.NumRendered() != 0 {
			t.Errorf("NumRendered = %d, want 0", res.NumRendered())
		}
		plane := testW * testH
		for ch := range 3 {
			for pix := range plane {
				if got := res.Color()[ch*plane+pix]; got != cam.Background[ch] {
					t.Fatalf("channel %d pixel %d = %v, want background %v", ch, pix, got, cam.Background[ch])
				}
			}
		}
		for pix, tr := range res.Transmittance() {
			if tr != 1 {
				t.Fatalf("transmittance[%d] = %v, want 1", pix, tr)
			}
		}
	})

	t.Run("color equal to background", func(t *testing.T) {
		cam := testCamera()
		cam.Background = [3]float32{0.3, 0.5, 0.7}
		g := &Gaussians{
			Means:     []float32{0, 0, 4},
			Opacities: []float32{0.95},
			Color:     RGBColor{Colors: []float32{0.3, 0.5, 0.7}},
			Shape:     ScaleRotation{Scales: []float32{0.5, 0.5, 0.5}, Rotations: []float32{1, 0, 0, 0}},
		}
		res, err := r.Forward(cam, g)
		if err != nil {
			t.Fatal(err)
		}
		plane := testW * testH
		for ch := range 3 {
			for pix := range plane {
				got := res.Color()[ch*plane+pix]
				if d := got - cam.Background[ch]; d > 1e-5 || d < -1e-5 {
					t.Fatalf("channel %d pixel %d = %v, want %v", ch, pix, got, cam.Background[ch])
				}
			}
		}
	})
}

func TestForwardDepthOrdering(t *testing.T) {
	r := New(WithoutAccelerator())
	defer r.Close()
	cam := cameraWithView(yaw(0))
	cam.Background = [3]float32{}

	// Far blue first, near red second: submission order must not matter.
	g := &Gaussians{
		Means:     []float32{0, 0, 6, 0, 0, 3},
		Opacities: []float32{0.9, 0.9},
		Color:     RGBColor{Colors: []float32{0, 0, 1, 1, 0, 0}},
		Shape: ScaleRotation{
			Scales:    []float32{0.3, 0.3, 0.3, 0.3, 0.3, 0.3},
			Rotations: []float32{1, 0, 0, 0, 1, 0, 0, 0},
		},
	}
	res, err := r.Forward(cam, g)
	if err != nil {
		t.Fatal(err)
	}
	plane := testW * testH
	pix := (testH/2)*testW + testW/2
	red, blue := res.Color()[pix], res.Color()[2*plane+pix]
	if red < 0.8 || blue > 0.15 {
		t.Errorf("center pixel (r=%v, b=%v): near red Gaussian should dominate", red, blue)
	}
}

func TestForwardRichOutput(t *testing.T) {
	r := New(WithoutAccelerator())
	defer r.Close()
	cam := testCamera()
	g := testGaussians(t, false)

	plain, err := r.Forward(cam, g)
	if err != nil {
		t.Fatal(err)
	}
	if plain.Depth() != nil || plain.Normal() != nil || plain.ContribSum() != nil || plain.ContribMax() != nil {
		t.Error("rich outputs present without RichOutput")
	}

	cam.RichOutput = true
	rich, err := r.Forward(cam, g)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "color", rich.Color(), plain.Color(), 1e-6)

	plane := testW * testH
	if len(rich.Depth()) != plane || len(rich.Normal()) != 3*plane {
		t.Fatalf("depth %d, normal %d values", len(rich.Depth()), len(rich.Normal()))
	}
	// Every pixel is covered; the expected depth lies between the nearest
	// and farthest mean scaled by the accumulated weight.
	for pix, d := range rich.Depth() {
		if w := 1 - rich.Transmittance()[pix]; d < 3.9*w || d > 5.3*w {
			t.Fatalf("depth[%d] = %v with weight %v", pix, d, w)
		}
	}
	for i := range 3 {
		sum, mx := rich.ContribSum()[i], rich.ContribMax()[i]
		if !(mx > 0) || mx > 1 || sum < mx {
			t.Errorf("Gaussian %d: contribution sum %v, max %v", i, sum, mx)
		}
	}
}

func TestForwardGamma(t *testing.T) {
	r := New(WithoutAccelerator())
	defer r.Close()
	cam := testCamera()
	g := testGaussians(t, true)

	linear, err := r.Forward(cam, g)
	if err != nil {
		t.Fatal(err)
	}
	cam.Gamma = 2.2
	corrected, err := r.Forward(cam, g)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]float32, len(linear.Color()))
	for i, v := range linear.Color() {
		want[i] = float32(math.Pow(float64(v), 1/2.2))
	}
	assertClose(t, "gamma color", corrected.Color(), want, 1e-5)

	cam.Gamma = 1
	identity, err := r.Forward(cam, g)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "gamma 1", identity.Color(), linear.Color(), 0)
}

func TestMarkVisibleAndRadii(t *testing.T) {
	r := New(WithoutAccelerator())
	defer r.Close()
	cam := testCamera()

	means := []float32{
		0, 0, 4, // visible
		0, 0, -3, // behind
		0, 0, 0.1, // before the near plane
		0.1, 0, 0.5, // just past it
	}
	visible, err := r.MarkVisible(cam, means)
	if err != nil {
		t.Fatal(err)
	}
	want := []bool{true, false, false, true}
	for i := range want {
		if visible[i] != want[i] {
			t.Errorf("visible[%d] = %v, want %v", i, visible[i], want[i])
		}
	}

	shape := ScaleRotation{
		Scales:    []float32{0.2, 0.2, 0.2, 0.2, 0.2, 0.2, 0.2, 0.2, 0.2, 0.01, 0.01, 0.01},
		Rotations: []float32{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0},
	}
	radii, err := r.Radii(cam, means, shape)
	if err != nil {
		t.Fatal(err)
	}
	g := &Gaussians{
		Means:     means,
		Opacities: []float32{0.5, 0.5, 0.5, 0.5},
		Color:     RGBColor{Colors: make([]float32, 12)},
		Shape:     shape,
	}
	res, err := r.Forward(cam, g)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range visible {
		if got := res.Radii()[i]; got != radii[i] {
			t.Errorf("Radii()[%d] = %d, Forward radius %d", i, radii[i], got)
		}
		if v != (radii[i] > 0) {
			t.Errorf("Gaussian %d: visible %v, radius %d", i, v, radii[i])
		}
	}

	cam.GuardBand = 1.3
	visible, err = r.MarkVisible(cam, []float32{10, 0, 4})
	if err != nil {
		t.Fatal(err)
	}
	if visible[0] {
		t.Error("point far outside the guard band reported visible")
	}
}

func TestForwardPrefilterViolation(t *testing.T) {
	r := New(WithoutAccelerator())
	defer r.Close()
	cam := testCamera()
	cam.Prefiltered = true
	g := testGaussians(t, false)
	if _, err := r.Forward(cam, g); err != nil {
		t.Fatalf("all Gaussians visible: %v", err)
	}
	g.Means[5] = 0.05
	if _, err := r.Forward(cam, g); !errors.Is(err, ErrPrefilterViolation) {
		t.Errorf("Forward() = %v, want ErrPrefilterViolation", err)
	}
}

func TestRadiiPrefilterViolation(t *testing.T) {
	r := New(WithoutAccelerator())
	defer r.Close()
	cam := testCamera()
	cam.Prefiltered = true
	g := testGaussians(t, false)

	radii, err := r.Radii(cam, g.Means, g.Shape)
	if err != nil {
		t.Fatalf("all Gaussians visible: %v", err)
	}
	if len(radii) != g.Len() {
		t.Fatalf("len(radii) = %d, want %d", len(radii), g.Len())
	}

	g.Means[5] = 0.05
	if _, err := r.Radii(cam, g.Means, g.Shape); !errors.Is(err, ErrPrefilterViolation) {
		t.Errorf("Radii() = %v, want ErrPrefilterViolation", err)
	}
	cam.Prefiltered = false
	if _, err := r.Radii(cam, g.Means, g.Shape); err != nil {
		t.Errorf("Radii() without the promise = %v", err)
	}
}

func TestRenderResultImage(t *testing.T) {
	r := New(WithoutAccelerator())
	defer r.Close()
	cam := testCamera()
	res, err := r.Forward(cam, &Gaussians{Color: RGBColor{}, Shape: Covariance{}})
	if err != nil {
		t.Fatal(err)
	}
	img := res.Image()
	if b := img.Bounds(); b.Dx() != testW || b.Dy() != testH {
		t.Fatalf("bounds %v", b)
	}
	c := img.NRGBAAt(5, 7)
	if c.R != 26 || c.G != 51 || c.B != 77 || c.A != 255 {
		t.Errorf("pixel = %+v, want background (26, 51, 77)", c)
	}
}

func BenchmarkForward(b *testing.B) {
	r := New(WithoutAccelerator())
	defer r.Close()
	cam := testCamera()
	g := benchGaussians(2000)
	b.ReportAllocs()
	for b.Loop() {
		if _, err := r.Forward(cam, g); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBackward(b *testing.B) {
	r := New(WithoutAccelerator())
	defer r.Close()
	cam := testCamera()
	g := benchGaussians(2000)
	res, err := r.Forward(cam, g)
	if err != nil {
		b.Fatal(err)
	}
	w := &OutputGrads{Color: make([]float32, 3*testW*testH)}
	for i := range w.Color {
		w.Color[i] = 1
	}
	b.ReportAllocs()
	for b.Loop() {
		if _, err := r.Backward(res, cam, g, w); err != nil {
			b.Fatal(err)
		}
	}
}

func benchGaussians(n int) *Gaussians {
	g := &Gaussians{
		Means:     make([]float32, 3*n),
		Opacities: make([]float32, n),
	}
	scales := make([]float32, 3*n)
	rotations := make([]float32, 4*n)
	colors := make([]float32, 3*n)
	for i := range n {
		f := float64(i)
		g.Means[3*i] = float32(math.Sin(f * 1.1))
		g.Means[3*i+1] = float32(math.Cos(f*0.7)) * 0.8
		g.Means[3*i+2] = 3 + 2*float32(math.Abs(math.Sin(f*0.3)))
		g.Opacities[i] = 0.3 + 0.5*float32(math.Abs(math.Sin(f)))
		for k := range 3 {
			scales[3*i+k] = 0.03 + 0.05*float32(math.Abs(math.Sin(f+float64(k))))
			colors[3*i+k] = float32(math.Abs(math.Cos(f + float64(k))))
		}
		rotations[4*i] = 1
		rotations[4*i+1] = float32(math.Sin(f)) * 0.3
	}
	g.Color = RGBColor{Colors: colors}
	g.Shape = ScaleRotation{Scales: scales, Rotations: rotations}
	return g
}
