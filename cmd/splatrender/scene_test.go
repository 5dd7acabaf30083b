package main

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/gsplat"
)

// testScene mirrors the overlapping-Gaussian fixture of the gsplat tests,
// seen through an identity view.
const testScene = `
[camera]
width = 48
height = 40
fov_y = 45.2397
background = [0.1, 0.2, 0.3]

[[gaussian]]
mean = [-0.25, 0.1, 4]
opacity = 0.5
scale = [1.6, 1.45, 2.0]
rotation = [0.95, 0.1, -0.2, 0.05]
color = [0.9, 0.2, 0.1]

[[gaussian]]
mean = [0.05, -0.15, 4.6]
opacity = 0.6
scale = [1.5, 2.1, 1.7]
rotation = [0.9, 0, 0.3, 0.1]
color = [0.1, 0.8, 0.3]

[[gaussian]]
mean = [-0.35, 0.05, 5.2]
opacity = 0.45
scale = [1.9, 1.55, 1.42]
rotation = [1, -0.15, 0.05, 0.2]
color = [0.2, 0.3, 0.9]
`

func writeScene(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scene.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadScene(t *testing.T) {
	cam, g, err := loadScene(writeScene(t, testScene))
	if err != nil {
		t.Fatal(err)
	}
	if cam.Width != 48 || cam.Height != 40 {
		t.Errorf("size = %dx%d", cam.Width, cam.Height)
	}
	if math.Abs(float64(cam.TanFovX)-0.5) > 1e-4 {
		t.Errorf("TanFovX = %v, want 0.5", cam.TanFovX)
	}
	if g.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", g.Len())
	}
	if _, ok := g.Color.(gsplat.RGBColor); !ok {
		t.Errorf("color = %T, want RGBColor", g.Color)
	}
	sr, ok := g.Shape.(gsplat.ScaleRotation)
	if !ok || len(sr.Rotations) != 12 {
		t.Errorf("shape = %#v", g.Shape)
	}
}

func TestLoadSceneErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "[camera]\nwidth = 4\nheight = 4\nzoom = 2\n"},
		{"no size", "[camera]\nfov_y = 40\n"},
		{"bad fov", "[camera]\nwidth = 4\nheight = 4\nfov_y = 190\n"},
		{"up along view", "[camera]\nwidth = 4\nheight = 4\nup = [0, 0, 1]\n"},
		{"no color", "[camera]\nwidth = 4\nheight = 4\n[[gaussian]]\nscale = [1, 1, 1]\n"},
		{"no shape", "[camera]\nwidth = 4\nheight = 4\n[[gaussian]]\ncolor = [1, 1, 1]\n"},
		{"mixed color", "[camera]\nwidth = 4\nheight = 4\n" +
			"[[gaussian]]\ncolor = [1, 1, 1]\nscale = [1, 1, 1]\n" +
			"[[gaussian]]\nsh = [1, 1, 1]\nscale = [1, 1, 1]\n"},
		{"mixed shape", "[camera]\nwidth = 4\nheight = 4\n" +
			"[[gaussian]]\ncolor = [1, 1, 1]\nscale = [1, 1, 1]\n" +
			"[[gaussian]]\ncolor = [1, 1, 1]\ncov = [1, 0, 0, 1, 0, 1]\n"},
		{"ragged SH", "[camera]\nwidth = 4\nheight = 4\n" +
			"[[gaussian]]\nsh = [1, 1, 1]\nscale = [1, 1, 1]\n" +
			"[[gaussian]]\nsh = [1, 1, 1, 0, 0, 0]\nscale = [1, 1, 1]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := loadScene(writeScene(t, tt.body)); !errors.Is(err, errScene) {
				t.Errorf("loadScene() = %v, want errScene", err)
			}
		})
	}
}

func TestLookAt(t *testing.T) {
	eye := [3]float32{1, 2, -3}
	view, err := lookAt(eye, [3]float32{1, 2, 0}, [3]float32{0, -1, 0})
	if err != nil {
		t.Fatal(err)
	}
	// Eye maps to the origin, the target straight ahead.
	apply := func(p [3]float32) [3]float32 {
		var out [3]float32
		for r := range 3 {
			out[r] = view[r]*p[0] + view[4+r]*p[1] + view[8+r]*p[2] + view[12+r]
		}
		return out
	}
	if got := apply(eye); dot(got, got) > 1e-10 {
		t.Errorf("eye -> %v, want origin", got)
	}
	if got := apply([3]float32{1, 2, 0}); math.Abs(float64(got[2])-3) > 1e-6 || got[0] != 0 || got[1] != 0 {
		t.Errorf("target -> %v, want (0, 0, 3)", got)
	}
	// World up is image up, i.e. camera -y.
	if got := apply([3]float32{1, 1, -3}); got[1] >= 0 {
		t.Errorf("eye+up -> %v, want negative camera y", got)
	}
}

func TestRenderScene(t *testing.T) {
	cam, g, err := loadScene(writeScene(t, testScene))
	if err != nil {
		t.Fatal(err)
	}
	cam.RichOutput = true
	r := gsplat.New(gsplat.WithoutAccelerator())
	defer r.Close()
	res, err := r.Forward(cam, g)
	if err != nil {
		t.Fatal(err)
	}
	if res.NumRendered() == 0 {
		t.Fatal("nothing rendered")
	}

	dir := t.TempDir()
	for _, name := range []string{"color.png", "color.tiff"} {
		if err := writeImage(filepath.Join(dir, name), colorImage(res, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if err := writeImage(filepath.Join(dir, "depth.tif"), depth16(res.Depth(), res.Width(), res.Height())); err != nil {
		t.Errorf("depth: %v", err)
	}
	if err := writeImage(filepath.Join(dir, "color.jpg"), res.Image()); err == nil {
		t.Error("unsupported extension accepted")
	}
	if _, err := os.Stat(filepath.Join(dir, "color.jpg")); !os.IsNotExist(err) {
		t.Error("file created for an unsupported extension")
	}
}
