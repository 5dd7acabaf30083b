package gsplat

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/gogpu/gsplat/internal/project"
)

const manifestName = "snapshot.toml"

// Snapshot is the input of a failed call, as written by WithDebugSnapshot.
type Snapshot struct {
	// Stage is "forward" or "backward".
	Stage string
	// Error is the message of the error the call returned.
	Error     string
	Camera    Camera
	Gaussians Gaussians
}

type snapshotManifest struct {
	Stage   string         `toml:"stage"`
	Error   string         `toml:"error"`
	SHCount int            `toml:"sh_count"`
	Arrays  map[string]int `toml:"arrays"`
	Camera  Camera         `toml:"camera"`
}

// snapshotArrays names the raw inputs of a batch. Any of them may be nil.
func snapshotArrays(in *project.Inputs) map[string][]float32 {
	return map[string][]float32{
		"means":     in.Means,
		"opacities": in.Opacities,
		"sh":        in.SH,
		"colors":    in.Colors,
		"scales":    in.Scales,
		"rotations": in.Rotations,
		"cov":       in.Cov,
	}
}

// rawInputs collects whatever g holds, without validating it.
func rawInputs(g *Gaussians) *project.Inputs {
	in := &project.Inputs{}
	if g == nil {
		return in
	}
	in.Means, in.Opacities = g.Means, g.Opacities
	if shc, rgb, err := colorOf(g.Color); err == nil {
		if shc != nil {
			in.SH, in.SHCount = shc.Coeffs, shc.Count
		} else {
			in.Colors = rgb.Colors
		}
	}
	if sr, cov, err := shapeOf(g.Shape); err == nil {
		if sr != nil {
			in.Scales, in.Rotations = sr.Scales, sr.Rotations
		} else {
			in.Cov = cov.Cov
		}
	}
	return in
}

// snapshot writes the failing call's inputs when WithDebugSnapshot is set.
// Failures to write are logged and otherwise ignored.
func (r *Rasterizer) snapshot(stage string, cam *Camera, g *Gaussians, cause error) {
	if r.opts.snapshotDir == "" {
		return
	}
	path, err := writeSnapshot(r.opts.snapshotDir, stage, cam, g, cause)
	if err != nil {
		Logger().Warn("gsplat: debug snapshot failed", "stage", stage, "err", err)
		return
	}
	Logger().Warn("gsplat: wrote debug snapshot", "stage", stage, "path", path, "cause", cause)
}

func writeSnapshot(root, stage string, cam *Camera, g *Gaussians, cause error) (string, error) {
	var c Camera
	if cam != nil {
		c = *cam
	}
	in := rawInputs(g)
	fp := fingerprintOf(&c, in)
	dir := filepath.Join(root, stage+"-"+hex.EncodeToString(fp[:8]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	m := snapshotManifest{
		Stage:   stage,
		Error:   cause.Error(),
		SHCount: in.SHCount,
		Arrays:  map[string]int{},
		Camera:  c,
	}
	for name, data := range snapshotArrays(in) {
		if data == nil {
			continue
		}
		if err := writeFloats(filepath.Join(dir, name+".bin"), data); err != nil {
			return "", err
		}
		m.Arrays[name] = len(data)
	}

	f, err := os.Create(filepath.Join(dir, manifestName))
	if err != nil {
		return "", err
	}
	if err := toml.NewEncoder(f).Encode(&m); err != nil {
		f.Close()
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	return dir, f.Close()
}

func writeFloats(path string, data []float32) error {
	buf := make([]byte, 0, 4*len(data))
	for _, v := range data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return os.WriteFile(path, buf, 0o644)
}

func readFloats(path string, n int) ([]float32, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(buf) != 4*n {
		return nil, fmt.Errorf("%s: %d bytes, want %d", filepath.Base(path), len(buf), 4*n)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out, nil
}

// LoadSnapshot reads a snapshot directory written by WithDebugSnapshot.
// Passing the loaded camera and Gaussians to Forward reproduces the
// failure. Color and Shape are nil when the failing call had an invalid
// source.
func LoadSnapshot(dir string) (*Snapshot, error) {
	var m snapshotManifest
	if _, err := toml.DecodeFile(filepath.Join(dir, manifestName), &m); err != nil {
		return nil, fmt.Errorf("gsplat: load snapshot: %w", err)
	}
	if m.Stage == "" {
		return nil, errors.New("gsplat: load snapshot: manifest has no stage")
	}
	arrays := make(map[string][]float32, len(m.Arrays))
	for name, n := range m.Arrays {
		data, err := readFloats(filepath.Join(dir, name+".bin"), n)
		if err != nil {
			return nil, fmt.Errorf("gsplat: load snapshot: %w", err)
		}
		arrays[name] = data
	}

	s := &Snapshot{Stage: m.Stage, Error: m.Error, Camera: m.Camera}
	s.Gaussians.Means = arrays["means"]
	s.Gaussians.Opacities = arrays["opacities"]
	if c, err := NewColorSource(arrays["sh"], m.SHCount, arrays["colors"]); err == nil {
		s.Gaussians.Color = c
	}
	if shape, err := NewShapeSource(arrays["scales"], arrays["rotations"], arrays["cov"]); err == nil {
		s.Gaussians.Shape = shape
	}
	return s, nil
}
