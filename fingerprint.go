package gsplat

import (
	"encoding/binary"
	"hash"
	"math"

	"golang.org/x/crypto/blake2b"

	"github.com/gogpu/gsplat/internal/project"
)

// fingerprint identifies the inputs of a forward call. Backward recomputes
// it to prove it was handed the same camera and Gaussians.
type fingerprint [blake2b.Size256]byte

type hasher struct {
	h   hash.Hash
	buf [4096]byte
	n   int
}

func (w *hasher) u32(v uint32) {
	if w.n+4 > len(w.buf) {
		w.flush()
	}
	binary.LittleEndian.PutUint32(w.buf[w.n:], v)
	w.n += 4
}

func (w *hasher) floats(tag uint32, s []float32) {
	w.u32(tag)
	w.u32(uint32(len(s)))
	for _, v := range s {
		w.u32(math.Float32bits(v))
	}
}

func (w *hasher) flush() {
	w.h.Write(w.buf[:w.n])
	w.n = 0
}

// fingerprintOf hashes everything Backward depends on. Image size is part
// of the camera, so buffers of a different resolution never pair.
func fingerprintOf(cam *Camera, in *project.Inputs) fingerprint {
	h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes
	w := &hasher{h: h}

	w.floats(1, cam.View[:])
	w.floats(2, cam.Proj[:])
	w.floats(3, []float32{cam.TanFovX, cam.TanFovY, cam.ScaleModifier, cam.Gamma, cam.NearPlane, cam.GuardBand})
	w.floats(4, cam.Position[:])
	w.floats(5, cam.Background[:])
	w.u32(uint32(cam.Width))
	w.u32(uint32(cam.Height))
	w.u32(uint32(cam.SHDegree))
	var flags uint32
	if cam.Prefiltered {
		flags |= 1
	}
	if cam.RichOutput {
		flags |= 2
	}
	w.u32(flags)

	w.floats(10, in.Means)
	w.floats(11, in.Opacities)
	w.floats(12, in.SH)
	w.u32(uint32(in.SHCount))
	w.floats(13, in.Colors)
	w.floats(14, in.Scales)
	w.floats(15, in.Rotations)
	w.floats(16, in.Cov)
	w.flush()

	var fp fingerprint
	h.Sum(fp[:0])
	return fp
}
