package buffers

import (
	"errors"
	"testing"
	"unsafe"
)

func TestGeometryCarving(t *testing.T) {
	tests := []struct {
		name string
		n    int
		rich bool
	}{
		{"single", 1, false},
		{"odd count", 37, false},
		{"rich", 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := GeometrySize(tt.n, tt.rich)
			chunk := make([]byte, size)
			g := NewGeometry(chunk, tt.n, tt.rich)

			if len(g.Means2D) != 2*tt.n || len(g.Cov3D) != 6*tt.n || len(g.ConicOpacity) != 4*tt.n {
				t.Fatalf("wrong lengths: means2D %d cov %d conic %d", len(g.Means2D), len(g.Cov3D), len(g.ConicOpacity))
			}
			if tt.rich != (g.Normals != nil) {
				t.Errorf("Normals present = %v, want %v", g.Normals != nil, tt.rich)
			}
			for _, p := range []unsafe.Pointer{
				unsafe.Pointer(&g.Depths[0]),
				unsafe.Pointer(&g.Radii[0]),
				unsafe.Pointer(&g.ScanSum[0]),
			} {
				if uintptr(p)%alignment != 0 {
					t.Errorf("array at %p not %d-byte aligned", p, alignment)
				}
			}

			// Writing every array end to end must not clobber a neighbour.
			for i := range g.Depths {
				g.Depths[i] = 1
			}
			for i := range g.Radii {
				g.Radii[i] = -1
			}
			for i := range g.ScanSum {
				g.ScanSum[i] = 7
			}
			for i := range g.Depths {
				if g.Depths[i] != 1 {
					t.Fatalf("Depths[%d] clobbered", i)
				}
			}
		})
	}
}

func TestCarvingMisalignedChunk(t *testing.T) {
	const n = 10
	size := BinningSize(n)
	backing := make([]byte, size+3)
	b := NewBinning(backing[3:], n)
	if uintptr(unsafe.Pointer(&b.Keys[0]))%alignment != 0 {
		t.Error("keys not aligned on an offset chunk")
	}
	b.PointList[n-1] = 42
	if b.PointList[n-1] != 42 {
		t.Error("last element unreachable")
	}
}

func TestImageLinearOptional(t *testing.T) {
	im := NewImage(make([]byte, ImageSize(20, 10, 2, false)), 20, 10, 2, false)
	if im.Linear != nil {
		t.Error("Linear allocated without gamma")
	}
	if len(im.Ranges) != 4 || len(im.FinalT) != 200 {
		t.Errorf("ranges %d, finalT %d", len(im.Ranges), len(im.FinalT))
	}
	im = NewImage(make([]byte, ImageSize(20, 10, 2, true)), 20, 10, 2, true)
	if len(im.Linear) != 600 {
		t.Errorf("Linear length %d, want 600", len(im.Linear))
	}
}

func TestBudgetAllocator(t *testing.T) {
	alloc := BudgetAllocator(1024)

	if _, err := Obtain(alloc, 1024); err != nil {
		t.Fatalf("within budget: %v", err)
	}
	_, err := Obtain(alloc, 1025)
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("over budget: err = %v, want ErrAllocation", err)
	}
}

func TestObtainWrapsForeignErrors(t *testing.T) {
	boom := errors.New("device lost")
	_, err := Obtain(func(int) ([]byte, error) { return nil, boom }, 16)
	if !errors.Is(err, ErrAllocation) || !errors.Is(err, boom) {
		t.Errorf("err = %v, want both ErrAllocation and cause", err)
	}

	_, err = Obtain(func(int) ([]byte, error) { return make([]byte, 8), nil }, 16)
	if !errors.Is(err, ErrAllocation) {
		t.Errorf("short chunk: err = %v, want ErrAllocation", err)
	}
}

func TestZeroCountStates(t *testing.T) {
	if s := BinningSize(0); s != 0 {
		t.Errorf("BinningSize(0) = %d, want 0", s)
	}
	b := NewBinning(nil, 0)
	if b.Keys != nil || b.Count != 0 {
		t.Error("empty binning should carve nothing")
	}
}
