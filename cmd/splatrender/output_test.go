package main

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"
)

func TestTo16(t *testing.T) {
	tests := []struct {
		in   float32
		want uint16
	}{
		{-1, 0},
		{0, 0},
		{0.5, 32768},
		{1, 0xffff},
		{3, 0xffff},
		{float32(nanValue()), 0},
	}
	for _, tt := range tests {
		if got := to16(tt.in); got != tt.want {
			t.Errorf("to16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func TestDepthTIFFRoundTrip(t *testing.T) {
	depth := []float32{0, 1, 2, 4}
	path := filepath.Join(t.TempDir(), "depth.tiff")
	if err := writeImage(path, depth16(depth, 2, 2)); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	gray, ok := img.(*image.Gray16)
	if !ok {
		t.Fatalf("decoded %T, want *image.Gray16", img)
	}
	want := []uint16{0, 16384, 32768, 0xffff}
	for i, w := range want {
		if got := gray.Gray16At(i%2, i/2).Y; got != w {
			t.Errorf("pixel %d = %d, want %d", i, got, w)
		}
	}
}

func TestColor16(t *testing.T) {
	planar := []float32{
		1, 0, // R
		0, 0.5, // G
		0, 2, // B
	}
	img := color16(planar, 2, 1)
	if c := img.RGBA64At(0, 0); c.R != 0xffff || c.G != 0 || c.B != 0 || c.A != 0xffff {
		t.Errorf("pixel 0 = %+v", c)
	}
	if c := img.RGBA64At(1, 0); c.R != 0 || c.G != 32768 || c.B != 0xffff {
		t.Errorf("pixel 1 = %+v", c)
	}
}
