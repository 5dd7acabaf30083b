package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// writeImage encodes img by file extension: .png, or .tif/.tiff
// (deflate-compressed).
func writeImage(path string, img image.Image) (err error) {
	var encode func(f *os.File) error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		encode = func(f *os.File) error { return png.Encode(f, img) }
	case ".tif", ".tiff":
		encode = func(f *os.File) error {
			return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
		}
	default:
		return fmt.Errorf("unsupported output format %q", ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return encode(f)
}

func to16(v float32) uint16 {
	switch {
	case !(v > 0):
		return 0
	case v >= 1:
		return 0xffff
	}
	return uint16(v*0xffff + 0.5)
}

// color16 converts a planar 3×H×W color image to 16 bits per channel.
func color16(planar []float32, w, h int) *image.RGBA64 {
	img := image.NewRGBA64(image.Rect(0, 0, w, h))
	plane := w * h
	for y := range h {
		for x := range w {
			i := y*w + x
			img.SetRGBA64(x, y, color.RGBA64{
				R: to16(planar[i]),
				G: to16(planar[plane+i]),
				B: to16(planar[2*plane+i]),
				A: 0xffff,
			})
		}
	}
	return img
}

// depth16 maps an H×W depth image to 16-bit gray, scaled so the farthest
// pixel is white. Pixels without coverage stay black.
func depth16(depth []float32, w, h int) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	var far float32
	for _, d := range depth {
		far = max(far, d)
	}
	if far == 0 {
		return img
	}
	for y := range h {
		for x := range w {
			img.SetGray16(x, y, color.Gray16{Y: to16(depth[y*w+x] / far)})
		}
	}
	return img
}
