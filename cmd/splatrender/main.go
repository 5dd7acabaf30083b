// Command splatrender renders a Gaussian splatting scene described in TOML.
//
//	splatrender -scene scene.toml -output render.png
//	splatrender -scene scene.toml -output color.tiff -depth depth.tiff
//	splatrender -scene scene.toml -gradcheck 20
package main

import (
	"flag"
	"image"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/gsplat"
	_ "github.com/gogpu/gsplat/gpu" // enable GPU acceleration
)

func main() {
	var (
		scenePath = flag.String("scene", "scene.toml", "scene file")
		output    = flag.String("output", "render.png", "color output (.png, .tif, .tiff)")
		depthOut  = flag.String("depth", "", "optional 16-bit depth output (.tif, .tiff, .png)")
		workers   = flag.Int("workers", 0, "worker goroutines (0 = GOMAXPROCS)")
		cpuOnly   = flag.Bool("cpu", false, "disable the GPU accelerator")
		snapshot  = flag.String("snapshot", "", "directory for input snapshots on failure")
		gradcheck = flag.Int("gradcheck", 0, "finite-difference check of N mean and N opacity gradients")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	gsplat.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cam, g, err := loadScene(*scenePath)
	if err != nil {
		log.Fatalf("Failed to load scene: %v", err)
	}
	if *depthOut != "" {
		cam.RichOutput = true
	}

	opts := []gsplat.Option{gsplat.WithWorkers(*workers)}
	if *cpuOnly {
		opts = append(opts, gsplat.WithoutAccelerator())
	}
	if *snapshot != "" {
		opts = append(opts, gsplat.WithDebugSnapshot(*snapshot))
	}
	if *gradcheck == 0 {
		opts = append(opts, gsplat.WithInferenceOnly())
	}
	r := gsplat.New(opts...)
	defer r.Close()

	if *gradcheck > 0 {
		rep, err := gradCheck(r, cam, g, *gradcheck, 1)
		if err != nil {
			log.Fatalf("Gradient check failed: %v", err)
		}
		log.Printf("Gradient check: %v\n", rep)
		if rep.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	res, err := r.Forward(cam, g)
	if err != nil {
		log.Fatalf("Failed to render: %v", err)
	}
	if err := writeImage(*output, colorImage(res, *output)); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}
	if *depthOut != "" {
		if err := writeImage(*depthOut, depth16(res.Depth(), res.Width(), res.Height())); err != nil {
			log.Fatalf("Failed to save depth: %v", err)
		}
	}

	log.Printf("Rendered %d Gaussians (%d tile entries) to %s (%dx%d)\n",
		g.Len(), res.NumRendered(), *output, res.Width(), res.Height())
}

// colorImage returns 8-bit color for PNG output and 16-bit otherwise.
func colorImage(res *gsplat.RenderResult, path string) image.Image {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return res.Image()
	}
	return color16(res.Color(), res.Width(), res.Height())
}
