// Package gsplat provides a differentiable rasterizer for 3D Gaussian
// splats.
//
// # Overview
//
// A scene is a batch of anisotropic 3D Gaussians, each with a mean, an
// opacity, a color (spherical harmonics or plain RGB) and a shape (scale
// and rotation, or an explicit covariance). Forward projects the batch
// through a pinhole camera, bins the splats into 16×16 pixel tiles, sorts
// every tile front to back and alpha-blends it. Backward replays the
// blend in reverse and returns the gradient of a scalar loss with respect
// to every input.
//
// # Quick Start
//
//	r := gsplat.New()
//	defer r.Close()
//
//	g := &gsplat.Gaussians{
//	    Means:     means,     // N×3
//	    Opacities: opacities, // N
//	    Color:     gsplat.SHColor{Coeffs: sh, Count: 16},
//	    Shape:     gsplat.ScaleRotation{Scales: scales, Rotations: quats},
//	}
//	res, err := r.Forward(cam, g)
//	if err != nil {
//	    return err
//	}
//	grads, err := r.Backward(res, cam, g, &gsplat.OutputGrads{Color: dLoss})
//
// # Pipeline
//
// The forward pass runs these stages, each parallel over Gaussians,
// pairs or tiles:
//   - Preprocess: 3D covariance, frustum test, 2D covariance, conic,
//     screen radius and tile rectangle.
//   - Shade: SH evaluation toward the camera, with clamp flags.
//   - Binning: prefix scan of tile counts, one (tile, depth) key per
//     pair, stable radix sort, per-tile ranges.
//   - Composite: front-to-back blending with early termination.
//
// Backward reuses the sorted lists and per-pixel transmittance saved in
// the RenderResult, so it must receive the same camera and Gaussians as
// the Forward that produced it. A mismatch is reported as
// ErrPairingMismatch.
//
// # Memory
//
// Forward obtains its saved state as three buffers (per Gaussian, per
// pair, per pixel) from the configured Allocator, sized exactly for the
// call. See WithAllocator and WithMemoryBudget.
//
// # GPU Acceleration
//
// Preprocess can run on the GPU:
//
//	import _ "github.com/gogpu/gsplat/gpu"
//
// The forward blend joins it only for rasterizers created with
// WithInferenceOnly, whose results Backward rejects. Sorting and the
// backward pass always run on the CPU.
//
// # Conventions
//
//   - Matrices are 4×4 column-major; the camera looks down +z in view
//     space.
//   - Pixel centers are at integer coordinates.
//   - Images are planar: channel c of pixel (x, y) is at c*H*W + y*W + x.
//   - Quaternions are ordered (w, x, y, z).
package gsplat
