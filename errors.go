package gsplat

import (
	"errors"

	"github.com/gogpu/gsplat/internal/buffers"
	"github.com/gogpu/gsplat/internal/project"
)

// Usage errors. They are reported before any buffer is allocated.
var (
	// ErrColorSource reports that both or neither of SH coefficients and
	// precomputed colors were supplied.
	ErrColorSource = errors.New("gsplat: exactly one of SH coefficients or precomputed colors is required")

	// ErrShapeSource reports that both or neither of scale+rotation and a
	// precomputed covariance were supplied.
	ErrShapeSource = errors.New("gsplat: exactly one of scale+rotation or precomputed covariance is required")

	// ErrInvalidCamera reports an unusable camera.
	ErrInvalidCamera = errors.New("gsplat: invalid camera")

	// ErrShapeMismatch reports an input slice with the wrong length.
	ErrShapeMismatch = errors.New("gsplat: input length mismatch")

	// ErrNotRich reports depth or normal gradients for a render made
	// without rich output.
	ErrNotRich = errors.New("gsplat: depth and normal gradients require rich output")
)

// ErrAllocation reports that a state buffer could not be obtained,
// including a rendered pair count that does not fit in 32 bits.
var ErrAllocation = buffers.ErrAllocation

// ErrPrefilterViolation reports a Gaussian outside the frustum although
// Camera.Prefiltered promised there were none.
var ErrPrefilterViolation = project.ErrPrefilterViolation

// Pairing errors.
var (
	// ErrNilResult reports a Backward call without a forward result.
	ErrNilResult = errors.New("gsplat: nil render result")

	// ErrPairingMismatch reports that Backward received inputs that differ
	// from those of the forward call that produced the result.
	ErrPairingMismatch = errors.New("gsplat: backward inputs do not match the forward render")

	// ErrInferenceOnly reports a Backward call on a result whose blend ran
	// on the accelerator. See WithInferenceOnly.
	ErrInferenceOnly = errors.New("gsplat: result was blended on the accelerator and cannot be differentiated")
)
