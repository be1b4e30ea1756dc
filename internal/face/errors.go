// Package face holds the value types and error kinds shared by every
// pipeline stage.
package face

import "errors"

// Error kinds. Stages wrap these with context using fmt.Errorf("%w: ...").
var (
	// ErrModelLoad reports a bundle resource that is missing or malformed for a role.
	ErrModelLoad = errors.New("model load failed")
	// ErrModelNotLoaded reports an operation whose role has no loaded handle.
	ErrModelNotLoaded = errors.New("model not loaded")
	// ErrInvalidImage reports zero dimensions or a channel/layout mismatch.
	ErrInvalidImage = errors.New("invalid image")
	// ErrInvalidRegion reports a region with non-positive extent after clamping.
	ErrInvalidRegion = errors.New("invalid region")
	// ErrInvalidLandmarks reports a landmark set of the wrong cardinality.
	ErrInvalidLandmarks = errors.New("invalid landmarks")
	// ErrUseAfterRelease reports an operation on a released handle or closed pipeline.
	ErrUseAfterRelease = errors.New("use after release")
	// ErrInference reports a failed native evaluation. It only affects the call.
	ErrInference = errors.New("inference failed")
)
