package backend

import (
	"context"
	"fmt"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
)

// Report compares the fingerprints two builders produced for one image.
type Report struct {
	A, B       Backend
	KeysA      int
	KeysB      int
	MaxDelta   float64
	Similarity float64
	Tolerance  float64
}

// Agree reports whether every key matched within Tolerance.
func (r Report) Agree() bool {
	return r.MaxDelta <= r.Tolerance
}

// CrossCheck builds px with both builders and reports the worst per-key
// weight difference. A builder that fell back to another backend fails
// the check with ErrBackendUnavailable instead of comparing the fallback.
func CrossCheck(ctx context.Context, a, b Builder, px fingerprint.Pixels, tolerance float64) (Report, error) {
	fa, err := crossBuild(ctx, a, px)
	if err != nil {
		return Report{}, err
	}
	fb, err := crossBuild(ctx, b, px)
	if err != nil {
		return Report{}, err
	}

	return Report{
		A:          a.Backend(),
		B:          b.Backend(),
		KeysA:      fa.Len(),
		KeysB:      fb.Len(),
		MaxDelta:   fa.MaxDelta(fb),
		Similarity: fingerprint.Similarity(fa, fb),
		Tolerance:  tolerance,
	}, nil
}

func crossBuild(ctx context.Context, b Builder, px fingerprint.Pixels) (fingerprint.Fingerprint, error) {
	fp, built, err := BuildWithBackend(ctx, b, px)
	if err != nil {
		return fingerprint.Fingerprint{}, fmt.Errorf("%s build: %w", b.Backend(), err)
	}
	if built != b.Backend() {
		return fingerprint.Fingerprint{}, fmt.Errorf("%w: %s build was answered by %s", ErrBackendUnavailable, b.Backend(), built)
	}
	return fp, nil
}
