package fingerprint

import (
	"math"

	"github.com/viterin/vek"
)

// Similarity returns the cosine similarity of two fingerprints. It walks the
// union of populated keys in key order, so Similarity(a, b) and
// Similarity(b, a) are bit-identical. An empty side scores 0.
func Similarity(a, b Fingerprint) float64 {
	var dot, aa, bb float64
	merge(a.entries, b.entries, func(_ Key, wa, wb float64) {
		dot += wa * wb
		aa += wa * wa
		bb += wb * wb
	})
	return cosine(dot, aa, bb)
}

// CosineDense scores two key-indexed weight or count vectors of equal length.
func CosineDense(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	return cosine(vek.Dot(a, b), vek.Dot(a, a), vek.Dot(b, b))
}

// SimilarityCounts scores two raw counter buffers, as read back from the
// accumulation kernel, without normalizing them first.
func SimilarityCounts(a, b *[KeySpace]uint32) float64 {
	fa := make([]float64, KeySpace)
	fb := make([]float64, KeySpace)
	for i := range a {
		fa[i] = float64(a[i])
		fb[i] = float64(b[i])
	}
	return CosineDense(fa, fb)
}

// cosine divides by a single square root so that identical vectors score
// exactly 1 and score thresholds compare against the exact value.
func cosine(dot, aa, bb float64) float64 {
	if aa == 0 || bb == 0 {
		return 0
	}
	return clampScore(dot / math.Sqrt(aa*bb))
}

// clampScore absorbs rounding that would push a score past +/-1.
func clampScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(-1, math.Min(1, s))
}

// merge calls fn for every key present in a or b, in ascending key order,
// with 0 standing in for the side that lacks the key.
func merge(a, b []Entry, fn func(key Key, wa, wb float64)) {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i].Key < b[j].Key):
			fn(a[i].Key, a[i].Weight, 0)
			i++
		case i >= len(a) || b[j].Key < a[i].Key:
			fn(b[j].Key, 0, b[j].Weight)
			j++
		default:
			fn(a[i].Key, a[i].Weight, b[j].Weight)
			i++
			j++
		}
	}
}
