package fingerprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"
)

// ErrInvalidFingerprint is returned when decoded data violates the
// fingerprint invariants.
var ErrInvalidFingerprint = errors.New("invalid fingerprint")

// Entry is one populated bucket of a fingerprint.
type Entry struct {
	Key    Key
	Weight float64
}

// Fingerprint is a sparse, normalized histogram over bucket keys.
// Entries are kept in ascending key order and never change after Normalize.
type Fingerprint struct {
	entries []Entry
	pixels  int
}

// Normalize turns per-key counts into a fingerprint by dividing each count
// by total. Zero counts are dropped. Both the CPU builder and the GPU
// readback go through here, so their outputs share one format.
func Normalize(counts iter.Seq2[Key, uint32], total int) Fingerprint {
	if total <= 0 {
		return Fingerprint{}
	}

	entries := make([]Entry, 0, 64)
	for key, count := range counts {
		if count == 0 {
			continue
		}
		entries = append(entries, Entry{Key: key, Weight: float64(count) / float64(total)})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return int(a.Key) - int(b.Key) })

	return Fingerprint{entries: entries, pixels: total}
}

// DenseCounts yields the populated slots of a key-indexed counter array in
// key order.
func DenseCounts(counts *[KeySpace]uint32) iter.Seq2[Key, uint32] {
	return func(yield func(Key, uint32) bool) {
		for i, c := range counts {
			if c == 0 {
				continue
			}
			if !yield(Key(i), c) {
				return
			}
		}
	}
}

// Len returns the number of populated keys.
func (f Fingerprint) Len() int {
	return len(f.entries)
}

// Pixels returns the pixel count the fingerprint was built from.
func (f Fingerprint) Pixels() int {
	return f.pixels
}

// IsEmpty reports whether no pixel contributed to the fingerprint.
func (f Fingerprint) IsEmpty() bool {
	return len(f.entries) == 0
}

// Weight returns the weight of key, or 0 when the key is unpopulated.
func (f Fingerprint) Weight(key Key) float64 {
	i := sort.Search(len(f.entries), func(i int) bool { return f.entries[i].Key >= key })
	if i < len(f.entries) && f.entries[i].Key == key {
		return f.entries[i].Weight
	}
	return 0
}

// All yields populated keys and weights in ascending key order.
func (f Fingerprint) All() iter.Seq2[Key, float64] {
	return func(yield func(Key, float64) bool) {
		for _, e := range f.entries {
			if !yield(e.Key, e.Weight) {
				return
			}
		}
	}
}

// Keys returns the populated keys in ascending order.
func (f Fingerprint) Keys() []Key {
	keys := make([]Key, len(f.entries))
	for i, e := range f.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the populated entries.
func (f Fingerprint) Entries() []Entry {
	return slices.Clone(f.entries)
}

// Sum returns the total weight, 1.0 for any non-empty fingerprint.
func (f Fingerprint) Sum() float64 {
	var sum float64
	for _, e := range f.entries {
		sum += e.Weight
	}
	return sum
}

// Dense expands the fingerprint into a key-indexed weight vector.
func (f Fingerprint) Dense() []float64 {
	dense := make([]float64, KeySpace)
	for _, e := range f.entries {
		dense[e.Key] = e.Weight
	}
	return dense
}

// MaxDelta returns the largest per-key absolute weight difference between
// f and other over the union of their keys.
func (f Fingerprint) MaxDelta(other Fingerprint) float64 {
	var worst float64
	merge(f.entries, other.entries, func(_ Key, a, b float64) {
		worst = math.Max(worst, math.Abs(a-b))
	})
	return worst
}

// EqualWithin reports whether both fingerprints agree on every key within tol.
func (f Fingerprint) EqualWithin(other Fingerprint, tol float64) bool {
	return f.MaxDelta(other) <= tol
}

type fingerprintJSON struct {
	Pixels  int             `json:"pixels"`
	Weights map[Key]float64 `json:"weights"`
}

// MarshalJSON encodes the fingerprint as {"pixels": n, "weights": {"key": w}}.
func (f Fingerprint) MarshalJSON() ([]byte, error) {
	weights := make(map[Key]float64, len(f.entries))
	for _, e := range f.entries {
		weights[e.Key] = e.Weight
	}
	return json.Marshal(fingerprintJSON{Pixels: f.pixels, Weights: weights})
}

// UnmarshalJSON decodes and validates a fingerprint.
func (f *Fingerprint) UnmarshalJSON(data []byte) error {
	var raw fingerprintJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Pixels < 0 {
		return fmt.Errorf("%w: negative pixel count %d", ErrInvalidFingerprint, raw.Pixels)
	}

	entries := make([]Entry, 0, len(raw.Weights))
	for key, w := range raw.Weights {
		if !key.Valid() {
			return fmt.Errorf("%w: key %d outside key space", ErrInvalidFingerprint, key)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: key %d has weight %v", ErrInvalidFingerprint, key, w)
		}
		if w == 0 {
			continue
		}
		entries = append(entries, Entry{Key: key, Weight: w})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return int(a.Key) - int(b.Key) })

	f.entries = entries
	f.pixels = raw.Pixels
	return nil
}
