// Package index keeps fingerprints in memory behind an inverted key index
// so that a query only scores records sharing at least one bucket with it.
package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
	"github.com/cwbudde/photofingerprint/internal/metrics"
	"github.com/cwbudde/photofingerprint/internal/store"
)

// Match is one search result.
type Match struct {
	ID     string  `json:"id"`
	Source string  `json:"source,omitempty"`
	Score  float64 `json:"score"`
}

type doc struct {
	id     string
	source string
	fp     fingerprint.Fingerprint
}

// Index maps every populated key to the set of documents holding it.
// Documents are numbered in insertion order; numbers of removed documents
// are not reused. Index is safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	postings [fingerprint.KeySpace]*roaring.Bitmap
	docs     map[uint32]doc
	byID     map[string]uint32
	next     uint32
}

// New returns an empty index.
func New() *Index {
	return &Index{
		docs: make(map[uint32]doc),
		byID: make(map[string]uint32),
	}
}

// FromStore loads every record of s into a new index.
func FromStore(s store.Store) (*Index, error) {
	idx := New()
	err := s.Walk(func(rec *store.Record) error {
		idx.Add(rec.ID, rec.Source, rec.Fingerprint)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	return idx, nil
}

// Add inserts fp under id, replacing any fingerprint already indexed as id.
func (idx *Index) Add(id, source string, fp fingerprint.Fingerprint) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if n, ok := idx.byID[id]; ok {
		idx.unlink(n)
	}

	n := idx.next
	idx.next++
	idx.docs[n] = doc{id: id, source: source, fp: fp}
	idx.byID[id] = n
	for key := range fp.All() {
		bm := idx.postings[key]
		if bm == nil {
			bm = roaring.New()
			idx.postings[key] = bm
		}
		bm.Add(n)
	}

	metrics.IndexSize.Set(float64(len(idx.docs)))
}

// Remove drops id from the index. It reports whether id was present.
func (idx *Index) Remove(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.byID[id]
	if !ok {
		return false
	}
	idx.unlink(n)
	metrics.IndexSize.Set(float64(len(idx.docs)))
	return true
}

// unlink removes doc n from the postings and tables. Caller holds mu.
func (idx *Index) unlink(n uint32) {
	d := idx.docs[n]
	for key := range d.fp.All() {
		if bm := idx.postings[key]; bm != nil {
			bm.Remove(n)
			if bm.IsEmpty() {
				idx.postings[key] = nil
			}
		}
	}
	delete(idx.docs, n)
	delete(idx.byID, d.id)
}

// Len returns the number of indexed fingerprints.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Get returns the fingerprint indexed as id.
func (idx *Index) Get(id string) (fingerprint.Fingerprint, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n, ok := idx.byID[id]
	if !ok {
		return fingerprint.Fingerprint{}, false
	}
	return idx.docs[n].fp, true
}

// Candidates returns the IDs of all documents sharing at least one key with
// fp, in insertion order.
func (idx *Index) Candidates(fp fingerprint.Fingerprint) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bm := idx.candidates(fp)
	ids := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		ids = append(ids, idx.docs[it.Next()].id)
	}
	return ids
}

func (idx *Index) candidates(fp fingerprint.Fingerprint) *roaring.Bitmap {
	lists := make([]*roaring.Bitmap, 0, fp.Len())
	for key := range fp.All() {
		if bm := idx.postings[key]; bm != nil {
			lists = append(lists, bm)
		}
	}
	if len(lists) == 0 {
		return roaring.New()
	}
	return roaring.FastOr(lists...)
}

// Search scores every candidate of fp and returns up to k matches with a
// score of at least minScore, best first. Equal scores are ordered by ID.
// A k of zero or less returns all matches.
func (idx *Index) Search(fp fingerprint.Fingerprint, k int, minScore float64) []Match {
	return idx.search(fp, k, minScore, "")
}

// SearchExcluding is Search without the document indexed as exclude, used
// to find the neighbours of a stored record.
func (idx *Index) SearchExcluding(fp fingerprint.Fingerprint, k int, minScore float64, exclude string) []Match {
	return idx.search(fp, k, minScore, exclude)
}

func (idx *Index) search(fp fingerprint.Fingerprint, k int, minScore float64, exclude string) []Match {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bm := idx.candidates(fp)
	metrics.IndexCandidates.Observe(float64(bm.GetCardinality()))
	metrics.SimilarityComparisonsTotal.Add(float64(bm.GetCardinality()))

	matches := []Match{}
	it := bm.Iterator()
	for it.HasNext() {
		d := idx.docs[it.Next()]
		if d.id == exclude {
			continue
		}
		score := fingerprint.Similarity(fp, d.fp)
		if score < minScore {
			continue
		}
		matches = append(matches, Match{ID: d.id, Source: d.source, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
