package index

import (
	"maps"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
	"github.com/cwbudde/photofingerprint/internal/store"
)

func fp(counts map[fingerprint.Key]uint32) fingerprint.Fingerprint {
	total := 0
	for _, c := range counts {
		total += int(c)
	}
	return fingerprint.Normalize(maps.All(counts), total)
}

func TestAddRemoveLen(t *testing.T) {
	idx := New()
	idx.Add("a", "a.png", fp(map[fingerprint.Key]uint32{1: 1, 2: 1}))
	idx.Add("b", "b.png", fp(map[fingerprint.Key]uint32{2: 1, 3: 1}))
	assert.Equal(t, 2, idx.Len())

	assert.True(t, idx.Remove("a"))
	assert.False(t, idx.Remove("a"))
	assert.Equal(t, 1, idx.Len())

	// key 1 was only held by "a"
	assert.Empty(t, idx.Candidates(fp(map[fingerprint.Key]uint32{1: 1})))
}

func TestAddReplacesExistingID(t *testing.T) {
	idx := New()
	idx.Add("a", "old.png", fp(map[fingerprint.Key]uint32{1: 1}))
	idx.Add("a", "new.png", fp(map[fingerprint.Key]uint32{9: 1}))

	assert.Equal(t, 1, idx.Len())
	assert.Empty(t, idx.Candidates(fp(map[fingerprint.Key]uint32{1: 1})))
	assert.Equal(t, []string{"a"}, idx.Candidates(fp(map[fingerprint.Key]uint32{9: 1})))

	got, ok := idx.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Weight(9))
}

func TestCandidatesShareAKey(t *testing.T) {
	idx := New()
	idx.Add("a", "", fp(map[fingerprint.Key]uint32{1: 1, 2: 1}))
	idx.Add("b", "", fp(map[fingerprint.Key]uint32{3: 1}))
	idx.Add("c", "", fp(map[fingerprint.Key]uint32{2: 5, 4: 1}))

	got := idx.Candidates(fp(map[fingerprint.Key]uint32{2: 1, 7: 1}))
	assert.Equal(t, []string{"a", "c"}, got)
}

func TestSearchRanking(t *testing.T) {
	query := fp(map[fingerprint.Key]uint32{1: 1, 2: 1})

	idx := New()
	idx.Add("exact", "", query)
	idx.Add("half", "", fp(map[fingerprint.Key]uint32{1: 1, 3: 1}))
	idx.Add("half-too", "", fp(map[fingerprint.Key]uint32{2: 1, 4: 1}))
	idx.Add("disjoint", "", fp(map[fingerprint.Key]uint32{5: 1}))

	matches := idx.Search(query, 0, 0)
	require.Len(t, matches, 3, "disjoint fingerprint is never a candidate")

	assert.Equal(t, "exact", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-12)
	// equal scores fall back to ID order
	assert.Equal(t, "half", matches[1].ID)
	assert.Equal(t, "half-too", matches[2].ID)
	assert.InDelta(t, 0.5, matches[1].Score, 1e-12)
}

func TestSearchLimitsAndThreshold(t *testing.T) {
	query := fp(map[fingerprint.Key]uint32{1: 1, 2: 1})

	idx := New()
	idx.Add("exact", "", query)
	idx.Add("half", "", fp(map[fingerprint.Key]uint32{1: 1, 3: 1}))
	idx.Add("weak", "", fp(map[fingerprint.Key]uint32{1: 1, 3: 9}))

	assert.Len(t, idx.Search(query, 1, 0), 1)

	strong := idx.Search(query, 10, 0.5)
	require.Len(t, strong, 2)
	for _, m := range strong {
		assert.GreaterOrEqual(t, m.Score, 0.5)
	}

	neighbours := idx.SearchExcluding(query, 10, 0, "exact")
	for _, m := range neighbours {
		assert.NotEqual(t, "exact", m.ID)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	idx := New()
	idx.Add("a", "", fp(map[fingerprint.Key]uint32{1: 1}))
	assert.Empty(t, idx.Search(fingerprint.Fingerprint{}, 5, 0))
}

func TestFromStore(t *testing.T) {
	s, err := store.NewBadgerStore("")
	require.NoError(t, err)
	defer s.Close()

	for _, src := range []string{"a.png", "b.png"} {
		rec := store.NewRecord(src, 1, 1, "cpu", fp(map[fingerprint.Key]uint32{42: 1}))
		require.NoError(t, s.Save(rec))
	}

	idx, err := FromStore(s)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	matches := idx.Search(fp(map[fingerprint.Key]uint32{42: 1}), 0, 0.99)
	require.Len(t, matches, 2)
	assert.NotEmpty(t, matches[0].Source)
}
