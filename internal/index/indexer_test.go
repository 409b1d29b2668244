package index

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/photofingerprint/internal/fingerprint/backend"
	"github.com/cwbudde/photofingerprint/internal/fingerprint/kernel"
	"github.com/cwbudde/photofingerprint/internal/store"
)

func writePNG(t *testing.T, path string, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestCollectImages(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), color.NRGBA{R: 255, A: 255})
	writePNG(t, filepath.Join(dir, "a.PNG"), color.NRGBA{G: 255, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
	writePNG(t, filepath.Join(dir, "sub", "c.png"), color.NRGBA{B: 255, A: 255})

	flat, err := CollectImages(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.PNG"), filepath.Join(dir, "b.png")}, flat)

	deep, err := CollectImages(dir, true)
	require.NoError(t, err)
	assert.Len(t, deep, 3)

	_, err = CollectImages(filepath.Join(dir, "b.png"), false)
	assert.Error(t, err)
}

func TestIndexerRun(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "red.png"), color.NRGBA{R: 255, A: 255})
	writePNG(t, filepath.Join(dir, "red2.png"), color.NRGBA{R: 250, A: 255})
	writePNG(t, filepath.Join(dir, "blue.png"), color.NRGBA{B: 255, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not an image"), 0644))

	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)

	ix := &Indexer{Builder: backend.NewCPU(), Store: st, Index: New(), Workers: 2}

	paths, err := CollectImages(dir, false)
	require.NoError(t, err)

	var mu sync.Mutex
	var failed, ok int
	err = ix.Run(context.Background(), paths, func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		if r.Err != nil {
			failed++
		} else {
			ok++
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 3, ok)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 3, ix.Index.Len())

	infos, err := st.List()
	require.NoError(t, err)
	assert.Len(t, infos, 3)

	// both reds quantize to the same buckets
	query, err := ix.IndexFile(context.Background(), filepath.Join(dir, "red.png"))
	require.NoError(t, err)
	matches := ix.Index.SearchExcluding(query.Fingerprint, 10, 0.99, query.ID)
	require.Len(t, matches, 1)
	assert.Equal(t, filepath.Join(dir, "red2.png"), matches[0].Source)
}

func TestIndexerRunTwiceKeepsOneRecordPerFile(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "red.png"), color.NRGBA{R: 255, A: 255})
	writePNG(t, filepath.Join(dir, "blue.png"), color.NRGBA{B: 255, A: 255})

	st, err := store.NewBadgerStore("")
	require.NoError(t, err)
	defer st.Close()

	ix := &Indexer{Builder: backend.NewCPU(), Store: st, Index: New(), Workers: 2}
	paths, err := CollectImages(dir, false)
	require.NoError(t, err)

	var first []string
	require.NoError(t, ix.Run(context.Background(), paths, func(r Result) {
		assert.NoError(t, r.Err)
	}))
	infos, err := st.List()
	require.NoError(t, err)
	for _, info := range infos {
		first = append(first, info.ID)
	}

	require.NoError(t, ix.Run(context.Background(), paths, nil))

	infos, err = st.List()
	require.NoError(t, err)
	require.Len(t, infos, 2, "re-indexing must overwrite, not duplicate")
	var second []string
	for _, info := range infos {
		second = append(second, info.ID)
	}
	assert.ElementsMatch(t, first, second)
	assert.Equal(t, 2, ix.Index.Len())

	red, ok := ix.Index.Get(store.FileID(filepath.Join(dir, "red.png")))
	require.True(t, ok)
	assert.Len(t, ix.Index.Search(red, 0, 0), 1)
}

func TestIndexerRecordsFallbackBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "red.png")
	writePNG(t, path, color.NRGBA{R: 255, A: 255})

	st, err := store.NewBadgerStore("")
	require.NoError(t, err)
	defer st.Close()

	degraded := backend.NewKernelBuilder(backend.BackendOpenCL, kernel.NewKernel(noCompilerDevice{}), nil)
	require.True(t, degraded.Degraded())

	ix := &Indexer{Builder: degraded, Store: st}
	rec, err := ix.IndexFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, string(backend.BackendCPU), rec.Backend)

	stored, err := st.Load(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, string(backend.BackendCPU), stored.Backend)
}

type noCompilerDevice struct{}

func (noCompilerDevice) Name() string                  { return "no-compiler" }
func (noCompilerDevice) Capability() kernel.Capability { return kernel.UniformOnly }
func (noCompilerDevice) Close() error                  { return nil }

func (noCompilerDevice) NewPipeline(string) (kernel.Pipeline, error) {
	return nil, errors.New("no compiler")
}

func TestIndexerRunCancelled(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), color.NRGBA{R: 1, A: 255})

	st, err := store.NewBadgerStore("")
	require.NoError(t, err)
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ix := &Indexer{Builder: backend.NewCPU(), Store: st, Workers: 1}
	err = ix.Run(ctx, []string{filepath.Join(dir, "a.png")}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
