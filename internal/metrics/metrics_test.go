package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStoreOpLabelsStatus(t *testing.T) {
	ok := StoreOpsTotal.WithLabelValues("fs", "save", "ok")
	failed := StoreOpsTotal.WithLabelValues("fs", "save", "error")
	okBefore := testutil.ToFloat64(ok)
	failedBefore := testutil.ToFloat64(failed)

	StoreOp("fs", "save", nil)
	StoreOp("fs", "save", errors.New("disk full"))
	StoreOp("fs", "save", nil)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}

func TestFallbackCounter(t *testing.T) {
	c := BackendFallbacksTotal.WithLabelValues("opencl", "pipeline")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestCollectorsRegistered(t *testing.T) {
	assert.NotNil(t, FingerprintsBuiltTotal)
	assert.NotNil(t, FingerprintBuildDurationSeconds)
	assert.NotNil(t, KernelDispatchThreads)
	assert.NotNil(t, IndexCandidates)
	assert.NotNil(t, HTTPRequestDurationSeconds)

	IndexSize.Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(IndexSize))
}
