package report

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	r := FlashReport{
		BaseAddr:   0x08000000,
		ImageBytes: 640,
		PageCount:  3,
		StartedAt:  time.Unix(1700000000, 0).UTC(),
		FinishedAt: time.Unix(1700000005, 0).UTC(),
		PageTimes:  []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond},
	}

	path := filepath.Join(t.TempDir(), "report.cbor")
	require.NoError(t, Save(r, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, r.BaseAddr, got.BaseAddr)
	assert.Equal(t, r.ImageBytes, got.ImageBytes)
	assert.Equal(t, r.PageCount, got.PageCount)
	assert.True(t, r.StartedAt.Equal(got.StartedAt))
	assert.True(t, r.FinishedAt.Equal(got.FinishedAt))
	assert.Equal(t, r.PageTimes, got.PageTimes)
}
