package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"artifact-semantics/internal/semantic/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorAllows(t *testing.T) {
	desc := &model.Descriptor{
		ArtifactType: "prefetch",
		Columns:      []string{"executable_name", "run_count"},
		RowCount:     42,
	}

	t.Run("passes with required columns", func(t *testing.T) {
		ok, _ := DescriptorAllows(desc, []string{"executable_name"}, "")
		assert.True(t, ok)
	})

	t.Run("artifact type is case-insensitive", func(t *testing.T) {
		ok, _ := DescriptorAllows(desc, nil, "PREFETCH")
		assert.True(t, ok)
	})

	t.Run("wrong artifact type skips", func(t *testing.T) {
		ok, reason := DescriptorAllows(desc, nil, "srum")
		assert.False(t, ok)
		assert.Contains(t, reason, "artifact type")
	})

	t.Run("missing column skips", func(t *testing.T) {
		ok, reason := DescriptorAllows(desc, []string{"application_name"}, "")
		assert.False(t, ok)
		assert.Contains(t, reason, "application_name")
	})

	t.Run("empty store skips", func(t *testing.T) {
		empty := &model.Descriptor{ArtifactType: "prefetch", Columns: []string{"f"}}
		ok, reason := DescriptorAllows(empty, nil, "")
		assert.False(t, ok)
		assert.Contains(t, reason, "empty")
	})
}

func TestPrefilterCheckAgainstStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prefetch.db")
	createStore(t, path, "prefetch", []string{"executable_name"}, []map[string]interface{}{
		{"executable_name": "CHROME.EXE"},
	})

	a := newTestAdapter(t)
	p := NewPrefilter(a, nil)

	h, err := a.Open(context.Background(), path)
	require.NoError(t, err)
	defer a.Close(h)

	ok, _ := p.Check(context.Background(), h, []string{"executable_name"}, "prefetch")
	assert.True(t, ok)

	ok, reason := p.Check(context.Background(), h, []string{"application_name"}, "")
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestPrefilterCheckDescriptorMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bare.db")
	// Store without a descriptor table.
	createBareStore(t, path)

	a := newTestAdapter(t)
	p := NewPrefilter(a, nil)

	h, err := a.Open(context.Background(), path)
	require.NoError(t, err)
	defer a.Close(h)

	ok, reason := p.Check(context.Background(), h, []string{"f"}, "")
	assert.False(t, ok)
	assert.Equal(t, "descriptor missing", reason)
}
