package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"artifact-semantics/internal/semantic/adapter/cache"
	"artifact-semantics/internal/semantic/domain/model"
	sharederrors "artifact-semantics/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAdapter wires an adapter to a fresh pattern cache.
func newTestAdapter(t *testing.T) *StoreAdapter {
	t.Helper()
	return NewStoreAdapter(cache.NewPatternCache(64, nil), nil)
}

// createStore materializes a store file with a record table and descriptor,
// the way artifact producers do.
func createStore(t *testing.T, path, artifactType string, columns []string, rows []map[string]interface{}) {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = fmt.Sprintf("%q TEXT", c)
	}
	_, err = db.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", model.RecordTable, strings.Join(quoted, ", ")))
	require.NoError(t, err)

	for _, row := range rows {
		names := make([]string, 0, len(row))
		marks := make([]string, 0, len(row))
		values := make([]interface{}, 0, len(row))
		for _, c := range columns {
			if v, ok := row[c]; ok {
				names = append(names, fmt.Sprintf("%q", c))
				marks = append(marks, "?")
				values = append(values, v)
			}
		}
		_, err = db.Exec(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			model.RecordTable, strings.Join(names, ", "), strings.Join(marks, ", ")), values...)
		require.NoError(t, err)
	}

	_, err = db.Exec(fmt.Sprintf(
		"CREATE TABLE %s (artifact_type TEXT, columns TEXT, row_count INTEGER)", model.DescriptorTable))
	require.NoError(t, err)
	colJSON, err := json.Marshal(columns)
	require.NoError(t, err)
	_, err = db.Exec(fmt.Sprintf("INSERT INTO %s VALUES (?, ?, ?)", model.DescriptorTable),
		artifactType, string(colJSON), len(rows))
	require.NoError(t, err)
}

// createBareStore materializes a store with a record table but no
// descriptor.
func createBareStore(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(fmt.Sprintf("CREATE TABLE %s (f TEXT)", model.RecordTable))
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestStoreAdapterOpenMissingFile(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.Open(context.Background(), filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.ErrorIs(t, err, sharederrors.ErrStoreUnavailable)
}

func TestStoreAdapterMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefetch.db")
	createStore(t, path, "prefetch", []string{"executable_name", "run_count"}, []map[string]interface{}{
		{"executable_name": "CHROME.EXE", "run_count": "4"},
	})

	a := newTestAdapter(t)
	h, err := a.Open(context.Background(), path)
	require.NoError(t, err)
	defer a.Close(h)

	desc, err := a.Metadata(context.Background(), h)
	require.NoError(t, err)
	require.NotNil(t, desc)
	assert.Equal(t, "prefetch", desc.ArtifactType)
	assert.Equal(t, []string{"executable_name", "run_count"}, desc.Columns)
	assert.Equal(t, int64(1), desc.RowCount)
}

func TestStoreAdapterMetadataAbsentDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE feather_data (f TEXT)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	a := newTestAdapter(t)
	h, err := a.Open(context.Background(), path)
	require.NoError(t, err)
	defer a.Close(h)

	desc, err := a.Metadata(context.Background(), h)
	require.NoError(t, err)
	assert.Nil(t, desc)
}

func TestStoreAdapterExecuteBindsParameters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.db")
	injected := `' OR 1=1; --`
	createStore(t, path, "Logs", []string{"EventID"}, []map[string]interface{}{
		{"EventID": "4624"},
		{"EventID": injected},
	})

	a := newTestAdapter(t)
	h, err := a.Open(context.Background(), path)
	require.NoError(t, err)
	defer a.Close(h)

	// The adversarial literal matches only the row that actually stores it.
	iter, err := a.Execute(context.Background(), h,
		"SELECT 1 FROM feather_data WHERE (\"EventID\" = ?) LIMIT 1", []interface{}{injected})
	require.NoError(t, err)
	assert.True(t, iter.Next())
	require.NoError(t, iter.Err())
	require.NoError(t, iter.Close())

	iter, err = a.Execute(context.Background(), h,
		"SELECT 1 FROM feather_data WHERE (\"EventID\" = ?) LIMIT 1", []interface{}{"no-such-value"})
	require.NoError(t, err)
	assert.False(t, iter.Next())
	require.NoError(t, iter.Close())
}

func TestStoreAdapterRegexpFunction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefetch.db")
	createStore(t, path, "prefetch", []string{"executable_name"}, []map[string]interface{}{
		{"executable_name": "CHROME.EXE-ABCD1234"},
	})

	a := newTestAdapter(t)
	h, err := a.Open(context.Background(), path)
	require.NoError(t, err)
	defer a.Close(h)

	require.NoError(t, a.RegisterRegexp(context.Background(), h))

	// Patterns are case-insensitive through the shared cache.
	iter, err := a.Execute(context.Background(), h,
		"SELECT 1 FROM feather_data WHERE (\"executable_name\" REGEXP ?) LIMIT 1", []interface{}{"chrome"})
	require.NoError(t, err)
	assert.True(t, iter.Next())
	require.NoError(t, iter.Close())

	// An invalid pattern matches nothing rather than erroring.
	iter, err = a.Execute(context.Background(), h,
		"SELECT 1 FROM feather_data WHERE (\"executable_name\" REGEXP ?) LIMIT 1", []interface{}{"("})
	require.NoError(t, err)
	assert.False(t, iter.Next())
	require.NoError(t, iter.Close())
}

func TestStoreAdapterExecuteMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "srum.db")
	createStore(t, path, "srum", []string{"application_name"}, nil)

	a := newTestAdapter(t)
	h, err := a.Open(context.Background(), path)
	require.NoError(t, err)
	defer a.Close(h)

	_, err = a.Execute(context.Background(), h,
		"SELECT 1 FROM feather_data WHERE (\"no_such_column\" = ?) LIMIT 1", []interface{}{"x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, sharederrors.ErrQueryExecution)
}

func TestStoreAdapterTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.db")
	require.NoError(t, os.WriteFile(path, []byte("not a sqlite database"), 0o644))

	a := newTestAdapter(t)
	h, err := a.Open(context.Background(), path)
	if err == nil {
		// Some corruption only surfaces at query time.
		defer a.Close(h)
		_, qerr := a.Execute(context.Background(), h,
			"SELECT 1 FROM feather_data LIMIT 1", nil)
		require.Error(t, qerr)
		return
	}
	assert.ErrorIs(t, err, sharederrors.ErrStoreUnavailable)
}

func TestParseColumnList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseColumnList(`["a","b"]`))
	assert.Equal(t, []string{"a", "b"}, parseColumnList("a, b"))
	assert.Nil(t, parseColumnList(""))
}
