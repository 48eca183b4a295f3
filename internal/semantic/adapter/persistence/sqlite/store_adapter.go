package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"artifact-semantics/internal/semantic/domain/model"
	"artifact-semantics/internal/semantic/domain/repository"
	sharederrors "artifact-semantics/internal/shared/errors"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const driverName = "sqlite3_semantic"

var (
	registerDriverOnce sync.Once

	// activePatterns backs the REGEXP scalar function. The cache is
	// process-wide by contract, so a single slot is enough; it is swapped
	// atomically because connections outlive adapter construction.
	activePatterns atomic.Pointer[patternsBox]
)

type patternsBox struct {
	patterns repository.PatternCache
}

// sqliteRegexp implements the REGEXP operator: SQLite rewrites
// `X REGEXP Y` to regexp(Y, X), so the pattern arrives first. Compilation
// goes through the shared pattern cache; an invalid pattern matches nothing,
// the same outcome the in-memory path produces.
func sqliteRegexp(pattern, value string) (bool, error) {
	box := activePatterns.Load()
	if box == nil || box.patterns == nil {
		return false, fmt.Errorf("regexp function has no pattern cache")
	}
	re := box.patterns.Compile(pattern)
	if re == nil {
		return false, nil
	}
	return re.MatchString(value), nil
}

func registerDriver() {
	registerDriverOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("regexp", sqliteRegexp, true)
			},
		})
	})
}

// StoreAdapter exposes artifact stores to the evaluator as read-only SQLite
// databases. Handles are opened per worker and never shared; the REGEXP
// scalar function is registered on every connection through the driver's
// connect hook before any query runs.
type StoreAdapter struct {
	log *zap.Logger
}

// NewStoreAdapter wires the adapter to the process pattern cache and
// registers the custom driver once.
func NewStoreAdapter(patterns repository.PatternCache, log *zap.Logger) *StoreAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	activePatterns.Store(&patternsBox{patterns: patterns})
	registerDriver()
	return &StoreAdapter{log: log}
}

type storeHandle struct {
	db   *sql.DB
	path string
}

func (h *storeHandle) Path() string { return h.path }

// Open opens the store file read-only. Missing or unreadable files surface
// as ErrStoreUnavailable so the evaluator can fall back per rule.
func (a *StoreAdapter) Open(ctx context.Context, path string) (repository.StoreHandle, error) {
	if path == "" {
		return nil, sharederrors.StoreUnavailable(path, fmt.Errorf("empty store path"))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, sharederrors.StoreUnavailable(path, err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, sharederrors.StoreUnavailable(path, err)
	}
	// One connection per handle keeps the one-handle-per-worker contract
	// observable at the database layer too.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, sharederrors.StoreUnavailable(path, err)
	}

	return &storeHandle{db: db, path: path}, nil
}

// Metadata reads the store descriptor. A missing descriptor table is not an
// error; it returns nil so the pre-filter can skip the store silently.
func (a *StoreAdapter) Metadata(ctx context.Context, h repository.StoreHandle) (*model.Descriptor, error) {
	sh, err := a.handle(h)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT artifact_type, columns, row_count FROM %s LIMIT 1", model.DescriptorTable)
	row := sh.db.QueryRowContext(ctx, query)

	var artifactType, columns sql.NullString
	var rowCount sql.NullInt64
	if err := row.Scan(&artifactType, &columns, &rowCount); err != nil {
		if err == sql.ErrNoRows || isMissingTable(err) {
			a.log.Debug("store descriptor absent",
				zap.String("path", sh.path),
				zap.Error(err))
			return nil, nil
		}
		return nil, sharederrors.StoreUnavailable(sh.path, err)
	}

	return &model.Descriptor{
		ArtifactType: artifactType.String,
		Columns:      parseColumnList(columns.String),
		RowCount:     rowCount.Int64,
	}, nil
}

// RegisterRegexp verifies the REGEXP function is callable on this handle.
// The driver hook binds it at connect time; a store where the probe fails
// cannot take the optimized path for regex rules at all.
func (a *StoreAdapter) RegisterRegexp(ctx context.Context, h repository.StoreHandle) error {
	sh, err := a.handle(h)
	if err != nil {
		return err
	}
	var one int
	if err := sh.db.QueryRowContext(ctx, "SELECT 'probe' REGEXP 'pro'").Scan(&one); err != nil {
		return fmt.Errorf("%w: REGEXP probe failed on %s: %v", sharederrors.ErrFatalAdapter, sh.path, err)
	}
	return nil
}

// Execute runs a parameterized query on the handle's connection.
func (a *StoreAdapter) Execute(ctx context.Context, h repository.StoreHandle, query string, params []interface{}) (repository.RowIter, error) {
	sh, err := a.handle(h)
	if err != nil {
		return nil, err
	}
	rows, err := sh.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", sharederrors.ErrQueryExecution, sh.path, err)
	}
	return &rowIter{rows: rows}, nil
}

// Close releases the handle's connection.
func (a *StoreAdapter) Close(h repository.StoreHandle) error {
	sh, err := a.handle(h)
	if err != nil {
		return err
	}
	return sh.db.Close()
}

func (a *StoreAdapter) handle(h repository.StoreHandle) (*storeHandle, error) {
	sh, ok := h.(*storeHandle)
	if !ok || sh == nil || sh.db == nil {
		return nil, fmt.Errorf("%w: invalid store handle", sharederrors.ErrFatalAdapter)
	}
	return sh, nil
}

type rowIter struct {
	rows *sql.Rows
}

func (it *rowIter) Next() bool   { return it.rows.Next() }
func (it *rowIter) Err() error   { return it.rows.Err() }
func (it *rowIter) Close() error { return it.rows.Close() }

// parseColumnList accepts the descriptor's column list either as a JSON
// array (the producer convention) or a comma-separated fallback.
func parseColumnList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var cols []string
		if err := json.Unmarshal([]byte(raw), &cols); err == nil {
			return cols
		}
	}
	parts := strings.Split(raw, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			cols = append(cols, trimmed)
		}
	}
	return cols
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
