package repository

import (
	"context"

	"artifact-semantics/internal/semantic/domain/model"
)

// StoreHandle is an opaque open store owned by the adapter. Handles are
// never shared across workers; each worker opens and closes its own.
type StoreHandle interface {
	// Path returns the file the handle was opened from.
	Path() string
}

// RowIter iterates query results. The evaluator only ever needs to know
// whether at least one row exists, but the interface stays general.
type RowIter interface {
	Next() bool
	Err() error
	Close() error
}

// StoreAdapter is the narrow read-only view of artifact stores the
// evaluator consumes. Every store is an independently-openable relational
// database carrying a descriptor table and supporting parameterized queries
// plus scalar function registration.
type StoreAdapter interface {
	// Open opens the store read-only. The handle must be released with
	// Close on every exit path.
	Open(ctx context.Context, path string) (StoreHandle, error)

	// Metadata reads the store's descriptor table; nil with no error means
	// the descriptor is absent.
	Metadata(ctx context.Context, h StoreHandle) (*model.Descriptor, error)

	// RegisterRegexp verifies the REGEXP scalar function is bound on the
	// handle's connection. A failure here is fatal for the optimized path.
	RegisterRegexp(ctx context.Context, h StoreHandle) error

	// Execute runs a parameterized query. Values travel exclusively through
	// params; the adapter never interpolates them into the SQL text.
	Execute(ctx context.Context, h StoreHandle, query string, params []interface{}) (RowIter, error)

	// Close releases the handle.
	Close(h StoreHandle) error
}

// QueryBuilder translates a rule into a parameterized SQL statement, or
// reports it untranslatable (which triggers the in-memory fallback, not an
// error).
type QueryBuilder interface {
	// BuildRuleQuery returns the SQL text and its positional parameters.
	// Untranslatable rules yield an error wrapping errors.ErrUntranslatable.
	BuildRuleQuery(rule *model.Rule) (string, []interface{}, error)

	// CanTranslate is the cheap pre-check used before building.
	CanTranslate(rule *model.Rule) bool
}

// MetadataPrefilter rules a store in or out for a rule using only the
// store's descriptor. A negative answer is a silent skip with a reason for
// the decision log, never an error.
type MetadataPrefilter interface {
	Check(ctx context.Context, h StoreHandle, requiredColumns []string, artifactType string) (bool, string)
}

// PatternCache compiles regular expressions once per process. Invalid
// patterns are negative-cached so they are reported once and never
// recompiled; Compile returns nil for them.
type PatternCache interface {
	model.PatternCompiler

	// Len reports the number of cached entries, negatives included.
	Len() int

	// Purge drops every cached entry.
	Purge()
}

// RuleProvider hands the evaluator the current per-scope rule sets. The
// loader implements it; snapshots are immutable, so an ongoing evaluation
// keeps the sets it started with across a concurrent reload.
type RuleProvider interface {
	// RuleSets returns the active snapshot, keyed by scope.
	RuleSets() map[model.Scope]model.RuleSet
}
