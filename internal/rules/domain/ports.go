package domain

import (
	"context"

	"artifact-semantics/internal/semantic/domain/model"
)

// Discovery enumerates rule files per scope, lowest precedence first, and
// reads their contents. Implementations scan the built-in bundle plus the
// configured global, pipeline, wing and case directories.
type Discovery interface {
	Discover(ctx context.Context) ([]model.SourceDescriptor, error)
	Read(src model.SourceDescriptor) ([]byte, error)
}

// Parser converts one rule file into rules and weight profiles. Malformed
// entries are skipped and reported; Parse never fails the whole batch.
type Parser interface {
	Parse(src model.SourceDescriptor, content []byte) *ParsedFile
}
