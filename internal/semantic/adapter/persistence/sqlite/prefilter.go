package sqlite

import (
	"context"
	"fmt"

	"artifact-semantics/internal/semantic/domain/model"
	"artifact-semantics/internal/semantic/domain/repository"

	"go.uber.org/zap"
)

// Prefilter consults a store's descriptor before any record query runs,
// eliminating irrelevant stores at the cost of a single metadata read. For
// typical rules this rules out half to nearly all stores.
type Prefilter struct {
	adapter repository.StoreAdapter
	log     *zap.Logger
}

// NewPrefilter wires the pre-filter to a store adapter.
func NewPrefilter(adapter repository.StoreAdapter, log *zap.Logger) *Prefilter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prefilter{adapter: adapter, log: log}
}

// Check decides whether a store can possibly satisfy a rule, using only the
// descriptor. requiredColumns are the fields the rule tests in this store.
// A false result is a silent skip, never an error; the reason feeds the
// decision log.
func (p *Prefilter) Check(ctx context.Context, h repository.StoreHandle, requiredColumns []string, artifactType string) (bool, string) {
	desc, err := p.adapter.Metadata(ctx, h)
	if err != nil {
		p.log.Debug("descriptor read failed, skipping store",
			zap.String("path", h.Path()),
			zap.Error(err))
		return false, fmt.Sprintf("descriptor read failed: %v", err)
	}
	if desc == nil {
		return false, "descriptor missing"
	}
	return DescriptorAllows(desc, requiredColumns, artifactType)
}

// DescriptorAllows applies the skip rules to a descriptor: non-empty record
// count, matching artifact type (case-insensitive), and presence of every
// required column.
func DescriptorAllows(desc *model.Descriptor, requiredColumns []string, artifactType string) (bool, string) {
	if desc.RowCount == 0 {
		return false, "store is empty"
	}
	if !desc.MatchesArtifactType(artifactType) {
		return false, fmt.Sprintf("artifact type %q does not match required %q", desc.ArtifactType, artifactType)
	}
	if !desc.HasColumns(requiredColumns) {
		return false, fmt.Sprintf("descriptor lacks required columns %v", requiredColumns)
	}
	return true, ""
}
