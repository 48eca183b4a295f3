package adapter

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"artifact-semantics/internal/rules/domain"
	"artifact-semantics/internal/semantic/domain/model"

	"go.uber.org/zap"
)

// builtinPrefix marks sources read from the embedded bundle rather than
// the filesystem.
const builtinPrefix = "builtin://"

// DirectoryDiscovery scans the rule directories of every scope. Built-in
// defaults ship inside the binary; each on-disk scope contributes its
// semantic_mappings directory. Filenames carry no meaning — every
// *.yaml|*.yml|*.json in a scanned directory loads.
type DirectoryDiscovery struct {
	builtin fs.FS

	globalDirs  []string
	pipelineDir string
	wingDir     string
	caseDir     string

	log *zap.Logger
}

// DiscoveryPaths names the per-scope rule directories. Empty entries are
// skipped silently; a scope without a directory simply contributes nothing.
type DiscoveryPaths struct {
	GlobalDirs  []string
	PipelineDir string
	WingDir     string
	CaseDir     string
}

// NewDirectoryDiscovery builds a discovery over the embedded bundle and the
// configured scope directories.
func NewDirectoryDiscovery(builtin fs.FS, paths DiscoveryPaths, log *zap.Logger) *DirectoryDiscovery {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirectoryDiscovery{
		builtin:     builtin,
		globalDirs:  paths.GlobalDirs,
		pipelineDir: paths.PipelineDir,
		wingDir:     paths.WingDir,
		caseDir:     paths.CaseDir,
		log:         log,
	}
}

// Discover enumerates sources in ascending precedence order: built-in,
// global, pipeline, wing, case.
func (d *DirectoryDiscovery) Discover(ctx context.Context) ([]model.SourceDescriptor, error) {
	var sources []model.SourceDescriptor

	if d.builtin != nil {
		builtinSources, err := d.discoverBuiltin()
		if err != nil {
			return nil, err
		}
		sources = append(sources, builtinSources...)
	}

	type scopeDir struct {
		dir   string
		scope model.Scope
	}
	var dirs []scopeDir
	for _, g := range d.globalDirs {
		dirs = append(dirs, scopeDir{g, model.ScopeGlobal})
	}
	dirs = append(dirs,
		scopeDir{d.pipelineDir, model.ScopePipeline},
		scopeDir{d.wingDir, model.ScopeWing},
		scopeDir{d.caseDir, model.ScopeCase},
	)

	for _, sd := range dirs {
		if sd.dir == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := d.discoverDir(sd.dir, sd.scope)
		if err != nil {
			// A missing scope directory is normal; anything else aborts the
			// discovery so a partial view never replaces a good snapshot.
			if os.IsNotExist(err) {
				d.log.Debug("rule directory absent", zap.String("dir", sd.dir), zap.String("scope", string(sd.scope)))
				continue
			}
			return nil, err
		}
		sources = append(sources, found...)
	}
	return sources, nil
}

func (d *DirectoryDiscovery) discoverBuiltin() ([]model.SourceDescriptor, error) {
	var sources []model.SourceDescriptor
	err := fs.WalkDir(d.builtin, ".", func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		format, ok := formatOf(path)
		if !ok || format == domain.FormatScript {
			return nil
		}
		sources = append(sources, model.SourceDescriptor{
			Path:     builtinPrefix + path,
			Scope:    model.ScopeBuiltIn,
			Format:   format,
			Priority: model.ScopeBuiltIn.Priority(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources, nil
}

func (d *DirectoryDiscovery) discoverDir(dir string, scope model.Scope) ([]model.SourceDescriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var sources []model.SourceDescriptor
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		format, ok := formatOf(entry.Name())
		if !ok {
			continue
		}
		if format == domain.FormatScript {
			// Recognized but not loaded; the loader notes it in the report.
			d.log.Debug("scripted rule file found, skipping", zap.String("file", entry.Name()))
		}
		sources = append(sources, model.SourceDescriptor{
			Path:     filepath.Join(dir, entry.Name()),
			Scope:    scope,
			Format:   format,
			Priority: scope.Priority(),
		})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources, nil
}

// Read returns a source's raw bytes, resolving the built-in prefix against
// the embedded bundle.
func (d *DirectoryDiscovery) Read(src model.SourceDescriptor) ([]byte, error) {
	if strings.HasPrefix(src.Path, builtinPrefix) {
		return fs.ReadFile(d.builtin, strings.TrimPrefix(src.Path, builtinPrefix))
	}
	return os.ReadFile(src.Path)
}

func formatOf(name string) (string, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return domain.FormatYAML, true
	case ".json":
		return domain.FormatJSON, true
	case ".script":
		return domain.FormatScript, true
	}
	return "", false
}
