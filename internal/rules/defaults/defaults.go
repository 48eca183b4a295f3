// Package defaults bundles the built-in semantic mappings shipped with the
// binary. They form the lowest-precedence scope; any on-disk scope can
// override them.
package defaults

import (
	"embed"
	"io/fs"
)

//go:embed default_mappings/*.yaml
var bundled embed.FS

// FS returns the built-in rule bundle rooted at default_mappings.
func FS() fs.FS {
	sub, err := fs.Sub(bundled, "default_mappings")
	if err != nil {
		// The bundle is compiled in; a failure here is a build defect.
		panic(err)
	}
	return sub
}
