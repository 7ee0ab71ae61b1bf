// Package manifest provides the "manifest" package hook, which packages a
// node as a deterministic text manifest of its identity and inputs.
package manifest

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/vk/pkgplan/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Write renders the manifest of bc to w.
func Write(w io.Writer, bc *registry.BuildContext) error {
	if _, err := fmt.Fprintf(w, "ref: %s\npackage_id: %s\n", bc.Ref, bc.PackageID); err != nil {
		return err
	}
	for _, section := range []struct {
		name   string
		values map[string]string
	}{{"settings", bc.Settings}, {"options", bc.Options}} {
		fmt.Fprintf(w, "%s:\n", section.name)
		for _, k := range slices.Sorted(maps.Keys(section.values)) {
			fmt.Fprintf(w, "  %s: %s\n", k, section.values[k])
		}
	}
	fmt.Fprintln(w, "requires:")
	if bc.Deps != nil {
		for _, d := range bc.Deps.Dependencies {
			fmt.Fprintf(w, "  - %s\n", d.Ref)
		}
	}
	return nil
}

// PackageManifest is the "manifest" package hook.
func PackageManifest(ctx context.Context, bc *registry.BuildContext) error {
	return Write(&bc.Package, bc)
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterPackage("manifest", PackageManifest)
}
