package print

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/vk/pkgplan/internal/ctxlog"
	"github.com/vk/pkgplan/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// BuildPrint is the "print" build hook. It writes the node's effective
// configuration and what it sees of its dependencies to the build output.
func BuildPrint(ctx context.Context, bc *registry.BuildContext) error {
	ctxlog.FromContext(ctx).Info("Printing build configuration", "ref", bc.Ref.String())

	w := bc.Output
	if w == nil {
		w = io.Discard
	}
	fmt.Fprintf(w, "%s:%s\n", bc.Ref, bc.PackageID)
	printSection(w, "settings", bc.Settings)
	printSection(w, "options", bc.Options)

	if bc.Deps == nil || len(bc.Deps.Dependencies) == 0 {
		fmt.Fprintln(w, "  requires: (none)")
		return nil
	}
	fmt.Fprintln(w, "  requires:")
	for _, d := range bc.Deps.Dependencies {
		fmt.Fprintf(w, "      %s (%s)\n", d.Ref, d.Visibility)
	}
	return nil
}

func printSection(w io.Writer, name string, values map[string]string) {
	if len(values) == 0 {
		fmt.Fprintf(w, "  %s: (null)\n", name)
		return
	}
	fmt.Fprintf(w, "  %s:\n", name)
	for _, k := range slices.Sorted(maps.Keys(values)) {
		fmt.Fprintf(w, "      %s = %q\n", k, values[k])
	}
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterBuild("print", BuildPrint)
}
