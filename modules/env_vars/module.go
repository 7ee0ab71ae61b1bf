package env_vars

import (
	"context"
	"os"
	"strings"

	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Prefix returns the environment prefix read for a package:
// "PKGPLAN_USER_INFO_<NAME>_", with the name upper-cased and dashes and dots
// turned into underscores.
func Prefix(pkg string) string {
	name := strings.NewReplacer("-", "_", ".", "_").Replace(strings.ToUpper(pkg))
	return "PKGPLAN_USER_INFO_" + name + "_"
}

// PackageInfoEnvVars is the "env_vars" package_info hook. Every environment
// variable under the package's prefix becomes a user_info entry.
func PackageInfoEnvVars(ctx context.Context, bc *registry.BuildContext, info *recipe.CppInfo) error {
	prefix := Prefix(bc.Ref.Name())
	for _, e := range os.Environ() {
		key, value, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		name, found := strings.CutPrefix(key, prefix)
		if !found || name == "" {
			continue
		}
		if bc.UserInfo == nil {
			bc.UserInfo = make(map[string]string)
		}
		bc.UserInfo[name] = value
	}
	return nil
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterPackageInfo("env_vars", PackageInfoEnvVars)
}
