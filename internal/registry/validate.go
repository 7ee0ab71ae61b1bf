package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/pkgplan/internal/ctxlog"
	"github.com/vk/pkgplan/internal/recipe"
)

// Validate checks that every hook named by recipes is registered.
func (r *Registry) Validate(ctx context.Context, recipes []*recipe.Recipe) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, rec := range recipes {
		if _, err := r.Hooks(rec.Lifecycle); err != nil {
			errs = append(errs, fmt.Sprintf("recipe '%s': %v", rec.Ref, err))
			continue
		}
		if rec.Lifecycle == (recipe.Lifecycle{}) {
			logger.Debug("Recipe declares no lifecycle hooks.", "recipe", rec.Ref.String())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
