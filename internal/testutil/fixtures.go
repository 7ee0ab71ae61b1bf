package testutil

import (
	"fmt"

	"github.com/vk/pkgplan/internal/recipe"
	"github.com/vk/pkgplan/internal/ref"
)

// Req builds a requirement from reference text and flags ("private",
// "override", "build"). It panics on invalid input.
func Req(text string, flags ...string) recipe.Requirement {
	req := recipe.Requirement{Ref: ref.MustParse(text)}
	for _, f := range flags {
		switch f {
		case "private":
			req.Private = true
		case "override":
			req.Override = true
		case "build":
			req.BuildRequire = true
		default:
			panic(fmt.Sprintf("testutil: unknown requirement flag %q", f))
		}
	}
	return req
}

// Recipe builds a recipe with the given requirements.
func Recipe(text string, reqs ...recipe.Requirement) *recipe.Recipe {
	return &recipe.Recipe{Ref: ref.MustParse(text), Requires: reqs}
}

// Provider wraps recipes in a memory provider.
func Provider(recipes ...*recipe.Recipe) *recipe.MemoryProvider {
	return recipe.NewMemoryProvider(recipes...)
}
