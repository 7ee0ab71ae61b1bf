// Package registry maps the hook names recipes declare in their lifecycle
// block to compiled Go implementations.
//
// Recipes never carry code. A recipe names hooks ("print", "manifest") and
// the registry resolves those names into a Hooks value the executor calls
// through a fixed contract: Build, then Package, then PackageInfo.
//
// The registry is populated once at startup by Modules and validated against
// the loaded recipes, so a recipe naming an unknown hook fails before any
// build starts.
package registry
