// Package app wires the resolver pipeline together: it loads recipes, the
// profile and the settings schema, resolves and orders the graph, computes
// package IDs, writes the lockfile and optionally executes the build plan.
// It is decoupled from any specific entrypoint like a CLI.
package app
