// Package buildorder splits a dependency graph into build levels.
//
// # How It Works
//
// Levels are produced with Kahn's algorithm:
//  1. Count, for every node, the dependencies not yet placed.
//  2. Every node whose count is zero forms the next level, sorted by ID.
//  3. Placing a level decrements the counts of the nodes that require it.
//  4. Repeat until every node is placed.
//
// Nodes inside one level never depend on each other and may build
// concurrently; levels are barriers. Build-require edges take part in the
// ordering like any other edge, so tools are ready before their consumer
// starts.
//
// If nodes remain when no count is zero the graph holds a cycle, and Order
// fails with a CycleError even though the graph builder should already have
// rejected it.
package buildorder
