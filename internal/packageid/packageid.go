// Package packageid computes the binary compatibility fingerprint of graph
// nodes. Two nodes with the same reference and the same ID may share one
// prebuilt binary.
package packageid

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/vk/pkgplan/internal/buildorder"
	"github.com/vk/pkgplan/internal/depgraph"
	"github.com/vk/pkgplan/internal/ref"
	"github.com/vk/pkgplan/internal/settings"
)

// ID is a package binary fingerprint.
type ID string

// Dep is a computed dependency as seen by its consumers.
type Dep struct {
	Ref ref.Reference
	ID  ID
}

// Deps maps node IDs to their computed dependency record.
type Deps map[int]Dep

// HashFunc turns the canonical input text into an ID.
type HashFunc func([]byte) string

// SHA1 is the default HashFunc.
func SHA1(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// Compute returns the ID of n given the IDs of its dependencies. A nil hash
// selects SHA1.
func Compute(n *depgraph.Node, depIDs Deps, hash HashFunc) ID {
	if hash == nil {
		hash = SHA1
	}
	return ID(hash([]byte(Input(n, depIDs))))
}

// Input renders the canonical text hashed by Compute:
//
//	[settings]
//	build_type=Release
//	[options]
//	shared=False
//	[requires]
//	zlib/1.2.13:<id>
//
// Every section is sorted. Only public, non build-require dependencies are
// listed, without their revision.
func Input(n *depgraph.Node, depIDs Deps) string {
	var sb strings.Builder
	sb.WriteString("[settings]\n")
	writeValues(&sb, n.Settings)
	sb.WriteString("[options]\n")
	writeValues(&sb, n.Options)
	sb.WriteString("[requires]\n")
	for _, line := range requires(n, depIDs) {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func writeValues(sb *strings.Builder, v *settings.Values) {
	if v == nil {
		return
	}
	for _, k := range v.Keys() {
		fmt.Fprintf(sb, "%s=%s\n", k, v.Value(k))
	}
}

func requires(n *depgraph.Node, depIDs Deps) []string {
	var lines []string
	for _, e := range n.Deps {
		if e.Private || e.BuildRequire {
			continue
		}
		d := depIDs[e.From]
		lines = append(lines, fmt.Sprintf("%s:%s", d.Ref.WithoutRevision(), d.ID))
	}
	slices.Sort(lines)
	return slices.Compact(lines)
}

// ComputeAll computes the ID of every non-root node in build order.
func ComputeAll(g *depgraph.Graph, hash HashFunc) (map[int]ID, error) {
	levels, err := buildorder.Order(g)
	if err != nil {
		return nil, err
	}
	deps := make(Deps, g.Len())
	out := make(map[int]ID, g.Len())
	for _, id := range buildorder.Sequence(levels) {
		n, _ := g.Node(id)
		if n.IsRoot() {
			continue
		}
		pid := Compute(n, deps, hash)
		deps[id] = Dep{Ref: n.Ref, ID: pid}
		out[id] = pid
	}
	return out, nil
}
