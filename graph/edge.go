// Package graph provides the checkpointed workflow engine for Aura.
package graph

// Predicate decides whether an edge is taken for the given state.
// Predicates should be pure: deterministic and side-effect free.
type Predicate[S any] func(state S) bool

// Edge is a directed transition between two nodes. A nil When makes the
// edge unconditional. Edges are evaluated in insertion order; the first
// match wins, and explicit NodeResult routing always takes precedence.
type Edge[S any] struct {
	From string
	To   string
	When Predicate[S]
}
