// Package groups resolves which message group a player belongs to, based on
// permission nodes and configured priorities.
package groups

import "sort"

// DefaultGroup is the group every player belongs to. It needs no permission
// node and always sits at priority 0.
const DefaultGroup = "default"

// nodePrefix is prepended to a group name to form its permission node,
// e.g. group "vip" requires "herald.group.vip".
const nodePrefix = "herald.group."

// Resolver picks the highest-priority group a player qualifies for.
type Resolver struct {
	priorities map[string]int
}

// NewResolver builds a resolver from the configured priority table. The
// default group is forced to priority 0 regardless of configuration.
func NewResolver(priorities map[string]int) *Resolver {
	p := make(map[string]int, len(priorities)+1)
	for name, prio := range priorities {
		p[name] = prio
	}
	p[DefaultGroup] = 0
	return &Resolver{priorities: p}
}

// Node returns the permission node guarding membership in a group.
func Node(group string) string {
	return nodePrefix + group
}

// Resolve returns the qualifying group with the strictly highest priority.
// The default group always qualifies, so the result is never empty. Ties at
// the top keep whichever qualified first in iteration order; configure
// distinct priorities to make the outcome deterministic.
func (r *Resolver) Resolve(hasPermission func(node string) bool) string {
	best := DefaultGroup
	bestPriority := 0

	// Sorted iteration keeps repeat resolutions for the same player stable
	// within one process run.
	names := make([]string, 0, len(r.priorities))
	for name := range r.priorities {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == DefaultGroup {
			continue
		}
		if r.priorities[name] > bestPriority && hasPermission(Node(name)) {
			best = name
			bestPriority = r.priorities[name]
		}
	}
	return best
}

// Known reports whether the group name appears in the priority table.
func (r *Resolver) Known(group string) bool {
	_, ok := r.priorities[group]
	return ok
}
