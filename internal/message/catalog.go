// Package message resolves and formats the customizable notification
// templates.
package message

import (
	"math/rand"

	"github.com/ernie/herald/internal/config"
	"github.com/ernie/herald/internal/domain"
)

// builtins are the hardcoded fallbacks used when neither the player's group
// nor the default group configures a template for a category.
var builtins = map[string]string{
	domain.CategoryJoin:    "<yellow>{player} joined the game</yellow>",
	domain.CategoryLeave:   "<yellow>{player} left the game</yellow>",
	domain.CategoryWelcome: "<green>Welcome, {player}!</green>",
	domain.CategorySwitch:  "<gray>{player} moved from {from} to {to}</gray>",
}

// Catalog holds the configured template tree and answers lookups with the
// group -> default -> builtin fallback chain.
type Catalog struct {
	tree config.MessageTree
	pick func(n int) int // candidate chooser, swappable in tests
}

// NewCatalog builds a catalog over the configured message tree.
func NewCatalog(tree config.MessageTree) *Catalog {
	return &Catalog{tree: tree, pick: rand.Intn}
}

// Resolve returns the template for (group, category, subtype). Lookup order:
// the player's group, then the default group, then the builtin for the
// category. When a slot holds several candidates one is chosen at random.
func (c *Catalog) Resolve(group, category, subtype string) string {
	if tmpl, ok := c.lookup(group, category, subtype); ok {
		return tmpl
	}
	if group != "default" {
		if tmpl, ok := c.lookup("default", category, subtype); ok {
			return tmpl
		}
	}
	return builtins[category]
}

func (c *Catalog) lookup(group, category, subtype string) (string, bool) {
	categories, ok := c.tree[group]
	if !ok {
		return "", false
	}
	subtypes, ok := categories[category]
	if !ok {
		return "", false
	}
	candidates, ok := subtypes[subtype]
	if !ok {
		return "", false
	}
	// Empty strings are unusable entries; the fallback chain continues past
	// a slot holding nothing but blanks.
	usable := candidates[:0:0]
	for _, t := range candidates {
		if t != "" {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return "", false
	}
	if len(usable) == 1 {
		return usable[0], true
	}
	return usable[c.pick(len(usable))], true
}
