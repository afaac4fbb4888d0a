package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is the in-memory view of the permission rule catalog. Lookups run
// against a segment trie rebuilt on rule mutation, never per request. A path
// with no matching rule fails closed at the evaluator.
type Registry struct {
	store RuleStore

	mu     sync.RWMutex
	root   *ruleNode
	byName map[string]PermissionRule
}

type ruleNode struct {
	children map[string]*ruleNode
	wildcard *ruleNode
	rule     *PermissionRule
}

func newRuleNode() *ruleNode {
	return &ruleNode{children: make(map[string]*ruleNode)}
}

// NewRegistry constructs a registry over the given persistent store. Call
// Reload (or EnsureSeed) before serving traffic.
func NewRegistry(store RuleStore) *Registry {
	return &Registry{
		store:  store,
		root:   newRuleNode(),
		byName: make(map[string]PermissionRule),
	}
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func isWildcardSegment(seg string) bool {
	return len(seg) >= 2 && seg[0] == '{' && seg[len(seg)-1] == '}'
}

// Reload replaces the trie with the store's current rule set.
func (r *Registry) Reload(ctx context.Context) error {
	rules, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	root := newRuleNode()
	byName := make(map[string]PermissionRule, len(rules))
	for i := range rules {
		rule := rules[i]
		byName[rule.Name] = rule
		node := root
		for _, seg := range splitPath(rule.Path) {
			if isWildcardSegment(seg) {
				if node.wildcard == nil {
					node.wildcard = newRuleNode()
				}
				node = node.wildcard
				continue
			}
			child, ok := node.children[seg]
			if !ok {
				child = newRuleNode()
				node.children[seg] = child
			}
			node = child
		}
		node.rule = &rule
	}
	r.mu.Lock()
	r.root = root
	r.byName = byName
	r.mu.Unlock()
	return nil
}

// Match returns the most specific rule whose path is a prefix of the request
// path. Specificity is match depth; at equal depth a literal segment beats a
// wildcard, which keeps the result deterministic.
func (r *Registry) Match(path string) (PermissionRule, bool) {
	segs := splitPath(path)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *PermissionRule
	bestDepth := -1
	var walk func(node *ruleNode, depth int)
	walk = func(node *ruleNode, depth int) {
		if node.rule != nil && depth > bestDepth {
			best = node.rule
			bestDepth = depth
		}
		if depth == len(segs) {
			return
		}
		// Literal first so it wins ties against the wildcard branch.
		if child, ok := node.children[segs[depth]]; ok {
			walk(child, depth+1)
		}
		if node.wildcard != nil {
			walk(node.wildcard, depth+1)
		}
	}
	walk(r.root, 0)

	if best == nil {
		return PermissionRule{}, false
	}
	return *best, true
}

// Get returns the rule registered under the given unique name.
func (r *Registry) Get(name string) (PermissionRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.byName[name]
	return rule, ok
}

// Rules returns a name-sorted snapshot of the catalog.
func (r *Registry) Rules() []PermissionRule {
	r.mu.RLock()
	out := make([]PermissionRule, 0, len(r.byName))
	for _, rule := range r.byName {
		out = append(out, rule)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetActive toggles a rule's gate and rebuilds the lookup structure.
func (r *Registry) SetActive(ctx context.Context, name string, active bool) error {
	if name == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidInput)
	}
	if err := r.store.SetActive(ctx, name, active); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return r.Reload(ctx)
}

// EnsureSeed inserts the fixed startup catalog where absent and loads the
// resulting rule set.
func (r *Registry) EnsureSeed(ctx context.Context) error {
	if err := r.store.Ensure(ctx, SeedRules()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return r.Reload(ctx)
}
