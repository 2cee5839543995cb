// Package router resolves a URI against a route table using longest-prefix
// matching with "*" wildcard segments (spec §4.3). The route table is
// pre-compiled into a segment trie at construction time (spec §9's
// recommendation) rather than the source's O(2^n) generate-and-rank scan;
// the trie reproduces the same ranking effect the §8 scenarios pin down:
// depth desc, wildcards asc, declaration order asc.
package router

import (
	"strings"

	"github.com/fnrelay/lambdagate/internal/runtime/configexpr"
	"github.com/fnrelay/lambdagate/internal/templates"
)

const wildcard = "*"

// Defaults mirrors LambdaSpec.defaults (spec §3).
type Defaults struct {
	RequestParams   map[string]any
	ResponseHeaders map[string]string
	ResponseBase64  *bool
}

// AuthSpec mirrors LambdaSpec.auth once compiled. A nil *AuthSpec means
// auth is absent. NonObject is set when the raw configuration was a truthy
// non-object value (spec §4.4's configuration-error case), which the
// Authenticator must still detect and fail at request time.
type AuthSpec struct {
	NonObject     bool
	AllowedFields []string
	Secret        configexpr.Field
	Token         configexpr.Field
	Options       map[string]any
	RequiredRoles []string
	// ForbiddenMessage renders a human-readable message for a role
	// mismatch, templated with {role, claims} (spec supplement: the
	// source's configurable rejection messaging, carried over via the
	// sprig-backed template renderer). Nil falls back to "Forbidden".
	ForbiddenMessage *templates.Template
}

// CacheSpec mirrors LambdaSpec.cache once compiled.
type CacheSpec struct {
	Enabled configexpr.Field
	Key     configexpr.Field
}

// LambdaSpec is the compiled, immutable route table entry (spec §3).
type LambdaSpec struct {
	Name       string
	Version    string
	ParamsOnly bool
	Defaults   Defaults
	Cache      *CacheSpec
	Auth       *AuthSpec
}

type node struct {
	literalChildren map[string]*node
	wildcardChild   *node
	lambda          *LambdaSpec
	pattern         string
	hasLambda       bool
	order           int
}

// Table is the immutable, pre-compiled route trie. It is safe for
// concurrent use without locking once built (spec §5: "RouteTable is
// read-only after construction; no lock needed").
type Table struct {
	root   *node
	routes []RouteInfo
}

// RouteInfo summarizes one compiled route table entry, for /healthz's
// "route table size" and /explain's diagnostics (SPEC_FULL.md §4).
type RouteInfo struct {
	Pattern string
	Lambda  string
}

// NewTable compiles patterns (in declaration order, which breaks ties) into
// a Table. A pattern is an absolute path whose segments are literals or the
// wildcard "*".
func NewTable(patterns []string, lambdas map[string]*LambdaSpec) *Table {
	root := &node{literalChildren: map[string]*node{}}
	routes := make([]RouteInfo, 0, len(patterns))
	for i, pattern := range patterns {
		lambda := lambdas[pattern]
		insert(root, pattern, lambda, i)
		name := ""
		if lambda != nil {
			name = lambda.Name
		}
		routes = append(routes, RouteInfo{Pattern: pattern, Lambda: name})
	}
	return &Table{root: root, routes: routes}
}

// Routes returns every compiled route's pattern and lambda name, in
// declaration order.
func (t *Table) Routes() []RouteInfo {
	if t == nil {
		return nil
	}
	return t.routes
}

// Len reports how many routes the table holds.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

func insert(root *node, pattern string, lambda *LambdaSpec, order int) {
	segments := splitSegments(pattern)
	cur := root
	for _, seg := range segments {
		if seg == wildcard {
			if cur.wildcardChild == nil {
				cur.wildcardChild = &node{literalChildren: map[string]*node{}}
			}
			cur = cur.wildcardChild
			continue
		}
		child, ok := cur.literalChildren[seg]
		if !ok {
			child = &node{literalChildren: map[string]*node{}}
			cur.literalChildren[seg] = child
		}
		cur = child
	}
	cur.lambda = lambda
	cur.pattern = pattern
	cur.hasLambda = true
	cur.order = order
}

func splitSegments(pattern string) []string {
	trimmed := strings.Trim(pattern, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// candidate tracks a matched node along with the depth it was reached at and
// the wildcard count accrued along the way, used to rank per spec §4.3 step
// 3. A route declared with fewer segments than the URI still matches (it
// acts as a prefix covering any deeper sub-path); the longest matching
// prefix wins.
type candidate struct {
	n         *node
	depth     int
	wildcards int
}

// Resolve walks the trie against uri's segments and returns the matching
// LambdaSpec and the pattern that matched, or ok=false if nothing matches.
// Exact root ("/") is handled per spec §4.3 step 1: routes["/"] then
// routes["/*"] then nil. For uri with one or more segments, every node
// along the walk that carries a lambda is a candidate prefix match; the
// deepest one wins, with fewer wildcards and earlier declaration order as
// tie-breaks (spec §4.3 step 3, §9's depth/wildcards/order ranking).
func (t *Table) Resolve(uri string) (spec *LambdaSpec, pattern string, ok bool) {
	segments := splitSegments(uri)
	if len(segments) == 0 {
		if t.root.hasLambda {
			return t.root.lambda, t.root.pattern, true
		}
		if wc := t.root.wildcardChild; wc != nil && wc.hasLambda {
			return wc.lambda, wc.pattern, true
		}
		return nil, "", false
	}

	var best *candidate
	consider := func(n *node, depth, wildcards int) {
		if !n.hasLambda {
			return
		}
		c := candidate{n: n, depth: depth, wildcards: wildcards}
		if best == nil || betterCandidate(c, *best) {
			best = &c
		}
	}

	var walk func(n *node, depth int, wildcards int)
	walk = func(n *node, depth int, wildcards int) {
		if depth > 0 {
			consider(n, depth, wildcards)
		}
		if depth == len(segments) {
			return
		}
		seg := segments[depth]
		if child, ok := n.literalChildren[seg]; ok {
			walk(child, depth+1, wildcards)
		}
		if n.wildcardChild != nil {
			walk(n.wildcardChild, depth+1, wildcards+1)
		}
	}
	walk(t.root, 0, 0)

	if best == nil {
		return nil, "", false
	}
	return best.n.lambda, best.n.pattern, true
}

// betterCandidate ranks c against best by (depth desc, wildcards asc,
// declaration order asc).
func betterCandidate(c, best candidate) bool {
	if c.depth != best.depth {
		return c.depth > best.depth
	}
	if c.wildcards != best.wildcards {
		return c.wildcards < best.wildcards
	}
	return c.n.order < best.n.order
}
