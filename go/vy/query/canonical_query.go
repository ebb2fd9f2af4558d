/*
Copyright 2026 The Voyager Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package query implements the shape-canonicalization and plan-cache core
// of the query layer: canonical queries and their shape keys, the
// per-collection plan cache and admin-hint store, solution trees with the
// explode-for-sort rewrite, and explain summaries.
package query

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/voyagerdb/voyager/go/vy/matcher"
	"github.com/voyagerdb/voyager/go/vy/verrors"
)

// LiteParsedQuery is the raw query bundle. Immutable after construction.
type LiteParsedQuery struct {
	ns       string
	filter   bson.D
	sort     bson.D
	proj     bson.D
	hint     bson.D
	min      bson.D
	max      bson.D
	skip     int64
	limit    int64
	snapshot bool
}

// NewLiteParsedQuery validates the raw documents and builds the bundle.
func NewLiteParsedQuery(ns string, skip, limit int64, filter, proj, sort, hint, min, max bson.D, snapshot bool) (*LiteParsedQuery, error) {
	if ns == "" {
		return nil, verrors.New(verrors.BadValue, "namespace cannot be empty")
	}
	if skip < 0 {
		return nil, verrors.New(verrors.BadValue, "skip value is negative")
	}
	for _, elt := range sort {
		if elt.Key == "$natural" {
			if _, ok := numericSign(elt.Value); !ok {
				return nil, verrors.New(verrors.BadValue, "$natural sort value must be numeric")
			}
			continue
		}
		if !isValidSortValue(elt.Value) {
			return nil, verrors.Errorf(verrors.BadValue, "bad sort specification for field %s", elt.Key)
		}
	}
	return &LiteParsedQuery{
		ns:       ns,
		filter:   cloneDoc(filter),
		sort:     cloneDoc(sort),
		proj:     cloneDoc(proj),
		hint:     cloneDoc(hint),
		min:      cloneDoc(min),
		max:      cloneDoc(max),
		skip:     skip,
		limit:    limit,
		snapshot: snapshot,
	}, nil
}

// NS returns the namespace the query runs against.
func (pq *LiteParsedQuery) NS() string { return pq.ns }

// Filter returns the raw filter document.
func (pq *LiteParsedQuery) Filter() bson.D { return pq.filter }

// Sort returns the raw sort document.
func (pq *LiteParsedQuery) Sort() bson.D { return pq.sort }

// Projection returns the raw projection document.
func (pq *LiteParsedQuery) Projection() bson.D { return pq.proj }

// Hint returns the raw hint document.
func (pq *LiteParsedQuery) Hint() bson.D { return pq.hint }

// Min returns the raw min document.
func (pq *LiteParsedQuery) Min() bson.D { return pq.min }

// Max returns the raw max document.
func (pq *LiteParsedQuery) Max() bson.D { return pq.max }

// Skip returns the number of documents to skip.
func (pq *LiteParsedQuery) Skip() int64 { return pq.skip }

// Limit returns the number of documents to return, 0 meaning all.
func (pq *LiteParsedQuery) Limit() int64 { return pq.limit }

// Snapshot reports whether the query requested snapshot isolation.
func (pq *LiteParsedQuery) Snapshot() bool { return pq.snapshot }

// CanonicalQuery bundles the parsed query, its normalized predicate tree,
// the parsed projection, and the shape key. Immutable after construction.
type CanonicalQuery struct {
	pq   *LiteParsedQuery
	root *matcher.Expr
	proj *ParsedProjection
	key  ShapeKey
}

// Canonicalize parses, normalizes, validates, and shape-keys a query.
func Canonicalize(ns string, filter, sortDoc, proj bson.D) (*CanonicalQuery, error) {
	pq, err := NewLiteParsedQuery(ns, 0, 0, filter, proj, sortDoc, nil, nil, nil, false)
	if err != nil {
		return nil, err
	}
	return CanonicalizeParsed(pq)
}

// CanonicalizeFilter canonicalizes a bare filter with no sort or
// projection.
func CanonicalizeFilter(ns string, filter bson.D) (*CanonicalQuery, error) {
	return Canonicalize(ns, filter, nil, nil)
}

// CanonicalizeParsed canonicalizes an already-parsed query bundle. The
// bundle's ownership transfers to the returned CanonicalQuery.
func CanonicalizeParsed(pq *LiteParsedQuery) (*CanonicalQuery, error) {
	root, err := matcher.Parse(pq.filter)
	if err != nil {
		return nil, err
	}
	root = NormalizeTree(root)
	SortTree(root)
	if err := CheckValid(root); err != nil {
		return nil, err
	}

	cq := &CanonicalQuery{pq: pq, root: root}
	if len(pq.proj) > 0 {
		proj, err := ParseProjection(pq.proj, root)
		if err != nil {
			return nil, err
		}
		cq.proj = proj
	}
	cq.key = EncodeKey(root, pq.sort, pq.proj)
	return cq, nil
}

// Parsed returns the raw query bundle.
func (cq *CanonicalQuery) Parsed() *LiteParsedQuery { return cq.pq }

// Root returns the normalized predicate tree.
func (cq *CanonicalQuery) Root() *matcher.Expr { return cq.root }

// Projection returns the parsed projection, nil if the query has none.
func (cq *CanonicalQuery) Projection() *ParsedProjection { return cq.proj }

// PlanCacheKey returns the query's shape key.
func (cq *CanonicalQuery) PlanCacheKey() ShapeKey { return cq.key }

// NS returns the namespace the query runs against.
func (cq *CanonicalQuery) NS() string { return cq.pq.ns }

// NormalizeTree flattens AND-in-AND and OR-in-OR, and unwraps logical
// nodes left with a single child. Negations are left alone. The returned
// node replaces root, whose ownership is consumed.
func NormalizeTree(root *matcher.Expr) *matcher.Expr {
	if root.Op != matcher.And && root.Op != matcher.Or {
		return root
	}

	for i, child := range root.Children {
		root.Children[i] = NormalizeTree(child)
	}

	// Splice the children of same-kind children into this node, dropping
	// the wrapper.
	kept := root.Children[:0]
	var absorbed []*matcher.Expr
	for _, child := range root.Children {
		if child.Op == root.Op {
			absorbed = append(absorbed, child.Children...)
			continue
		}
		kept = append(kept, child)
	}
	root.Children = append(kept, absorbed...)

	// AND of one thing is the thing, OR of one thing is the thing.
	if len(root.Children) == 1 {
		return root.Children[0]
	}
	return root
}

// SortTree puts the children of every node into the canonical order:
// match kind first, then path bytes, then the shape encoding of the
// subtree. The tertiary key separates siblings that agree on both, such
// as two OR branches over different fields. Siblings whose subtrees
// differ only in constants encode alike and keep their relative order.
func SortTree(root *matcher.Expr) {
	for _, child := range root.Children {
		SortTree(child)
	}
	if len(root.Children) < 2 {
		return
	}
	keys := make(map[*matcher.Expr]string, len(root.Children))
	for _, child := range root.Children {
		keys[child] = string(encodeTreeKey(child))
	}
	sort.SliceStable(root.Children, func(i, j int) bool {
		a, b := root.Children[i], root.Children[j]
		if a.Op != b.Op {
			return a.Op < b.Op
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return keys[a] < keys[b]
	})
}

// CheckValid enforces the query-legality invariants on a normalized tree.
func CheckValid(root *matcher.Expr) error {
	// There can only be one TEXT. If there is a TEXT, it cannot appear
	// inside a NOR.
	numText := root.CountOp(matcher.Text)
	if numText > 1 {
		return verrors.New(verrors.BadValue, "too many text expressions")
	}
	if numText == 1 && hasOpInSubtree(root, matcher.Text, matcher.Nor) {
		return verrors.New(verrors.BadValue, "text expression not allowed in nor")
	}

	// There can only be one GEO_NEAR, and it must be the root or a direct
	// child of an AND root.
	numGeoNear := root.CountOp(matcher.GeoNear)
	if numGeoNear > 1 {
		return verrors.New(verrors.BadValue, "too many geoNear expressions")
	}
	if numGeoNear == 1 {
		topLevel := root.Op == matcher.GeoNear
		if !topLevel && root.Op == matcher.And {
			for _, child := range root.Children {
				if child.Op == matcher.GeoNear {
					topLevel = true
					break
				}
			}
		}
		if !topLevel {
			return verrors.New(verrors.BadValue, "geoNear must be top-level expr")
		}
	}

	if numText > 0 && numGeoNear > 0 {
		return verrors.New(verrors.BadValue, "text and geoNear not allowed in same query")
	}
	return nil
}

// hasOpInSubtree reports whether any subtree rooted at a node of kind
// subtreeOp contains a node of kind childOp.
func hasOpInSubtree(root *matcher.Expr, childOp, subtreeOp matcher.Op) bool {
	if root.Op == subtreeOp {
		return root.HasOp(childOp)
	}
	for _, child := range root.Children {
		if hasOpInSubtree(child, childOp, subtreeOp) {
			return true
		}
	}
	return false
}

func isValidSortValue(v any) bool {
	if _, ok := numericSign(v); ok {
		return true
	}
	if d, ok := v.(bson.D); ok {
		return len(d) == 1 && d[0].Key == "$meta"
	}
	return false
}

// numericSign returns +1 or -1 for a numeric value, by sign.
func numericSign(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	default:
		return 0, false
	}
	if f >= 0 {
		return 1, true
	}
	return -1, true
}

// cloneDoc returns a copy of a document. Values are shared; documents are
// treated as immutable throughout the query layer.
func cloneDoc(d bson.D) bson.D {
	if d == nil {
		return nil
	}
	return append(bson.D(nil), d...)
}
