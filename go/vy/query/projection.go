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

package query

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/voyagerdb/voyager/go/vy/matcher"
	"github.com/voyagerdb/voyager/go/vy/verrors"
)

// ParsedProjection is a projection analyzed against the predicate it will
// run with. Immutable after construction.
type ParsedProjection struct {
	proj             bson.D
	requiresDocument bool
	requiredFields   []string
	wantTextScore    bool
}

// ParseProjection validates a projection document against the normalized
// predicate root.
func ParseProjection(proj bson.D, root *matcher.Expr) (*ParsedProjection, error) {
	pp := &ParsedProjection{proj: cloneDoc(proj)}

	includes := 0
	excludes := 0
	for _, elt := range proj {
		switch v := elt.Value.(type) {
		case bson.D:
			if err := pp.parseOperator(elt.Key, v, root); err != nil {
				return nil, err
			}
		case bson.A:
			return nil, verrors.Errorf(verrors.BadValue, "projection value for %s cannot be an array", elt.Key)
		default:
			if truthyValue(elt.Value) {
				includes++
				pp.requiredFields = append(pp.requiredFields, elt.Key)
			} else if elt.Key != "_id" {
				// Excluding _id is allowed alongside inclusions.
				excludes++
			}
		}
	}

	if includes > 0 && excludes > 0 {
		return nil, verrors.New(verrors.BadValue, "cannot mix including and excluding fields")
	}
	if includes == 0 {
		// A pure exclusion projection needs the whole document.
		pp.requiresDocument = true
		pp.requiredFields = nil
	}
	return pp, nil
}

func (pp *ParsedProjection) parseOperator(field string, doc bson.D, root *matcher.Expr) error {
	if len(doc) == 0 {
		return verrors.Errorf(verrors.BadValue, "empty projection operator for %s", field)
	}
	for _, elt := range doc {
		switch elt.Key {
		case "$meta":
			s, ok := elt.Value.(string)
			if !ok {
				return verrors.New(verrors.BadValue, "$meta requires a string argument")
			}
			if s != "textScore" {
				return verrors.Errorf(verrors.BadValue, "unsupported $meta: %s", s)
			}
			if !root.HasOp(matcher.Text) {
				return verrors.New(verrors.BadValue, "$meta text score requires a text predicate")
			}
			pp.wantTextScore = true
		case "$slice":
			if !isValidSlice(elt.Value) {
				return verrors.New(verrors.BadValue, "$slice takes a number or a [skip, limit] array")
			}
			pp.requiresDocument = true
		case "$elemMatch":
			sub, ok := elt.Value.(bson.D)
			if !ok {
				return verrors.New(verrors.BadValue, "$elemMatch projection requires an object")
			}
			if _, err := matcher.Parse(sub); err != nil {
				return err
			}
			pp.requiresDocument = true
		default:
			return verrors.Errorf(verrors.BadValue, "unsupported projection operator: %s", elt.Key)
		}
	}
	return nil
}

// Projection returns the raw projection document.
func (pp *ParsedProjection) Projection() bson.D { return pp.proj }

// RequiresDocument reports whether the projection needs the full document
// rather than index keys alone.
func (pp *ParsedProjection) RequiresDocument() bool { return pp.requiresDocument }

// RequiredFields returns the fields an inclusion projection extracts.
// Only meaningful when RequiresDocument is false.
func (pp *ParsedProjection) RequiredFields() []string { return pp.requiredFields }

// WantTextScore reports whether the projection asks for the text score.
func (pp *ParsedProjection) WantTextScore() bool { return pp.wantTextScore }

func isValidSlice(v any) bool {
	if _, ok := toInt64(v); ok {
		return true
	}
	arr, ok := v.(bson.A)
	if !ok || len(arr) != 2 {
		return false
	}
	for _, item := range arr {
		if _, ok := toInt64(item); !ok {
			return false
		}
	}
	return true
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
