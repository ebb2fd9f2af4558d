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

package matcher

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/voyagerdb/voyager/go/vy/verrors"
)

// Parse builds a predicate tree from a filter document. The returned root
// is always an AND node; normalization unwraps singletons later. Ownership
// of the tree transfers to the caller.
func Parse(filter bson.D) (*Expr, error) {
	root := &Expr{Op: And}
	for _, elt := range filter {
		if strings.HasPrefix(elt.Key, "$") {
			children, err := parseTopLevelOperator(elt.Key, elt.Value)
			if err != nil {
				return nil, err
			}
			root.Children = append(root.Children, children...)
			continue
		}
		children, err := parsePathElement(elt.Key, elt.Value)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, children...)
	}
	return root, nil
}

func parseTopLevelOperator(name string, value any) ([]*Expr, error) {
	switch name {
	case "$and", "$or", "$nor":
		op := And
		switch name {
		case "$or":
			op = Or
		case "$nor":
			op = Nor
		}
		node, err := parseLogical(op, name, value)
		if err != nil {
			return nil, err
		}
		return []*Expr{node}, nil
	case "$text":
		node, err := parseText(value)
		if err != nil {
			return nil, err
		}
		return []*Expr{node}, nil
	case "$where":
		code, ok := whereCode(value)
		if !ok {
			return nil, verrors.New(verrors.BadValue, "$where requires a string or code argument")
		}
		return []*Expr{{Op: Where, Code: code}}, nil
	case "$atomic", "$isolated":
		return []*Expr{{Op: Atomic}}, nil
	case "$comment":
		// Annotation only; no predicate.
		return nil, nil
	}
	return nil, verrors.Errorf(verrors.BadValue, "unknown top level operator: %s", name)
}

func parseLogical(op Op, name string, value any) (*Expr, error) {
	arr, ok := value.(bson.A)
	if !ok {
		return nil, verrors.Errorf(verrors.BadValue, "%s must be an array", name)
	}
	if len(arr) == 0 {
		return nil, verrors.Errorf(verrors.BadValue, "%s must be a nonempty array", name)
	}
	node := &Expr{Op: op}
	for _, item := range arr {
		doc, ok := item.(bson.D)
		if !ok {
			return nil, verrors.Errorf(verrors.BadValue, "%s entries must be objects", name)
		}
		child, err := Parse(doc)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func parseText(value any) (*Expr, error) {
	doc, ok := value.(bson.D)
	if !ok {
		return nil, verrors.New(verrors.BadValue, "$text requires an object argument")
	}
	for _, elt := range doc {
		switch elt.Key {
		case "$search":
			search, ok := elt.Value.(string)
			if !ok {
				return nil, verrors.New(verrors.BadValue, "$search requires a string argument")
			}
			return &Expr{Op: Text, Search: search}, nil
		case "$language":
			// Accepted, not part of the predicate shape.
		default:
			return nil, verrors.Errorf(verrors.BadValue, "unknown $text option: %s", elt.Key)
		}
	}
	return nil, verrors.New(verrors.BadValue, "$text requires a $search field")
}

// parsePathElement handles one "path: value" entry of a filter document.
// It may produce multiple nodes, e.g. {a: {$gt: 1, $lt: 5}}.
func parsePathElement(path string, value any) ([]*Expr, error) {
	switch v := value.(type) {
	case primitive.Regex:
		return []*Expr{{Op: Regex, Path: path, Pattern: v.Pattern, Options: v.Options}}, nil
	case bson.D:
		if len(v) > 0 && strings.HasPrefix(v[0].Key, "$") {
			return parseOperatorDoc(path, v)
		}
		// Literal sub-document equality.
		return []*Expr{NewComparison(EQ, path, v)}, nil
	default:
		return []*Expr{NewComparison(EQ, path, value)}, nil
	}
}

// parseOperatorDoc parses {path: {$op: arg, ...}}. $regex and $options are
// paired across the document before the main loop.
func parseOperatorDoc(path string, doc bson.D) ([]*Expr, error) {
	var pattern, options string
	var havePattern, haveOptions bool
	for _, elt := range doc {
		switch elt.Key {
		case "$regex":
			switch rv := elt.Value.(type) {
			case string:
				pattern = rv
			case primitive.Regex:
				pattern = rv.Pattern
				if options == "" {
					options = rv.Options
				}
			default:
				return nil, verrors.New(verrors.BadValue, "$regex has to be a string")
			}
			havePattern = true
		case "$options":
			s, ok := elt.Value.(string)
			if !ok {
				return nil, verrors.New(verrors.BadValue, "$options has to be a string")
			}
			options = s
			haveOptions = true
		}
	}
	if haveOptions && !havePattern {
		return nil, verrors.New(verrors.BadValue, "$options needs a $regex")
	}

	var out []*Expr
	if havePattern {
		out = append(out, &Expr{Op: Regex, Path: path, Pattern: pattern, Options: options})
	}

	for _, elt := range doc {
		if !strings.HasPrefix(elt.Key, "$") {
			return nil, verrors.Errorf(verrors.BadValue, "unknown operator: %s", elt.Key)
		}
		switch elt.Key {
		case "$regex", "$options":
			// Handled above.
			continue
		}
		node, err := parseSubOperator(path, elt.Key, elt.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

func parseSubOperator(path, name string, value any) (*Expr, error) {
	switch name {
	case "$eq":
		return NewComparison(EQ, path, value), nil
	case "$lt":
		return NewComparison(LT, path, value), nil
	case "$lte":
		return NewComparison(LTE, path, value), nil
	case "$gt":
		return NewComparison(GT, path, value), nil
	case "$gte":
		return NewComparison(GTE, path, value), nil
	case "$in", "$nin":
		arr, ok := value.(bson.A)
		if !ok {
			return nil, verrors.Errorf(verrors.BadValue, "%s needs an array", name)
		}
		op := In
		if name == "$nin" {
			op = NotIn
		}
		return &Expr{Op: op, Path: path, List: append([]any(nil), arr...)}, nil
	case "$all":
		arr, ok := value.(bson.A)
		if !ok {
			return nil, verrors.New(verrors.BadValue, "$all needs an array")
		}
		return &Expr{Op: All, Path: path, List: append([]any(nil), arr...)}, nil
	case "$not":
		return parseNot(path, value)
	case "$exists":
		return &Expr{Op: Exists, Path: path, ExistsVal: truthy(value)}, nil
	case "$type":
		code, ok := toInt32(value)
		if !ok {
			return nil, verrors.New(verrors.BadValue, "$type has to be a number")
		}
		return &Expr{Op: Type, Path: path, TypeCode: code}, nil
	case "$size":
		size, ok := toInt32(value)
		if !ok {
			return nil, verrors.New(verrors.BadValue, "$size has to be a number")
		}
		return &Expr{Op: Size, Path: path, SizeVal: size}, nil
	case "$mod":
		arr, ok := value.(bson.A)
		if !ok || len(arr) != 2 {
			return nil, verrors.New(verrors.BadValue, "$mod needs a two-element array")
		}
		for _, item := range arr {
			if _, ok := toInt32(item); !ok {
				return nil, verrors.New(verrors.BadValue, "$mod entries have to be numbers")
			}
		}
		return &Expr{Op: Mod, Path: path, List: append([]any(nil), arr...)}, nil
	case "$elemMatch":
		return parseElemMatch(path, value)
	case "$near", "$nearSphere", "$geoNear":
		return &Expr{Op: GeoNear, Path: path, GeoPayload: value}, nil
	case "$geoWithin", "$geoIntersects", "$within":
		return &Expr{Op: Geo, Path: path, GeoPayload: value}, nil
	}
	return nil, verrors.Errorf(verrors.BadValue, "unknown operator: %s", name)
}

func parseNot(path string, value any) (*Expr, error) {
	switch v := value.(type) {
	case primitive.Regex:
		child := &Expr{Op: Regex, Path: path, Pattern: v.Pattern, Options: v.Options}
		return &Expr{Op: Not, Path: path, Children: []*Expr{child}}, nil
	case bson.D:
		if len(v) == 0 {
			return nil, verrors.New(verrors.BadValue, "$not cannot be empty")
		}
		children, err := parseOperatorDoc(path, v)
		if err != nil {
			return nil, err
		}
		child := children[0]
		if len(children) > 1 {
			child = NewLogical(And, children...)
		}
		return &Expr{Op: Not, Path: path, Children: []*Expr{child}}, nil
	}
	return nil, verrors.New(verrors.BadValue, "$not needs a regex or a document")
}

func parseElemMatch(path string, value any) (*Expr, error) {
	doc, ok := value.(bson.D)
	if !ok {
		return nil, verrors.New(verrors.BadValue, "$elemMatch needs an object")
	}
	// Operator form matches the element itself; object form matches
	// fields of the element.
	if len(doc) > 0 && strings.HasPrefix(doc[0].Key, "$") {
		children, err := parseOperatorDoc("", doc)
		if err != nil {
			return nil, err
		}
		return &Expr{Op: ElemMatchValue, Path: path, Children: children}, nil
	}
	child, err := Parse(doc)
	if err != nil {
		return nil, err
	}
	return &Expr{Op: ElemMatchObject, Path: path, Children: []*Expr{child}}, nil
}

func whereCode(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case primitive.JavaScript:
		return string(v), true
	}
	return "", false
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case int32:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case nil:
		return false
	}
	return true
}

func toInt32(value any) (int32, bool) {
	switch v := value.(type) {
	case int32:
		return v, true
	case int64:
		return int32(v), true
	case float64:
		if v == float64(int32(v)) {
			return int32(v), true
		}
	}
	return 0, false
}
