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
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/voyagerdb/voyager/go/vy/matcher"
)

// ShapeKey identifies a query shape. It is an opaque byte sequence;
// equality and ordering are byte compares. Two queries whose optimal plan
// is expected to coincide encode to the same key.
type ShapeKey string

// opTags is the fixed two-character tag table of the tree encoding.
// Adding a kind means adding a tag; existing tags never change, so keys
// stay stable across processes and versions.
var opTags = map[matcher.Op]string{
	matcher.And:             "an",
	matcher.Or:              "or",
	matcher.Nor:             "nr",
	matcher.Not:             "nt",
	matcher.ElemMatchObject: "eo",
	matcher.ElemMatchValue:  "ev",
	matcher.Size:            "sz",
	matcher.All:             "al",
	matcher.LTE:             "le",
	matcher.LT:              "lt",
	matcher.EQ:              "eq",
	matcher.GT:              "gt",
	matcher.GTE:             "ge",
	matcher.Regex:           "re",
	matcher.Mod:             "mo",
	matcher.Exists:          "ex",
	matcher.In:              "in",
	matcher.NotIn:           "ni",
	matcher.Type:            "ty",
	matcher.Geo:             "go",
	matcher.GeoNear:         "gn",
	matcher.Text:            "te",
	matcher.Where:           "wh",
	matcher.Atomic:          "at",
	matcher.AlwaysFalse:     "af",
}

// EncodeKey builds the shape key for a normalized tree plus the raw sort
// and projection documents. The encoding is purely structural: payloads
// such as comparison literals are left out, so queries differing only in
// a constant share a shape.
func EncodeKey(root *matcher.Expr, sortDoc, proj bson.D) ShapeKey {
	var buf bytes.Buffer
	encodeTree(&buf, root)
	encodeSort(&buf, sortDoc)
	encodeProjection(&buf, proj)
	return ShapeKey(buf.String())
}

// encodeTreeKey encodes just the tree portion. Sibling ordering uses it
// as the tie-breaking sort key.
func encodeTreeKey(root *matcher.Expr) []byte {
	var buf bytes.Buffer
	encodeTree(&buf, root)
	return buf.Bytes()
}

func encodeTree(buf *bytes.Buffer, e *matcher.Expr) {
	tag, ok := opTags[e.Op]
	if !ok {
		panic(fmt.Sprintf("no shape tag for match kind %v", e.Op))
	}
	buf.WriteString(tag)
	buf.WriteString(e.Path)
	for _, child := range e.Children {
		encodeTree(buf, child)
	}
}

func encodeSort(buf *bytes.Buffer, sortDoc bson.D) {
	for _, elt := range sortDoc {
		switch {
		case isTextScoreMeta(elt.Value):
			buf.WriteByte('t')
		case isAscending(elt.Value):
			buf.WriteByte('a')
		default:
			buf.WriteByte('d')
		}
		buf.WriteString(elt.Key)
	}
}

func encodeProjection(buf *bytes.Buffer, proj bson.D) {
	if len(proj) == 0 {
		return
	}
	buf.WriteByte('p')
	for _, elt := range proj {
		if _, ok := elt.Value.(string); ok {
			// A bare string includes the field like any other true value.
			buf.WriteByte('1')
		} else {
			encodeProjectionValue(buf, elt.Value)
		}
		buf.WriteString(elt.Key)
	}
}

// encodeProjectionValue writes the canonical form of a projection value.
// Scalars collapse to inclusion/exclusion so equivalent projections
// agree; operator documents keep their structure so $meta, $slice, and
// $elemMatch forms diverge.
func encodeProjectionValue(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case bson.D:
		buf.WriteByte('{')
		for _, elt := range t {
			buf.WriteString(elt.Key)
			buf.WriteByte(':')
			encodeProjectionValue(buf, elt.Value)
		}
		buf.WriteByte('}')
	case bson.A:
		buf.WriteByte('[')
		for _, item := range t {
			encodeProjectionValue(buf, item)
		}
		buf.WriteByte(']')
	case string:
		buf.WriteString(t)
	default:
		if truthyValue(v) {
			buf.WriteByte('1')
		} else {
			buf.WriteByte('0')
		}
	}
}

func isTextScoreMeta(v any) bool {
	d, ok := v.(bson.D)
	if !ok || len(d) != 1 || d[0].Key != "$meta" {
		return false
	}
	s, ok := d[0].Value.(string)
	return ok && s == "textScore"
}

func isAscending(v any) bool {
	switch t := v.(type) {
	case int32:
		return t == 1
	case int64:
		return t == 1
	case float64:
		return t == 1
	}
	return false
}

func truthyValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int32:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case nil:
		return false
	}
	return true
}

// QueryHash condenses a shape key into a fixed-width hex token for logs
// and diagnostics.
func QueryHash(key ShapeKey) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(string(key)))
}
