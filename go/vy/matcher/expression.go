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

// Package matcher implements the match-expression grammar: parsing a
// filter document into a predicate tree. The tree is a tagged union; a
// node's payload fields are meaningful only for its Op. Nodes are
// exclusively owned by their parent, the root by whoever parsed it.
package matcher

import (
	"fmt"
	"reflect"
	"strings"
)

// Op is the match kind of a predicate node. The declaration order is the
// canonical order: sibling sorting uses the numeric value as its primary
// key, so appending new kinds is fine but reordering is not.
type Op int

// All the match kinds.
const (
	And Op = iota
	Or
	Nor
	Not
	ElemMatchObject
	ElemMatchValue
	Size
	All
	LTE
	LT
	EQ
	GT
	GTE
	Regex
	Mod
	Exists
	In
	NotIn
	Type
	Geo
	GeoNear
	Text
	Where
	Atomic
	AlwaysFalse
)

var opNames = map[Op]string{
	And:             "$and",
	Or:              "$or",
	Nor:             "$nor",
	Not:             "$not",
	ElemMatchObject: "$elemMatch (obj)",
	ElemMatchValue:  "$elemMatch (value)",
	Size:            "$size",
	All:             "$all",
	LTE:             "$lte",
	LT:              "$lt",
	EQ:              "$eq",
	GT:              "$gt",
	GTE:             "$gte",
	Regex:           "$regex",
	Mod:             "$mod",
	Exists:          "$exists",
	In:              "$in",
	NotIn:           "$nin",
	Type:            "$type",
	Geo:             "$geo",
	GeoNear:         "$geoNear",
	Text:            "$text",
	Where:           "$where",
	Atomic:          "$atomic",
	AlwaysFalse:     "$alwaysFalse",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// Expr is one predicate node. Only the fields relevant to Op are set.
type Expr struct {
	Op       Op
	Path     string
	Children []*Expr

	// Value is the comparison literal for EQ/LT/LTE/GT/GTE.
	Value any
	// List holds the elements of $in/$nin/$all and the [divisor,
	// remainder] pair of $mod.
	List []any
	// Pattern and Options describe a $regex.
	Pattern string
	Options string
	// ExistsVal is the argument of $exists.
	ExistsVal bool
	// TypeCode is the argument of $type.
	TypeCode int32
	// SizeVal is the argument of $size.
	SizeVal int32
	// Search is the $search string of $text.
	Search string
	// GeoPayload is the raw argument of $geo*/$near operators: a document
	// or a legacy coordinate array. Treated as immutable.
	GeoPayload any
	// Code is the javascript of $where.
	Code string
}

// NewLogical returns a logical node owning the given children.
func NewLogical(op Op, children ...*Expr) *Expr {
	return &Expr{Op: op, Children: children}
}

// NewComparison returns a comparison node.
func NewComparison(op Op, path string, value any) *Expr {
	return &Expr{Op: op, Path: path, Value: value}
}

// Clone returns a deep copy of the subtree rooted at e.
func (e *Expr) Clone() *Expr {
	c := *e
	c.Children = make([]*Expr, len(e.Children))
	for i, child := range e.Children {
		c.Children[i] = child.Clone()
	}
	if e.List != nil {
		c.List = append([]any(nil), e.List...)
	}
	return &c
}

// Equal reports deep structural equality, payloads included.
func (e *Expr) Equal(other *Expr) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.Op != other.Op || e.Path != other.Path || len(e.Children) != len(other.Children) {
		return false
	}
	if !reflect.DeepEqual(e.Value, other.Value) ||
		!reflect.DeepEqual(e.List, other.List) ||
		e.Pattern != other.Pattern || e.Options != other.Options ||
		e.ExistsVal != other.ExistsVal || e.TypeCode != other.TypeCode ||
		e.SizeVal != other.SizeVal || e.Search != other.Search ||
		!reflect.DeepEqual(e.GeoPayload, other.GeoPayload) || e.Code != other.Code {
		return false
	}
	for i := range e.Children {
		if !e.Children[i].Equal(other.Children[i]) {
			return false
		}
	}
	return true
}

// CountOp returns the number of nodes of the given kind in the subtree.
func (e *Expr) CountOp(op Op) int {
	n := 0
	if e.Op == op {
		n = 1
	}
	for _, child := range e.Children {
		n += child.CountOp(op)
	}
	return n
}

// HasOp reports whether the subtree contains a node of the given kind.
func (e *Expr) HasOp(op Op) bool {
	if e.Op == op {
		return true
	}
	for _, child := range e.Children {
		if child.HasOp(op) {
			return true
		}
	}
	return false
}

// String renders the tree one node per line, children indented, for
// debugging output.
func (e *Expr) String() string {
	var sb strings.Builder
	e.debugString(&sb, 0)
	return sb.String()
}

func (e *Expr) debugString(sb *strings.Builder, indent int) {
	sb.WriteString(strings.Repeat("  ", indent))
	sb.WriteString(e.Op.String())
	if e.Path != "" {
		fmt.Fprintf(sb, " %s", e.Path)
	}
	switch e.Op {
	case EQ, LT, LTE, GT, GTE:
		fmt.Fprintf(sb, " %v", e.Value)
	case In, NotIn, All, Mod:
		fmt.Fprintf(sb, " %v", e.List)
	case Regex:
		fmt.Fprintf(sb, " /%s/%s", e.Pattern, e.Options)
	case Exists:
		fmt.Fprintf(sb, " %v", e.ExistsVal)
	case Type:
		fmt.Fprintf(sb, " %d", e.TypeCode)
	case Size:
		fmt.Fprintf(sb, " %d", e.SizeVal)
	case Text:
		fmt.Fprintf(sb, " %q", e.Search)
	}
	sb.WriteByte('\n')
	for _, child := range e.Children {
		child.debugString(sb, indent+1)
	}
}
