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
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
)

// StageType tags a node of a plan tree or of a stats tree.
type StageType int

// All the stage types.
const (
	StageAndHash StageType = iota
	StageAndSorted
	StageCollScan
	StageFetch
	StageGeo2D
	StageGeoNear2D
	StageGeoNear2DSphere
	StageIXScan
	StageLimit
	StageOr
	StageProjection
	StageShardingFilter
	StageSkip
	StageSort
	StageSortMerge
	StageText
)

func (st StageType) String() string {
	switch st {
	case StageAndHash:
		return "AND_HASH"
	case StageAndSorted:
		return "AND_SORTED"
	case StageCollScan:
		return "COLLSCAN"
	case StageFetch:
		return "FETCH"
	case StageGeo2D:
		return "GEO_2D"
	case StageGeoNear2D:
		return "GEO_NEAR_2D"
	case StageGeoNear2DSphere:
		return "GEO_NEAR_2DSPHERE"
	case StageIXScan:
		return "IXSCAN"
	case StageLimit:
		return "LIMIT"
	case StageOr:
		return "OR"
	case StageProjection:
		return "PROJECTION"
	case StageShardingFilter:
		return "SHARDING_FILTER"
	case StageSkip:
		return "SKIP"
	case StageSort:
		return "SORT"
	case StageSortMerge:
		return "SORT_MERGE"
	case StageText:
		return "TEXT"
	}
	return "UNKNOWN"
}

// Interval is one bound on one indexed field. A point interval has equal,
// inclusive endpoints.
type Interval struct {
	Start          any
	End            any
	StartInclusive bool
	EndInclusive   bool
}

// PointInterval returns the closed interval containing exactly v.
func PointInterval(v any) Interval {
	return Interval{Start: v, End: v, StartInclusive: true, EndInclusive: true}
}

// IsPoint reports whether the interval contains exactly one value.
func (ival Interval) IsPoint() bool {
	return ival.StartInclusive && ival.EndInclusive && reflect.DeepEqual(ival.Start, ival.End)
}

// OrderedIntervalList is the bounds of one indexed field.
type OrderedIntervalList struct {
	Name      string
	Intervals []Interval
}

// IsUnionOfPoints reports whether every interval in the list is a point.
func (oil OrderedIntervalList) IsUnionOfPoints() bool {
	if len(oil.Intervals) == 0 {
		return false
	}
	for _, ival := range oil.Intervals {
		if !ival.IsPoint() {
			return false
		}
	}
	return true
}

// IndexBounds is the full bounds of an index scan: per-field interval
// lists, or a single contiguous [Start, End] range when SimpleRange is
// set.
type IndexBounds struct {
	Fields []OrderedIntervalList

	SimpleRange bool
	Start       bson.D
	End         bson.D
}

// Clone returns a deep copy of the bounds.
func (b *IndexBounds) Clone() *IndexBounds {
	clone := &IndexBounds{
		SimpleRange: b.SimpleRange,
		Start:       cloneDoc(b.Start),
		End:         cloneDoc(b.End),
	}
	clone.Fields = make([]OrderedIntervalList, len(b.Fields))
	for i, oil := range b.Fields {
		clone.Fields[i] = OrderedIntervalList{
			Name:      oil.Name,
			Intervals: append([]Interval(nil), oil.Intervals...),
		}
	}
	return clone
}

// SolutionNode is one node of a plan tree. Children are exclusively owned
// by their parent. Only the payload fields relevant to the stage are set.
type SolutionNode struct {
	Stage    StageType
	Children []*SolutionNode

	// Index scan payload.
	IndexKeyPattern bson.D
	Bounds          *IndexBounds
	Direction       int
	MultiKey        bool
	MaxScan         int64
	AddKeyMetadata  bool

	// Sort and merge-sort payload.
	SortPattern bson.D
	// Limit of a SORT or LIMIT stage, count of a SKIP stage.
	Limit int64
	Skip  int64

	// providedSorts is filled in by ComputeProperties.
	providedSorts []bson.D
}

// Clone returns a deep copy of the subtree. Computed properties are not
// carried over.
func (n *SolutionNode) Clone() *SolutionNode {
	clone := &SolutionNode{
		Stage:           n.Stage,
		IndexKeyPattern: cloneDoc(n.IndexKeyPattern),
		Direction:       n.Direction,
		MultiKey:        n.MultiKey,
		MaxScan:         n.MaxScan,
		AddKeyMetadata:  n.AddKeyMetadata,
		SortPattern:     cloneDoc(n.SortPattern),
		Limit:           n.Limit,
		Skip:            n.Skip,
	}
	if n.Bounds != nil {
		clone.Bounds = n.Bounds.Clone()
	}
	clone.Children = make([]*SolutionNode, len(n.Children))
	for i, child := range n.Children {
		clone.Children[i] = child.Clone()
	}
	return clone
}

// ComputeProperties fills in the sort orders each subtree provides, so
// sort analysis can tell whether an ordering comes for free.
func (n *SolutionNode) ComputeProperties() {
	for _, child := range n.Children {
		child.ComputeProperties()
	}
	n.providedSorts = nil
	switch n.Stage {
	case StageIXScan:
		if n.Bounds != nil && n.Bounds.SimpleRange {
			n.providedSorts = []bson.D{cloneDoc(n.IndexKeyPattern)}
			return
		}
		pattern := n.IndexKeyPattern
		if n.Direction < 0 {
			pattern = reverseSortPattern(pattern)
		}
		n.providedSorts = []bson.D{pattern}
	case StageSort, StageSortMerge:
		n.providedSorts = []bson.D{cloneDoc(n.SortPattern)}
	case StageFetch, StageShardingFilter, StageLimit, StageSkip, StageProjection:
		if len(n.Children) == 1 {
			n.providedSorts = n.Children[0].providedSorts
		}
	}
}

// ProvidedSorts returns the sort orders the subtree supplies. Valid after
// ComputeProperties.
func (n *SolutionNode) ProvidedSorts() []bson.D { return n.providedSorts }

// ProvidesSort reports whether the subtree supplies the given order.
func (n *SolutionNode) ProvidesSort(sortPattern bson.D) bool {
	for _, provided := range n.providedSorts {
		if sortPatternsEqual(provided, sortPattern) {
			return true
		}
	}
	return false
}

// Fetched reports whether the subtree produces whole documents rather
// than index keys.
func (n *SolutionNode) Fetched() bool {
	switch n.Stage {
	case StageCollScan, StageFetch, StageGeoNear2D, StageGeoNear2DSphere, StageText:
		return true
	case StageIXScan:
		return false
	}
	for _, child := range n.Children {
		if !child.Fetched() {
			return false
		}
	}
	return len(n.Children) > 0
}

// ReverseScans flips the direction of every index scan in the subtree.
func ReverseScans(n *SolutionNode) {
	if n.Stage == StageIXScan {
		n.Direction = -n.Direction
	}
	for _, child := range n.Children {
		ReverseScans(child)
	}
}

// reverseSortPattern negates every direction in a sort pattern.
func reverseSortPattern(pattern bson.D) bson.D {
	reversed := make(bson.D, len(pattern))
	for i, elt := range pattern {
		sign, ok := numericSign(elt.Value)
		if !ok {
			reversed[i] = elt
			continue
		}
		reversed[i] = bson.E{Key: elt.Key, Value: int32(-sign)}
	}
	return reversed
}

// sortPatternsEqual compares sort patterns by field name and direction
// sign, ignoring the numeric type of the direction.
func sortPatternsEqual(a, b bson.D) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key {
			return false
		}
		asign, aok := numericSign(a[i].Value)
		bsign, bok := numericSign(b[i].Value)
		if !aok || !bok || asign != bsign {
			return false
		}
	}
	return true
}
