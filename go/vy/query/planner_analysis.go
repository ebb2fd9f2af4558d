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

	"github.com/voyagerdb/voyager/go/vy/log"
)

// maxScansToExplode bounds the fan-out of the explode-for-sort rewrite.
// Past this, the merge-sort of many tiny scans costs more than it saves.
const maxScansToExplode = 50

// ExplodeForSort rewrites a plan whose index scans cover the desired sort
// behind point-interval prefixes into a merge-sort of one narrower scan
// per point combination, so the ordering comes without a blocking sort.
// On any ineligibility it returns the tree untouched and false.
func ExplodeForSort(desiredSort bson.D, root *SolutionNode) (*SolutionNode, bool) {
	if !structureOKForExplode(root) {
		return root, false
	}

	var leaves []*SolutionNode
	collectLeafNodes(root, &leaves)

	// The value of entry i is how many leading fields of leaves[i] we
	// blow up into points.
	fieldsToExplode := make([]int, 0, len(leaves))
	totalNumScans := 0

	for _, scan := range leaves {
		bounds := scan.Bounds

		// A simple range has no per-field intervals to enumerate.
		if bounds == nil || bounds.SimpleRange {
			return root, false
		}

		// Skip every leading field that is a union of point intervals.
		numScans := 1
		pointFields := 0
		for ; pointFields < len(scan.IndexKeyPattern) && pointFields < len(bounds.Fields); pointFields++ {
			oil := bounds.Fields[pointFields]
			if !oil.IsUnionOfPoints() {
				break
			}
			numScans *= len(oil.Intervals)
		}

		// No sort order left to gain by exploding.
		if pointFields == len(scan.IndexKeyPattern) {
			return root, false
		}

		// The remaining fields are the order the exploded scans provide.
		// It has to be exactly the one requested.
		suffix := scan.IndexKeyPattern[pointFields:]
		if !sortSuffixMatches(suffix, desiredSort) {
			return root, false
		}

		totalNumScans += numScans
		fieldsToExplode = append(fieldsToExplode, pointFields)
	}

	// Too many index scans spoil the performance.
	if totalNumScans > maxScansToExplode {
		log.V(2).Infof("refusing to explode for sort: %d scans exceeds the limit of %d",
			totalNumScans, maxScansToExplode)
		return root, false
	}

	for i, scan := range leaves {
		exploded := explodeScan(scan, desiredSort, fieldsToExplode[i])
		root = replaceNodeInTree(root, scan, exploded)
	}
	return root, true
}

// structureOKForExplode accepts only shapes where the rewrite is a sure
// bet: a bare index scan, or a fetch directly over one.
func structureOKForExplode(root *SolutionNode) bool {
	if root.Stage == StageIXScan {
		return true
	}
	if root.Stage == StageFetch && len(root.Children) == 1 {
		return root.Children[0].Stage == StageIXScan
	}
	return false
}

func collectLeafNodes(n *SolutionNode, leaves *[]*SolutionNode) {
	if len(n.Children) == 0 {
		*leaves = append(*leaves, n)
		return
	}
	for _, child := range n.Children {
		collectLeafNodes(child, leaves)
	}
}

// sortSuffixMatches compares the tail of an index key pattern against the
// desired sort: same fields, same order, same directions.
func sortSuffixMatches(suffix bson.D, desiredSort bson.D) bool {
	return sortPatternsEqual(suffix, desiredSort)
}

// makeCartesianProduct enumerates every combination of the first
// fieldsToExplode fields' point intervals, preserving field order.
func makeCartesianProduct(bounds *IndexBounds, fieldsToExplode int) [][]Interval {
	prefixes := make([][]Interval, 0, len(bounds.Fields[0].Intervals))
	for _, ival := range bounds.Fields[0].Intervals {
		prefixes = append(prefixes, []Interval{ival})
	}

	for i := 1; i < fieldsToExplode; i++ {
		var next [][]Interval
		for _, ival := range bounds.Fields[i].Intervals {
			for _, prefix := range prefixes {
				widened := make([]Interval, len(prefix), len(prefix)+1)
				copy(widened, prefix)
				next = append(next, append(widened, ival))
			}
		}
		prefixes = next
	}
	return prefixes
}

// explodeScan turns one index scan into a merge-sort of clones, one per
// point-prefix combination, each pinned to a single point on the exploded
// fields and carrying the original bounds on the rest.
func explodeScan(scan *SolutionNode, desiredSort bson.D, fieldsToExplode int) *SolutionNode {
	merge := &SolutionNode{
		Stage:       StageSortMerge,
		SortPattern: cloneDoc(desiredSort),
	}

	for _, prefix := range makeCartesianProduct(scan.Bounds, fieldsToExplode) {
		child := &SolutionNode{
			Stage:           StageIXScan,
			IndexKeyPattern: cloneDoc(scan.IndexKeyPattern),
			Direction:       scan.Direction,
			MultiKey:        scan.MultiKey,
			MaxScan:         scan.MaxScan,
			AddKeyMetadata:  scan.AddKeyMetadata,
			Bounds:          &IndexBounds{Fields: make([]OrderedIntervalList, len(scan.Bounds.Fields))},
		}
		for j := 0; j < fieldsToExplode; j++ {
			child.Bounds.Fields[j] = OrderedIntervalList{
				Name:      scan.Bounds.Fields[j].Name,
				Intervals: []Interval{prefix[j]},
			}
		}
		for j := fieldsToExplode; j < len(scan.Bounds.Fields); j++ {
			oil := scan.Bounds.Fields[j]
			child.Bounds.Fields[j] = OrderedIntervalList{
				Name:      oil.Name,
				Intervals: append([]Interval(nil), oil.Intervals...),
			}
		}
		merge.Children = append(merge.Children, child)
	}

	merge.ComputeProperties()
	return merge
}

// replaceNodeInTree substitutes newNode for oldNode and returns the
// possibly-new root.
func replaceNodeInTree(root, oldNode, newNode *SolutionNode) *SolutionNode {
	if root == oldNode {
		return newNode
	}
	for i, child := range root.Children {
		root.Children[i] = replaceNodeInTree(child, oldNode, newNode)
	}
	return root
}

// AnalyzeSort decorates a plan so it satisfies the query's sort order,
// preferring orders the tree already provides, then reversed scans, then
// the explode-for-sort rewrite, and only then a blocking sort stage.
// It reports whether a blocking sort was added.
func AnalyzeSort(cq *CanonicalQuery, root *SolutionNode) (*SolutionNode, bool) {
	sortPattern := cq.Parsed().Sort()
	if len(sortPattern) == 0 {
		return root, false
	}

	// A $natural sort is the collection order; the caller is expected to
	// have produced a collection scan already.
	for _, elt := range sortPattern {
		if elt.Key == "$natural" {
			return root, false
		}
	}

	root.ComputeProperties()
	if root.ProvidesSort(sortPattern) {
		return root, false
	}

	if root.ProvidesSort(reverseSortPattern(sortPattern)) {
		ReverseScans(root)
		root.ComputeProperties()
		return root, false
	}

	if exploded, ok := ExplodeForSort(sortPattern, root); ok {
		return exploded, false
	}

	// A blocking sort needs the whole document.
	if !root.Fetched() {
		root = &SolutionNode{Stage: StageFetch, Children: []*SolutionNode{root}}
	}
	sortNode := &SolutionNode{
		Stage:       StageSort,
		SortPattern: cloneDoc(sortPattern),
		Children:    []*SolutionNode{root},
	}
	// The sort must hold limit+skip items so a downstream skip stage can
	// discard the first skip of them.
	if limit := cq.Parsed().Limit(); limit != 0 {
		sortNode.Limit = limit + cq.Parsed().Skip()
	}
	return sortNode, true
}
