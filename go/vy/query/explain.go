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
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/voyagerdb/voyager/go/vy/verrors"
)

// CommonStats are the counters every stage keeps.
type CommonStats struct {
	Works       int64
	Yields      int64
	Unyields    int64
	Invalidates int64
	Advanced    int64
	NeedTime    int64
	NeedFetch   int64
	IsEOF       bool
}

// Per-stage statistics payloads. A StageStats carries at most one,
// matching its stage type.

// CollScanStats are the COLLSCAN-specific counters.
type CollScanStats struct {
	DocsTested int64
}

// IXScanStats are the IXSCAN-specific counters.
type IXScanStats struct {
	IndexType        string
	IndexName        string
	KeyPattern       bson.D
	BoundsDesc       string
	Direction        int
	MultiKey         bool
	YieldMovedCursor int64
	DupsTested       int64
	DupsDropped      int64
	SeenInvalidated  int64
	MatchTested      int64
	KeysExamined     int64
}

// FetchStats are the FETCH-specific counters.
type FetchStats struct {
	AlreadyHasObj int64
	ForcedFetches int64
	MatchTested   int64
}

// OrStats are the OR-specific counters.
type OrStats struct {
	DupsTested    int64
	DupsDropped   int64
	LocsForgotten int64
}

// SortStats are the SORT-specific counters.
type SortStats struct {
	ForcedFetches int64
}

// MergeSortStats are the SORT_MERGE-specific counters.
type MergeSortStats struct {
	DupsTested    int64
	DupsDropped   int64
	ForcedFetches int64
}

// TextStats are the TEXT-specific counters.
type TextStats struct {
	KeysExamined int64
	Fetches      int64
}

// TwoDNearStats are the GEO_NEAR_2D-specific counters.
type TwoDNearStats struct {
	ObjectsLoaded int64
	NScanned      int64
}

// ShardingFilterStats are the SHARDING_FILTER-specific counters.
type ShardingFilterStats struct {
	ChunkSkips int64
}

// AndHashStats are the AND_HASH-specific counters.
type AndHashStats struct {
	FlaggedButPassed  int64
	FlaggedInProgress int64
}

// AndSortedStats are the AND_SORTED-specific counters.
type AndSortedStats struct {
	Flagged     int64
	MatchTested int64
}

// StageStats is one node of an execution-statistics tree.
type StageStats struct {
	Stage    StageType
	Common   CommonStats
	Children []*StageStats

	CollScan       *CollScanStats
	IXScan         *IXScanStats
	Fetch          *FetchStats
	Or             *OrStats
	Sort           *SortStats
	MergeSort      *MergeSortStats
	Text           *TextStats
	TwoDNear       *TwoDNearStats
	ShardingFilter *ShardingFilterStats
	AndHash        *AndHashStats
	AndSorted      *AndSortedStats
}

// Explain is the derived summary of an executed plan.
type Explain struct {
	Cursor          string
	N               int64
	NScanned        int64
	NScannedObjects int64
	IndexOnly       bool
	IsMultiKey      bool
	ScanAndOrder    bool
	NChunkSkips     int64
	NYields         int64
	IndexBounds     string
	Clauses         []*Explain
	Stats           bson.D
}

func isOrStage(st StageType) bool {
	return st == StageOr || st == StageSortMerge
}

func isIntersectPlan(stats *StageStats) bool {
	if stats.Stage == StageAndHash || stats.Stage == StageAndSorted {
		return true
	}
	for _, child := range stats.Children {
		if isIntersectPlan(child) {
			return true
		}
	}
	return false
}

func collectStatsLeaves(stats *StageStats, leaves *[]*StageStats) {
	if len(stats.Children) == 0 {
		*leaves = append(*leaves, stats)
	}
	for _, child := range stats.Children {
		collectStatsLeaves(child, leaves)
	}
}

func findStatsNode(root *StageStats, st StageType) *StageStats {
	if root.Stage == st {
		return root
	}
	for _, child := range root.Children {
		if found := findStatsNode(child, st); found != nil {
			return found
		}
	}
	return nil
}

// explainIntersectPlan summarizes index-intersection plans: a flat
// roll-up of the leaf counters under an opaque cursor label.
func explainIntersectPlan(stats *StageStats, fullDetails bool) (*Explain, error) {
	res := &Explain{
		Cursor: "Complex Plan",
		N:      stats.Common.Advanced,
	}

	var leaves []*StageStats
	collectStatsLeaves(stats, &leaves)
	for _, leaf := range leaves {
		leafExplain, err := ExplainPlan(leaf, false)
		if err != nil {
			return nil, err
		}
		res.NScanned += leafExplain.NScanned
		res.NScannedObjects += leafExplain.NScannedObjects
	}

	if shardFilter := findStatsNode(stats, StageShardingFilter); shardFilter != nil {
		res.NChunkSkips = shardFilter.ShardingFilter.ChunkSkips
	}

	if fullDetails {
		res.NYields = stats.Common.Yields
		res.Stats = StatsToDoc(stats)
	}
	return res, nil
}

// ExplainPlan derives the summary document from a stats tree.
func ExplainPlan(stats *StageStats, fullDetails bool) (*Explain, error) {
	if isIntersectPlan(stats) {
		return explainIntersectPlan(stats, fullDetails)
	}

	// Walk the single-child spine looking for structural properties: a
	// branching OR, a fetch, a sort, sharding-filter chunk skips.
	covered := true
	sortPresent := false
	var chunkSkips int64

	var orStage *StageStats
	root := stats
	leaf := root

	for len(leaf.Children) > 0 {
		if len(leaf.Children) > 1 && !isOrStage(leaf.Stage) {
			panic(fmt.Sprintf("explain: unexpected multi-child %v stage", leaf.Stage))
		}
		if isOrStage(leaf.Stage) {
			orStage = leaf
			break
		}
		if leaf.Stage == StageFetch {
			covered = false
		}
		if leaf.Stage == StageSort {
			sortPresent = true
		}
		if leaf.Stage == StageShardingFilter {
			chunkSkips = leaf.ShardingFilter.ChunkSkips
		}
		leaf = leaf.Children[0]
	}

	res := &Explain{}

	switch {
	case orStage != nil:
		var nScanned, nScannedObjects int64
		for _, child := range orStage.Children {
			childExplain, err := ExplainPlan(child, false)
			if err != nil {
				return nil, err
			}
			res.Clauses = append(res.Clauses, childExplain)
			nScanned += childExplain.NScanned
			// A branch does not necessarily fetch, but the legacy
			// numbers assumed it did; keep emulating them.
			nScannedObjects += childExplain.NScanned
		}
		res.NScanned = nScanned
		res.NScannedObjects = nScannedObjects
	case leaf.Stage == StageCollScan:
		res.Cursor = "BasicCursor"
		res.NScanned = leaf.CollScan.DocsTested
		res.NScannedObjects = leaf.CollScan.DocsTested
		res.IndexOnly = false
	case leaf.Stage == StageGeoNear2DSphere:
		res.Cursor = "S2NearCursor"
		res.NScanned = leaf.Common.Works
		res.NScannedObjects = leaf.Common.Works
		res.IsMultiKey = false
		res.IndexOnly = false
	case leaf.Stage == StageGeoNear2D:
		res.Cursor = "GeoSearchCursor"
		res.NScanned = leaf.TwoDNear.NScanned
		res.NScannedObjects = leaf.TwoDNear.ObjectsLoaded
		res.IsMultiKey = false
		res.IndexOnly = false
	case leaf.Stage == StageText:
		res.Cursor = "TextCursor"
		res.NScanned = leaf.Text.KeysExamined
		res.NScannedObjects = leaf.Text.Fetches
	case leaf.Stage == StageIXScan:
		indexStats := leaf.IXScan
		direction := ""
		if indexStats.Direction <= 0 {
			direction = " reverse"
		}
		res.Cursor = indexStats.IndexType + " " + indexStats.IndexName + direction
		res.NScanned = indexStats.KeysExamined
		// Covered scans never touch the document store.
		if covered {
			res.NScannedObjects = 0
		} else {
			res.NScannedObjects = leaf.Common.Advanced
		}
		res.IndexBounds = indexStats.BoundsDesc
		res.IsMultiKey = indexStats.MultiKey
		res.IndexOnly = covered
	default:
		return nil, verrors.New(verrors.InternalError, "cannot interpret execution plan")
	}

	res.N = root.Common.Advanced
	res.ScanAndOrder = sortPresent
	res.NChunkSkips = chunkSkips

	if fullDetails {
		res.NYields = root.Common.Yields
		res.Stats = StatsToDoc(root)
	}
	return res, nil
}

// StatsToDoc dumps a stats tree verbatim into document form.
func StatsToDoc(stats *StageStats) bson.D {
	doc := bson.D{
		{Key: "type", Value: stats.Stage.String()},
		{Key: "works", Value: stats.Common.Works},
		{Key: "yields", Value: stats.Common.Yields},
		{Key: "unyields", Value: stats.Common.Unyields},
		{Key: "invalidates", Value: stats.Common.Invalidates},
		{Key: "advanced", Value: stats.Common.Advanced},
		{Key: "needTime", Value: stats.Common.NeedTime},
		{Key: "needFetch", Value: stats.Common.NeedFetch},
		{Key: "isEOF", Value: stats.Common.IsEOF},
	}

	switch {
	case stats.AndHash != nil:
		doc = append(doc,
			bson.E{Key: "flaggedButPassed", Value: stats.AndHash.FlaggedButPassed},
			bson.E{Key: "flaggedInProgress", Value: stats.AndHash.FlaggedInProgress})
	case stats.AndSorted != nil:
		doc = append(doc,
			bson.E{Key: "flagged", Value: stats.AndSorted.Flagged},
			bson.E{Key: "matchTested", Value: stats.AndSorted.MatchTested})
	case stats.CollScan != nil:
		doc = append(doc, bson.E{Key: "docsTested", Value: stats.CollScan.DocsTested})
	case stats.Fetch != nil:
		doc = append(doc,
			bson.E{Key: "alreadyHasObj", Value: stats.Fetch.AlreadyHasObj},
			bson.E{Key: "forcedFetches", Value: stats.Fetch.ForcedFetches},
			bson.E{Key: "matchTested", Value: stats.Fetch.MatchTested})
	case stats.TwoDNear != nil:
		doc = append(doc,
			bson.E{Key: "objectsLoaded", Value: stats.TwoDNear.ObjectsLoaded},
			bson.E{Key: "nscanned", Value: stats.TwoDNear.NScanned})
	case stats.IXScan != nil:
		doc = append(doc,
			bson.E{Key: "keyPattern", Value: stats.IXScan.KeyPattern},
			bson.E{Key: "bounds", Value: stats.IXScan.BoundsDesc},
			bson.E{Key: "isMultiKey", Value: stats.IXScan.MultiKey},
			bson.E{Key: "yieldMovedCursor", Value: stats.IXScan.YieldMovedCursor},
			bson.E{Key: "dupsTested", Value: stats.IXScan.DupsTested},
			bson.E{Key: "dupsDropped", Value: stats.IXScan.DupsDropped},
			bson.E{Key: "seenInvalidated", Value: stats.IXScan.SeenInvalidated},
			bson.E{Key: "matchTested", Value: stats.IXScan.MatchTested},
			bson.E{Key: "keysExamined", Value: stats.IXScan.KeysExamined})
	case stats.Or != nil:
		doc = append(doc,
			bson.E{Key: "dupsTested", Value: stats.Or.DupsTested},
			bson.E{Key: "dupsDropped", Value: stats.Or.DupsDropped},
			bson.E{Key: "locsForgotten", Value: stats.Or.LocsForgotten})
	case stats.ShardingFilter != nil:
		doc = append(doc, bson.E{Key: "chunkSkips", Value: stats.ShardingFilter.ChunkSkips})
	case stats.Sort != nil:
		doc = append(doc, bson.E{Key: "forcedFetches", Value: stats.Sort.ForcedFetches})
	case stats.MergeSort != nil:
		doc = append(doc,
			bson.E{Key: "dupsTested", Value: stats.MergeSort.DupsTested},
			bson.E{Key: "dupsDropped", Value: stats.MergeSort.DupsDropped},
			bson.E{Key: "forcedFetches", Value: stats.MergeSort.ForcedFetches})
	case stats.Text != nil:
		doc = append(doc,
			bson.E{Key: "keysExamined", Value: stats.Text.KeysExamined},
			bson.E{Key: "fetches", Value: stats.Text.Fetches})
	}

	children := make(bson.A, 0, len(stats.Children))
	for _, child := range stats.Children {
		children = append(children, StatsToDoc(child))
	}
	return append(doc, bson.E{Key: "children", Value: children})
}
