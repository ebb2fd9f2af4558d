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

package command

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/voyagerdb/voyager/go/vy/query"
	"github.com/voyagerdb/voyager/go/vy/verrors"
)

func init() {
	Register(&ListHints{})
	Register(&ClearHints{})
	Register(&SetHint{})
}

// ListHints implements planCacheListHints: display the admin hints for
// every query shape in a collection.
type ListHints struct{}

// Name implements Command.
func (*ListHints) Name() string { return "planCacheListHints" }

// Help implements Command.
func (*ListHints) Help() string {
	return "Displays admin hints for all query shapes in a collection."
}

// RequiredAction implements Command.
func (*ListHints) RequiredAction() Action { return ActionPlanCacheHint }

// Run implements Command.
func (*ListHints) Run(info *CollectionInfo, ns string, cmd bson.D) (bson.D, error) {
	return ListHintsResult(info.QuerySettings)
}

// ListHintsResult renders the hint store as the command result document.
func ListHintsResult(querySettings *query.QuerySettings) (bson.D, error) {
	hints := bson.A{}
	for _, entry := range querySettings.GetAllAllowedIndices() {
		indexes := bson.A{}
		for _, pattern := range entry.IndexKeyPatterns {
			indexes = append(indexes, pattern)
		}
		hints = append(hints, bson.D{
			{Key: "query", Value: orEmptyDoc(entry.Query)},
			{Key: "sort", Value: orEmptyDoc(entry.Sort)},
			{Key: "projection", Value: orEmptyDoc(entry.Projection)},
			{Key: "indexes", Value: indexes},
		})
	}
	return bson.D{{Key: "hints", Value: hints}}, nil
}

// ClearHints implements planCacheClearHints: clear the admin hints for a
// single query shape or, with no query argument, for the whole
// collection.
type ClearHints struct{}

// Name implements Command.
func (*ClearHints) Name() string { return "planCacheClearHints" }

// Help implements Command.
func (*ClearHints) Help() string {
	return "Clears all admin hints for a single query shape or, " +
		"if the query shape is omitted, for the entire collection."
}

// RequiredAction implements Command.
func (*ClearHints) RequiredAction() Action { return ActionPlanCacheHint }

// Run implements Command.
func (*ClearHints) Run(info *CollectionInfo, ns string, cmd bson.D) (bson.D, error) {
	return nil, ClearHintsForShape(info.QuerySettings, info.PlanCache, ns, cmd)
}

// ClearHintsForShape removes one shape's hint, or every hint, and
// invalidates the matching plan cache entries so the next query re-plans.
func ClearHintsForShape(querySettings *query.QuerySettings, planCache *query.PlanCache, ns string, cmd bson.D) error {
	if _, hasQuery := getField(cmd, "query"); hasQuery {
		cq, err := canonicalizeCommandShape(ns, cmd)
		if err != nil {
			return err
		}
		querySettings.RemoveAllowedIndices(cq)
		// The cached plan was chosen under the hint; drop it too. A miss
		// means the cache was flushed by another path.
		_ = planCache.Remove(cq)
		return nil
	}

	// Refuse a bulk clear that looks like a mistyped single-shape clear.
	_, hasSort := getField(cmd, "sort")
	_, hasProj := getField(cmd, "projection")
	if hasSort || hasProj {
		return verrors.New(verrors.BadValue, "sort or projection provided without query")
	}

	// Snapshot the hints first: each one names the shape whose plan cache
	// entry has to go with it.
	entries := querySettings.GetAllAllowedIndices()
	querySettings.ClearAllowedIndices()

	for _, entry := range entries {
		cq, err := query.Canonicalize(ns, entry.Query, entry.Sort, entry.Projection)
		if err != nil {
			// The entry canonicalized when it was stored; it must again.
			panic("stored admin hint failed to canonicalize: " + err.Error())
		}
		// Removal can miss if the cache was flushed between shapes;
		// that is the intended end state anyway.
		_ = planCache.Remove(cq)
	}
	return nil
}

// SetHint implements planCacheSetHint: pin the allowed indexes for a
// query shape, overriding any existing hint.
type SetHint struct{}

// Name implements Command.
func (*SetHint) Name() string { return "planCacheSetHint" }

// Help implements Command.
func (*SetHint) Help() string {
	return "Sets admin hints for a query shape. Overrides existing hints."
}

// RequiredAction implements Command.
func (*SetHint) RequiredAction() Action { return ActionPlanCacheHint }

// Run implements Command.
func (*SetHint) Run(info *CollectionInfo, ns string, cmd bson.D) (bson.D, error) {
	return nil, SetHintForShape(info.QuerySettings, info.PlanCache, ns, cmd)
}

// SetHintForShape validates the payload, stores the hint, and removes the
// shape's plan cache entry so the hint takes effect on the next plan.
func SetHintForShape(querySettings *query.QuerySettings, planCache *query.PlanCache, ns string, cmd bson.D) error {
	indexesVal, ok := getField(cmd, "indexes")
	if !ok {
		return verrors.New(verrors.BadValue, "required field indexes missing")
	}
	indexesArr, ok := indexesVal.(bson.A)
	if !ok {
		return verrors.New(verrors.BadValue, "required field indexes must be an array")
	}
	if len(indexesArr) == 0 {
		return verrors.New(verrors.BadValue, "required field indexes must contain at least one index")
	}
	indexes := make([]bson.D, 0, len(indexesArr))
	for _, item := range indexesArr {
		index, ok := item.(bson.D)
		if !ok {
			return verrors.New(verrors.BadValue, "each item in indexes must be an object")
		}
		if len(index) == 0 {
			return verrors.New(verrors.BadValue, "index specification cannot be empty")
		}
		indexes = append(indexes, index)
	}

	cq, err := canonicalizeCommandShape(ns, cmd)
	if err != nil {
		return err
	}

	// Store the hint, overriding any previous entry, then invalidate the
	// cached plan for the shape so planning sees the hint.
	querySettings.SetAllowedIndices(cq, indexes)
	_ = planCache.Remove(cq)
	return nil
}

func orEmptyDoc(d bson.D) bson.D {
	if d == nil {
		return bson.D{}
	}
	return d
}
