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
	Register(&PlanCacheListQueryShapes{})
	Register(&PlanCacheClear{})
	Register(&PlanCacheDrop{})
	Register(&PlanCacheListPlans{})
}

// canonicalizeCommandShape extracts the query/sort/projection fields of a
// command payload and canonicalizes them into the shape they describe.
func canonicalizeCommandShape(ns string, cmd bson.D) (*query.CanonicalQuery, error) {
	queryVal, ok := getField(cmd, "query")
	if !ok {
		return nil, verrors.New(verrors.BadValue, "required field query missing")
	}
	queryDoc, ok := queryVal.(bson.D)
	if !ok {
		return nil, verrors.New(verrors.BadValue, "required field query must be an object")
	}

	sortDoc, err := getDocField(cmd, "sort", "optional")
	if err != nil {
		return nil, err
	}
	projDoc, err := getDocField(cmd, "projection", "optional")
	if err != nil {
		return nil, err
	}

	return query.Canonicalize(ns, queryDoc, sortDoc, projDoc)
}

// PlanCacheListQueryShapes implements planCacheListQueryShapes: display
// the shapes currently cached for a collection.
type PlanCacheListQueryShapes struct{}

// Name implements Command.
func (*PlanCacheListQueryShapes) Name() string { return "planCacheListQueryShapes" }

// Help implements Command.
func (*PlanCacheListQueryShapes) Help() string {
	return "Displays all query shapes in a collection."
}

// RequiredAction implements Command.
func (*PlanCacheListQueryShapes) RequiredAction() Action { return ActionPlanCacheRead }

// Run implements Command.
func (*PlanCacheListQueryShapes) Run(info *CollectionInfo, ns string, cmd bson.D) (bson.D, error) {
	return ListQueryShapesResult(info.PlanCache)
}

// ListQueryShapesResult renders every cached shape's identifying
// documents.
func ListQueryShapesResult(planCache *query.PlanCache) (bson.D, error) {
	shapes := bson.A{}
	for _, cs := range planCache.GetAllSolutions() {
		shapes = append(shapes, bson.D{
			{Key: "query", Value: orEmptyDoc(cs.Query)},
			{Key: "sort", Value: orEmptyDoc(cs.Sort)},
			{Key: "projection", Value: orEmptyDoc(cs.Projection)},
		})
	}
	return bson.D{{Key: "shapes", Value: shapes}}, nil
}

// PlanCacheClear implements planCacheClear: drop every cached plan for a
// collection.
type PlanCacheClear struct{}

// Name implements Command.
func (*PlanCacheClear) Name() string { return "planCacheClear" }

// Help implements Command.
func (*PlanCacheClear) Help() string {
	return "Drops all cached queries in a collection."
}

// RequiredAction implements Command.
func (*PlanCacheClear) RequiredAction() Action { return ActionPlanCacheWrite }

// Run implements Command.
func (*PlanCacheClear) Run(info *CollectionInfo, ns string, cmd bson.D) (bson.D, error) {
	info.PlanCache.Clear()
	return nil, nil
}

// PlanCacheDrop implements planCacheDrop: drop one shape's cached plan.
type PlanCacheDrop struct{}

// Name implements Command.
func (*PlanCacheDrop) Name() string { return "planCacheDrop" }

// Help implements Command.
func (*PlanCacheDrop) Help() string {
	return "Drops query shape from plan cache."
}

// RequiredAction implements Command.
func (*PlanCacheDrop) RequiredAction() Action { return ActionPlanCacheWrite }

// Run implements Command.
func (*PlanCacheDrop) Run(info *CollectionInfo, ns string, cmd bson.D) (bson.D, error) {
	return nil, DropShape(info.PlanCache, ns, cmd)
}

// DropShape removes the cache entry for the shape the payload describes.
func DropShape(planCache *query.PlanCache, ns string, cmd bson.D) error {
	cq, err := canonicalizeCommandShape(ns, cmd)
	if err != nil {
		return err
	}
	return planCache.Remove(cq)
}

// PlanCacheListPlans implements planCacheListPlans: display the cached
// plans for one shape.
type PlanCacheListPlans struct{}

// Name implements Command.
func (*PlanCacheListPlans) Name() string { return "planCacheListPlans" }

// Help implements Command.
func (*PlanCacheListPlans) Help() string {
	return "Displays the cached plans for a query shape."
}

// RequiredAction implements Command.
func (*PlanCacheListPlans) RequiredAction() Action { return ActionPlanCacheRead }

// Run implements Command.
func (*PlanCacheListPlans) Run(info *CollectionInfo, ns string, cmd bson.D) (bson.D, error) {
	return ListPlansResult(info.PlanCache, ns, cmd)
}

// ListPlansResult renders the cached solutions for the shape the payload
// describes.
func ListPlansResult(planCache *query.PlanCache, ns string, cmd bson.D) (bson.D, error) {
	cq, err := canonicalizeCommandShape(ns, cmd)
	if err != nil {
		return nil, err
	}
	cs, err := planCache.Get(cq)
	if err != nil {
		return nil, err
	}

	plans := bson.A{}
	for _, data := range cs.PlannerData {
		plans = append(plans, bson.D{
			{Key: "details", Value: bson.D{{Key: "solution", Value: data.String()}}},
			{Key: "reason", Value: bson.D{}},
			{Key: "feedback", Value: bson.D{}},
			{Key: "hint", Value: data.AdminHintApplied},
		})
	}
	return bson.D{{Key: "plans", Value: plans}}, nil
}
