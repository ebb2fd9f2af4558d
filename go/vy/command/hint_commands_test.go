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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/voyagerdb/voyager/go/vy/query"
	"github.com/voyagerdb/voyager/go/vy/verrors"
)

const testNS = "somebogusns"

// getHints lists the hint store through the command result, checking the
// result shape along the way.
func getHints(t *testing.T, querySettings *query.QuerySettings) []bson.D {
	t.Helper()
	result, err := ListHintsResult(querySettings)
	require.NoError(t, err)

	hintsVal, ok := getField(result, "hints")
	require.True(t, ok)
	hintsArr, ok := hintsVal.(bson.A)
	require.True(t, ok)

	hints := make([]bson.D, 0, len(hintsArr))
	for _, item := range hintsArr {
		hint, ok := item.(bson.D)
		require.True(t, ok)
		for _, field := range []string{"query", "sort", "projection"} {
			v, ok := getField(hint, field)
			require.True(t, ok, "hint missing %s", field)
			_, ok = v.(bson.D)
			require.True(t, ok, "hint field %s is not an object", field)
		}
		v, ok := getField(hint, "indexes")
		require.True(t, ok)
		_, ok = v.(bson.A)
		require.True(t, ok)
		hints = append(hints, hint)
	}
	return hints
}

// addQueryShapeToPlanCache injects a plan for the given shape.
func addQueryShapeToPlanCache(t *testing.T, planCache *query.PlanCache, filter, sortDoc, proj bson.D) {
	t.Helper()
	cq, err := query.Canonicalize(testNS, filter, sortDoc, proj)
	require.NoError(t, err)
	soln := &query.Solution{CacheData: &query.SolutionCacheData{Tree: &query.PlanCacheIndexTree{}}}
	require.NoError(t, planCache.Add(cq, []*query.Solution{soln}, &query.PlanRankingDecision{Score: 1}))
}

// planCacheContains reports whether the cache has an entry for the shape.
func planCacheContains(t *testing.T, planCache *query.PlanCache, filter, sortDoc, proj bson.D) bool {
	t.Helper()
	cq, err := query.Canonicalize(testNS, filter, sortDoc, proj)
	require.NoError(t, err)
	for _, cs := range planCache.GetAllSolutions() {
		if cs.Key == cq.PlanCacheKey() {
			return true
		}
	}
	return false
}

func docField(key string, value any) bson.D {
	return bson.D{{Key: key, Value: value}}
}

func TestListHintsEmpty(t *testing.T) {
	empty := query.NewQuerySettings()
	assert.Empty(t, getHints(t, empty))
}

func TestClearHintsInvalidParameter(t *testing.T) {
	empty := query.NewQuerySettings()
	planCache := query.NewPlanCache()

	tests := []bson.D{
		// If present, query has to be an object.
		docField("query", int32(1234)),
		// If present, sort must be an object.
		{{Key: "query", Value: docField("a", int32(1))}, {Key: "sort", Value: int32(1234)}},
		// If present, projection must be an object.
		{{Key: "query", Value: docField("a", int32(1))}, {Key: "projection", Value: int32(1234)}},
		// Query must pass canonicalization.
		docField("query", docField("a", docField("$no_such_op", int32(1)))),
		// Sort present without query is an error.
		docField("sort", docField("a", int32(1))),
		// Projection present without query is an error.
		docField("projection", bson.D{{Key: "_id", Value: int32(0)}, {Key: "a", Value: int32(1)}}),
	}
	for _, cmd := range tests {
		err := ClearHintsForShape(empty, planCache, testNS, cmd)
		require.Error(t, err, "cmd %v", cmd)
		assert.Equal(t, verrors.BadValue, verrors.ErrCode(err))
	}
	assert.Empty(t, getHints(t, empty))
}

func TestClearNonexistentHint(t *testing.T) {
	querySettings := query.NewQuerySettings()
	planCache := query.NewPlanCache()

	require.NoError(t, SetHintForShape(querySettings, planCache, testNS, bson.D{
		{Key: "query", Value: docField("a", int32(1))},
		{Key: "indexes", Value: bson.A{docField("a", int32(1))}},
	}))
	assert.Len(t, getHints(t, querySettings), 1)

	// Clearing a shape with no hint succeeds and changes nothing.
	require.NoError(t, ClearHintsForShape(querySettings, planCache, testNS,
		docField("query", docField("b", int32(1)))))
	assert.Len(t, getHints(t, querySettings), 1)
}

func TestSetHintInvalidParameter(t *testing.T) {
	empty := query.NewQuerySettings()
	planCache := query.NewPlanCache()

	tests := []bson.D{
		{},
		// Missing required query field.
		docField("indexes", bson.A{docField("a", int32(1))}),
		// Missing required indexes field.
		docField("query", docField("a", int32(1))),
		// Query has to be an object.
		{{Key: "query", Value: int32(1234)}, {Key: "indexes", Value: bson.A{docField("a", int32(1))}}},
		// Indexes field has to be an array.
		{{Key: "query", Value: docField("a", int32(1))}, {Key: "indexes", Value: int32(1234)}},
		// Array indexes field cannot be empty.
		{{Key: "query", Value: docField("a", int32(1))}, {Key: "indexes", Value: bson.A{}}},
		// Elements in indexes have to be objects.
		{{Key: "query", Value: docField("a", int32(1))}, {Key: "indexes", Value: bson.A{docField("a", int32(1)), int32(99)}}},
		// Objects in indexes cannot be empty.
		{{Key: "query", Value: docField("a", int32(1))}, {Key: "indexes", Value: bson.A{docField("a", int32(1)), bson.D{}}}},
		// If present, sort must be an object.
		{{Key: "query", Value: docField("a", int32(1))}, {Key: "sort", Value: int32(1234)},
			{Key: "indexes", Value: bson.A{docField("a", int32(1))}}},
		// If present, projection must be an object.
		{{Key: "query", Value: docField("a", int32(1))}, {Key: "projection", Value: int32(1234)},
			{Key: "indexes", Value: bson.A{docField("a", int32(1))}}},
		// Query must pass canonicalization.
		{{Key: "query", Value: docField("a", docField("$no_such_op", int32(1)))},
			{Key: "indexes", Value: bson.A{docField("a", int32(1))}}},
	}
	for _, cmd := range tests {
		err := SetHintForShape(empty, planCache, testNS, cmd)
		require.Error(t, err, "cmd %v", cmd)
		assert.Equal(t, verrors.BadValue, verrors.ErrCode(err))
	}
	assert.Empty(t, getHints(t, empty))
	assert.Equal(t, 0, planCache.Size())
}

func TestSetAndClearHints(t *testing.T) {
	querySettings := query.NewQuerySettings()
	planCache := query.NewPlanCache()

	filterAB := bson.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(1)}}
	sortA := docField("a", int32(-1))
	projA := bson.D{{Key: "_id", Value: int32(0)}, {Key: "a", Value: int32(1)}}

	// Inject the shape into the plan cache first; setting a hint must
	// invalidate it.
	addQueryShapeToPlanCache(t, planCache, filterAB, sortA, projA)
	require.True(t, planCacheContains(t, planCache, filterAB, sortA, projA))

	require.NoError(t, SetHintForShape(querySettings, planCache, testNS, bson.D{
		{Key: "query", Value: filterAB},
		{Key: "sort", Value: sortA},
		{Key: "projection", Value: projA},
		{Key: "indexes", Value: bson.A{docField("a", int32(1))}},
	}))
	hints := getHints(t, querySettings)
	require.Len(t, hints, 1)
	assert.False(t, planCacheContains(t, planCache, filterAB, sortA, projA))

	queryVal, _ := getField(hints[0], "query")
	sortVal, _ := getField(hints[0], "sort")
	projVal, _ := getField(hints[0], "projection")
	assert.Equal(t, filterAB, queryVal)
	assert.Equal(t, sortA, sortVal)
	assert.Equal(t, projA, projVal)

	// {a: 1, b: 1} and {b: 2, a: 3} share a shape: replacement, not
	// addition.
	require.NoError(t, SetHintForShape(querySettings, planCache, testNS, bson.D{
		{Key: "query", Value: bson.D{{Key: "b", Value: int32(2)}, {Key: "a", Value: int32(3)}}},
		{Key: "sort", Value: sortA},
		{Key: "projection", Value: projA},
		{Key: "indexes", Value: bson.A{bson.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(1)}}}},
	}))
	require.Len(t, getHints(t, querySettings), 1)

	// Different shapes accumulate.
	require.NoError(t, SetHintForShape(querySettings, planCache, testNS, bson.D{
		{Key: "query", Value: docField("b", int32(1))},
		{Key: "indexes", Value: bson.A{docField("b", int32(1))}},
	}))
	require.Len(t, getHints(t, querySettings), 2)

	require.NoError(t, SetHintForShape(querySettings, planCache, testNS, bson.D{
		{Key: "query", Value: docField("a", int32(1))},
		{Key: "indexes", Value: bson.A{docField("a", int32(1))}},
	}))
	require.Len(t, getHints(t, querySettings), 3)

	// Two plan cache entries to watch during the clears.
	addQueryShapeToPlanCache(t, planCache, docField("a", int32(1)), nil, nil)
	addQueryShapeToPlanCache(t, planCache, docField("b", int32(1)), nil, nil)

	// Clear a single hint: only the {a: 1} shape goes, from both stores.
	require.NoError(t, ClearHintsForShape(querySettings, planCache, testNS,
		docField("query", docField("a", int32(1)))))
	require.Len(t, getHints(t, querySettings), 2)
	assert.False(t, planCacheContains(t, planCache, docField("a", int32(1)), nil, nil))
	assert.True(t, planCacheContains(t, planCache, docField("b", int32(1)), nil, nil))

	// Clear everything: both stores end up empty for the hinted shapes.
	require.NoError(t, ClearHintsForShape(querySettings, planCache, testNS, bson.D{}))
	assert.Empty(t, getHints(t, querySettings))
	assert.False(t, planCacheContains(t, planCache, docField("b", int32(1)), nil, nil))
}

type allowAll struct{}

func (allowAll) IsAuthorized(string, Action) bool { return true }

type denyAll struct{}

func (denyAll) IsAuthorized(string, Action) bool { return false }

func intField(result bson.D, key string) (int64, bool) {
	v, ok := getField(result, key)
	if !ok {
		return 0, false
	}
	n, ok := v.(int32)
	return int64(n), ok
}

func TestDispatchFormatsStatus(t *testing.T) {
	catalog := NewCatalog()
	catalog.GetOrCreate(testNS)

	// Success: {ok: 1, hints: []}.
	result := Dispatch(allowAll{}, catalog, testNS, "planCacheListHints", bson.D{})
	okVal, _ := getField(result, "ok")
	assert.Equal(t, float64(1), okVal)
	hintsVal, ok := getField(result, "hints")
	require.True(t, ok)
	assert.Empty(t, hintsVal)

	// Failure: {ok: 0, code, errmsg}.
	result = Dispatch(allowAll{}, catalog, testNS, "planCacheSetHint", bson.D{})
	okVal, _ = getField(result, "ok")
	assert.Equal(t, float64(0), okVal)
	code, ok := intField(result, "code")
	require.True(t, ok)
	assert.Equal(t, int64(verrors.BadValue), code)
	errmsg, ok := getField(result, "errmsg")
	require.True(t, ok)
	assert.NotEmpty(t, errmsg)
}

func TestDispatchAuthorization(t *testing.T) {
	catalog := NewCatalog()
	catalog.GetOrCreate(testNS)

	result := Dispatch(denyAll{}, catalog, testNS, "planCacheListHints", bson.D{})
	okVal, _ := getField(result, "ok")
	assert.Equal(t, float64(0), okVal)
	code, ok := intField(result, "code")
	require.True(t, ok)
	assert.Equal(t, int64(verrors.Unauthorized), code)
}

func TestDispatchUnknownCommandAndCollection(t *testing.T) {
	catalog := NewCatalog()
	catalog.GetOrCreate(testNS)

	result := Dispatch(allowAll{}, catalog, testNS, "noSuchCommand", bson.D{})
	code, ok := intField(result, "code")
	require.True(t, ok)
	assert.Equal(t, int64(verrors.BadValue), code)

	result = Dispatch(allowAll{}, catalog, "no.such.collection", "planCacheListHints", bson.D{})
	code, ok = intField(result, "code")
	require.True(t, ok)
	assert.Equal(t, int64(verrors.BadValue), code)
	errmsg, _ := getField(result, "errmsg")
	assert.Equal(t, "no such collection", errmsg)
}

func TestSetHintThroughDispatch(t *testing.T) {
	catalog := NewCatalog()
	info := catalog.GetOrCreate(testNS)

	result := Dispatch(allowAll{}, catalog, testNS, "planCacheSetHint", bson.D{
		{Key: "query", Value: docField("a", int32(1))},
		{Key: "indexes", Value: bson.A{docField("a", int32(1))}},
	})
	okVal, _ := getField(result, "ok")
	require.Equal(t, float64(1), okVal)

	require.Len(t, getHints(t, info.QuerySettings), 1)

	// The coupled invalidation makes the next lookup a miss: the planner
	// re-plans under the hint.
	cq, err := query.Canonicalize(testNS, docField("a", int32(1)), nil, nil)
	require.NoError(t, err)
	_, err = info.PlanCache.Get(cq)
	require.Error(t, err)
	assert.Equal(t, verrors.BadValue, verrors.ErrCode(err))
}
