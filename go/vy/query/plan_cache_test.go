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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/voyagerdb/voyager/go/vy/verrors"
)

func canonicalize(t *testing.T, filter, sortDoc, proj bson.D) *CanonicalQuery {
	t.Helper()
	cq, err := Canonicalize(testNS, filter, sortDoc, proj)
	require.NoError(t, err)
	return cq
}

// tagSolution builds a cacheable solution whose index tree carries the
// given index name, so replacements are observable.
func tagSolution(indexName string, hasSortStage bool) *Solution {
	tree := &PlanCacheIndexTree{}
	tree.SetIndexEntry(IndexEntry{
		KeyPattern: bson.D{{Key: "a", Value: int32(1)}},
		Name:       indexName,
	})
	return &Solution{
		CacheData:    &SolutionCacheData{Tree: tree},
		HasSortStage: hasSortStage,
	}
}

func TestShouldCacheQuery(t *testing.T) {
	// A pure collection scan has nothing to cache.
	assert.False(t, ShouldCacheQuery(canonicalize(t, bson.D{}, nil, nil)))

	// Any predicate makes caching worthwhile.
	assert.True(t, ShouldCacheQuery(canonicalize(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil)))

	// So does a sort, even over an empty predicate.
	assert.True(t, ShouldCacheQuery(canonicalize(t, bson.D{}, bson.D{{Key: "a", Value: int32(1)}}, nil)))

	// Hinted and min/max-bounded queries bypass plan selection.
	mk := func(hint, min, max bson.D) *CanonicalQuery {
		pq, err := NewLiteParsedQuery(testNS, 0, 0, bson.D{{Key: "a", Value: int32(1)}},
			nil, nil, hint, min, max, false)
		require.NoError(t, err)
		cq, err := CanonicalizeParsed(pq)
		require.NoError(t, err)
		return cq
	}
	idx := bson.D{{Key: "a", Value: int32(1)}}
	assert.False(t, ShouldCacheQuery(mk(idx, nil, nil)))
	assert.False(t, ShouldCacheQuery(mk(nil, idx, nil)))
	assert.False(t, ShouldCacheQuery(mk(nil, nil, idx)))
}

func TestPlanCacheAddGet(t *testing.T) {
	pc := NewPlanCache()
	cq := canonicalize(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil)

	_, err := pc.Get(cq)
	require.Error(t, err)
	assert.Equal(t, verrors.BadValue, verrors.ErrCode(err))

	err = pc.Add(cq, nil, &PlanRankingDecision{Score: 1})
	require.Error(t, err)
	assert.Equal(t, verrors.BadValue, verrors.ErrCode(err))

	require.NoError(t, pc.Add(cq, []*Solution{tagSolution("a_1", false)}, &PlanRankingDecision{Score: 1}))
	assert.Equal(t, 1, pc.Size())

	cs, err := pc.Get(cq)
	require.NoError(t, err)
	assert.Equal(t, cq.PlanCacheKey(), cs.Key)
	require.Len(t, cs.PlannerData, 1)
	assert.Equal(t, "a_1", cs.PlannerData[0].Tree.Entry.Name)
	assert.Equal(t, -1, cs.BackupSoln)
	assert.Equal(t, cq.Parsed().Filter(), cs.Query)

	// The snapshot is a clone: mutating it must not reach the cache.
	cs.PlannerData[0].Tree.Entry.Name = "mutated"
	cs2, err := pc.Get(cq)
	require.NoError(t, err)
	assert.Equal(t, "a_1", cs2.PlannerData[0].Tree.Entry.Name)
}

func TestPlanCacheReplace(t *testing.T) {
	pc := NewPlanCache()

	// {a: 1} and {a: 2} share a shape; the second add replaces.
	first := canonicalize(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil)
	second := canonicalize(t, bson.D{{Key: "a", Value: int32(2)}}, nil, nil)
	require.Equal(t, first.PlanCacheKey(), second.PlanCacheKey())

	require.NoError(t, pc.Add(first, []*Solution{tagSolution("a_1", false)}, &PlanRankingDecision{Score: 1}))
	require.NoError(t, pc.Add(second, []*Solution{tagSolution("a_1_b_1", false)}, &PlanRankingDecision{Score: 2}))

	assert.Equal(t, 1, pc.Size())
	cs, err := pc.Get(first)
	require.NoError(t, err)
	assert.Equal(t, "a_1_b_1", cs.PlannerData[0].Tree.Entry.Name)
	assert.Equal(t, second.Parsed().Filter(), cs.Query)
}

func TestPlanCacheBackupSolution(t *testing.T) {
	pc := NewPlanCache()
	cq := canonicalize(t, bson.D{{Key: "a", Value: int32(1)}}, bson.D{{Key: "b", Value: int32(1)}}, nil)

	// Winner sorts in memory: the first non-sorting alternative backs it
	// up.
	solns := []*Solution{tagSolution("sorting", true), tagSolution("blocking", true), tagSolution("merging", false)}
	require.NoError(t, pc.Add(cq, solns, &PlanRankingDecision{Score: 1}))
	cs, err := pc.Get(cq)
	require.NoError(t, err)
	assert.Equal(t, 2, cs.BackupSoln)

	// Winner does not sort: no backup.
	require.NoError(t, pc.Add(cq, []*Solution{tagSolution("a", false), tagSolution("b", true)}, &PlanRankingDecision{Score: 1}))
	cs, err = pc.Get(cq)
	require.NoError(t, err)
	assert.Equal(t, -1, cs.BackupSoln)
}

func TestPlanCacheRemoveClear(t *testing.T) {
	pc := NewPlanCache()
	cq := canonicalize(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil)

	err := pc.Remove(cq)
	require.Error(t, err)
	assert.Equal(t, verrors.BadValue, verrors.ErrCode(err))

	require.NoError(t, pc.Add(cq, []*Solution{tagSolution("a_1", false)}, &PlanRankingDecision{Score: 1}))
	require.NoError(t, pc.Remove(cq))
	assert.Equal(t, 0, pc.Size())

	require.NoError(t, pc.Add(cq, []*Solution{tagSolution("a_1", false)}, &PlanRankingDecision{Score: 1}))
	other := canonicalize(t, bson.D{{Key: "b", Value: int32(1)}}, nil, nil)
	require.NoError(t, pc.Add(other, []*Solution{tagSolution("b_1", false)}, &PlanRankingDecision{Score: 1}))
	assert.Equal(t, 2, pc.Size())

	pc.Clear()
	assert.Equal(t, 0, pc.Size())
	assert.Empty(t, pc.GetAllSolutions())
}

func TestPlanCacheGetAllSolutions(t *testing.T) {
	pc := NewPlanCache()
	a := canonicalize(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil)
	b := canonicalize(t, bson.D{{Key: "b", Value: int32(1)}}, nil, nil)
	require.NoError(t, pc.Add(a, []*Solution{tagSolution("a_1", false)}, &PlanRankingDecision{Score: 1}))
	require.NoError(t, pc.Add(b, []*Solution{tagSolution("b_1", false)}, &PlanRankingDecision{Score: 1}))

	all := pc.GetAllSolutions()
	require.Len(t, all, 2)
	keys := map[ShapeKey]bool{}
	for _, cs := range all {
		keys[cs.Key] = true
	}
	assert.True(t, keys[a.PlanCacheKey()])
	assert.True(t, keys[b.PlanCacheKey()])
}

func TestPlanCacheFeedback(t *testing.T) {
	pc := NewPlanCache()
	cq := canonicalize(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil)

	err := pc.Feedback(cq, &PlanFeedback{Score: 1})
	require.Error(t, err)
	assert.Equal(t, verrors.BadValue, verrors.ErrCode(err))

	require.NoError(t, pc.Add(cq, []*Solution{tagSolution("a_1", false)}, &PlanRankingDecision{Score: 1}))

	err = pc.Feedback(cq, nil)
	require.Error(t, err)
	assert.Equal(t, verrors.BadValue, verrors.ErrCode(err))

	// 19 scores store without evaluating.
	for i := 0; i < maxCacheableFeedback-1; i++ {
		require.NoError(t, pc.Feedback(cq, &PlanFeedback{Score: 1}))
	}
	assert.Equal(t, 1, pc.Size())

	// The 20th arrival evaluates. Scores match the baseline exactly, so
	// the entry stays.
	require.NoError(t, pc.Feedback(cq, &PlanFeedback{Score: 1}))
	assert.Equal(t, 1, pc.Size())

	// Zero variance means any lower score is degradation.
	require.NoError(t, pc.Feedback(cq, &PlanFeedback{Score: 0.5}))
	assert.Equal(t, 0, pc.Size())
}

func TestPlanCacheFeedbackBaselineDegradation(t *testing.T) {
	pc := NewPlanCache()
	cq := canonicalize(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil)

	// The initial ranking score is far above everything seen at runtime:
	// the baseline itself proves degradation on first evaluation.
	require.NoError(t, pc.Add(cq, []*Solution{tagSolution("a_1", false)}, &PlanRankingDecision{Score: 100}))
	for i := 0; i < maxCacheableFeedback-1; i++ {
		require.NoError(t, pc.Feedback(cq, &PlanFeedback{Score: 1}))
	}
	assert.Equal(t, 1, pc.Size())
	require.NoError(t, pc.Feedback(cq, &PlanFeedback{Score: 1}))
	assert.Equal(t, 0, pc.Size())
}

func TestPlanCacheFeedbackToleratesVariance(t *testing.T) {
	pc := NewPlanCache()
	cq := canonicalize(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil)
	require.NoError(t, pc.Add(cq, []*Solution{tagSolution("a_1", false)}, &PlanRankingDecision{Score: 5.5}))

	// Alternating scores build a baseline with real variance; a score
	// within two standard deviations survives.
	for i := 0; i < maxCacheableFeedback-1; i++ {
		score := 5.0
		if i%2 == 0 {
			score = 6.0
		}
		require.NoError(t, pc.Feedback(cq, &PlanFeedback{Score: score}))
	}
	require.NoError(t, pc.Feedback(cq, &PlanFeedback{Score: 5.0}))
	assert.Equal(t, 1, pc.Size())

	// A collapse far below the band evicts.
	require.NoError(t, pc.Feedback(cq, &PlanFeedback{Score: 0.1}))
	assert.Equal(t, 0, pc.Size())
}

func TestPlanCacheWriteOpFlush(t *testing.T) {
	pc := NewPlanCache()
	cq := canonicalize(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil)
	require.NoError(t, pc.Add(cq, []*Solution{tagSolution("a_1", false)}, &PlanRankingDecision{Score: 1}))

	for i := 0; i < planCacheMaxWriteOperations-1; i++ {
		pc.NotifyOfWriteOp()
	}
	assert.Equal(t, 1, pc.Size())

	pc.NotifyOfWriteOp()
	assert.Equal(t, 0, pc.Size())

	// The flush reset the counter: the next add survives another round of
	// writes below the threshold.
	require.NoError(t, pc.Add(cq, []*Solution{tagSolution("a_1", false)}, &PlanRankingDecision{Score: 1}))
	for i := 0; i < planCacheMaxWriteOperations-1; i++ {
		pc.NotifyOfWriteOp()
	}
	assert.Equal(t, 1, pc.Size())
}

func TestPlanCacheConcurrentAccess(t *testing.T) {
	pc := NewPlanCache()
	cq := canonicalize(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = pc.Add(cq, []*Solution{tagSolution("a_1", false)}, &PlanRankingDecision{Score: 1})
				if cs, err := pc.Get(cq); err == nil {
					_ = cs.PlannerData[0].Clone()
				}
				pc.NotifyOfWriteOp()
			}
		}()
	}
	wg.Wait()

	// Exactly one entry survives concurrent same-key adds, unless a
	// write-op flush got the last word.
	assert.LessOrEqual(t, pc.Size(), 1)
}
