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
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/voyagerdb/voyager/go/vy/matcher"
	"github.com/voyagerdb/voyager/go/vy/verrors"
)

const (
	// maxCacheableFeedback is the feedback budget per entry: up to 19
	// scores are stored, and the arrival that would be the 20th triggers
	// the degradation check instead.
	maxCacheableFeedback = 20

	// stdDevEvictionThreshold is how many standard deviations below the
	// baseline a score must fall before the entry is evicted.
	stdDevEvictionThreshold = 2.0

	// planCacheMaxWriteOperations is how many writes the collection can
	// absorb before the whole cache is flushed.
	planCacheMaxWriteOperations = 1000
)

// PlanRankingDecision is the ranker's verdict stored verbatim with a
// cache entry. Only the initial score matters here.
type PlanRankingDecision struct {
	Score float64
}

// PlanFeedback is one runtime report about a cached plan.
type PlanFeedback struct {
	Score float64
}

// SolutionKind tags what a cached solution describes.
type SolutionKind int

// All the solution kinds.
const (
	// UseIndexTagsSolution replays index tags onto the predicate tree.
	UseIndexTagsSolution SolutionKind = iota
	// WholeIXScanSolution scans an entire index in one direction.
	WholeIXScanSolution
	// CollScanSolution scans the collection.
	CollScanSolution
)

// IndexEntry identifies one index to the planner.
type IndexEntry struct {
	KeyPattern bson.D
	MultiKey   bool
	Name       string
}

// PlanCacheIndexTree mirrors the predicate tree with index assignments.
// Children are exclusively owned by their parent.
type PlanCacheIndexTree struct {
	Entry    *IndexEntry
	IndexPos int
	Children []*PlanCacheIndexTree
}

// SetIndexEntry stores a copy of the index entry on the node.
func (t *PlanCacheIndexTree) SetIndexEntry(entry IndexEntry) {
	clone := entry
	clone.KeyPattern = cloneDoc(entry.KeyPattern)
	t.Entry = &clone
}

// Clone returns a deep copy of the tree.
func (t *PlanCacheIndexTree) Clone() *PlanCacheIndexTree {
	root := &PlanCacheIndexTree{IndexPos: t.IndexPos}
	if t.Entry != nil {
		root.SetIndexEntry(*t.Entry)
	}
	root.Children = make([]*PlanCacheIndexTree, len(t.Children))
	for i, child := range t.Children {
		root.Children[i] = child.Clone()
	}
	return root
}

func (t *PlanCacheIndexTree) String() string {
	var sb strings.Builder
	t.debugString(&sb, 0)
	return sb.String()
}

func (t *PlanCacheIndexTree) debugString(sb *strings.Builder, indents int) {
	if len(t.Children) > 0 {
		sb.WriteString(strings.Repeat("---", indents))
		sb.WriteString("Node\n")
		for _, child := range t.Children {
			child.debugString(sb, indents+1)
		}
		return
	}
	sb.WriteString(strings.Repeat("---", indents))
	sb.WriteString("Leaf ")
	if t.Entry != nil {
		fmt.Fprintf(sb, "%v, pos: %d", t.Entry.KeyPattern, t.IndexPos)
	}
	sb.WriteByte('\n')
}

// SolutionCacheData is the compact, cloneable description of one plan.
type SolutionCacheData struct {
	// Tree is nil for collection-scan solutions.
	Tree             *PlanCacheIndexTree
	Kind             SolutionKind
	WholeIXScanDir   int
	AdminHintApplied bool
}

// Clone returns a deep copy.
func (d *SolutionCacheData) Clone() *SolutionCacheData {
	other := &SolutionCacheData{
		Kind:             d.Kind,
		WholeIXScanDir:   d.WholeIXScanDir,
		AdminHintApplied: d.AdminHintApplied,
	}
	if d.Tree != nil {
		other.Tree = d.Tree.Clone()
	}
	return other
}

func (d *SolutionCacheData) String() string {
	switch d.Kind {
	case WholeIXScanSolution:
		return fmt.Sprintf("(whole index scan solution: dir=%d; tree=%s)", d.WholeIXScanDir, d.Tree)
	case CollScanSolution:
		return "(collection scan)"
	default:
		return fmt.Sprintf("(index-tagged expression tree: tree=%s)", d.Tree)
	}
}

// Solution is what the planner hands to Add: the plan's cache data plus
// the properties admission cares about.
type Solution struct {
	CacheData    *SolutionCacheData
	HasSortStage bool
}

// planCacheEntry is one cached shape. Owned by the cache; never escapes
// the lock except as a clone.
type planCacheEntry struct {
	query      bson.D
	sort       bson.D
	projection bson.D

	plannerData []*SolutionCacheData
	decision    *PlanRankingDecision

	// backupSoln indexes plannerData, -1 when unset.
	backupSoln int

	feedback     []float64
	averageScore *float64
	stddevScore  *float64
}

// CachedSolution is the snapshot Get hands back: deep clones only, with a
// lifetime independent of the cache.
type CachedSolution struct {
	Key         ShapeKey
	PlannerData []*SolutionCacheData
	BackupSoln  int
	Query       bson.D
	Sort        bson.D
	Projection  bson.D
}

func newCachedSolution(key ShapeKey, entry *planCacheEntry) *CachedSolution {
	cs := &CachedSolution{
		Key:         key,
		PlannerData: make([]*SolutionCacheData, len(entry.plannerData)),
		BackupSoln:  entry.backupSoln,
		Query:       cloneDoc(entry.query),
		Sort:        cloneDoc(entry.sort),
		Projection:  cloneDoc(entry.projection),
	}
	for i, data := range entry.plannerData {
		cs.PlannerData[i] = data.Clone()
	}
	return cs
}

// PlanCache maps query shapes to previously chosen plans. Safe for
// concurrent use; every operation on the entries holds the cache mutex
// for its full body, bounded by cloning a small tree. NotifyOfWriteOp
// counts on an atomic and takes the mutex only to flush.
type PlanCache struct {
	mu      sync.Mutex
	entries map[ShapeKey]*planCacheEntry

	writeOps atomic.Int64
}

// NewPlanCache returns an empty plan cache.
func NewPlanCache() *PlanCache {
	return &PlanCache{entries: make(map[ShapeKey]*planCacheEntry)}
}

// ShouldCacheQuery reports whether caching is admissible for the query.
// Pure collection scans gain nothing from the cache, and hinted or
// min/max-bounded queries bypass plan selection entirely.
func ShouldCacheQuery(cq *CanonicalQuery) bool {
	pq := cq.Parsed()
	root := cq.Root()

	if len(pq.Sort()) == 0 && root.Op == matcher.And && len(root.Children) == 0 {
		return false
	}
	if len(pq.Hint()) != 0 {
		return false
	}
	// Min/max queries are a special case of hinted queries.
	if len(pq.Min()) != 0 {
		return false
	}
	if len(pq.Max()) != 0 {
		return false
	}
	return true
}

// Add installs or replaces the entry for the query's shape, taking
// ownership of the decision. The first solution is the winner; if it
// sorts in memory, the first non-sorting alternative is recorded as the
// backup.
func (pc *PlanCache) Add(cq *CanonicalQuery, solns []*Solution, decision *PlanRankingDecision) error {
	if decision == nil {
		panic("PlanCache.Add: nil ranking decision")
	}
	if len(solns) == 0 {
		return verrors.New(verrors.BadValue, "no solutions provided")
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	entry := &planCacheEntry{
		query:       cloneDoc(cq.Parsed().Filter()),
		sort:        cloneDoc(cq.Parsed().Sort()),
		projection:  cloneDoc(cq.Parsed().Projection()),
		plannerData: make([]*SolutionCacheData, len(solns)),
		decision:    decision,
		backupSoln:  -1,
	}
	for i, soln := range solns {
		if soln.CacheData == nil {
			panic("PlanCache.Add: solution without cache data")
		}
		entry.plannerData[i] = soln.CacheData.Clone()
	}

	if solns[0].HasSortStage {
		for i := 1; i < len(solns); i++ {
			if !solns[i].HasSortStage {
				entry.backupSoln = i
				break
			}
		}
	}

	pc.entries[cq.PlanCacheKey()] = entry
	planCacheAdds.Inc()
	return nil
}

// Get returns a fresh clone of the entry for the query's shape.
func (pc *PlanCache) Get(cq *CanonicalQuery) (*CachedSolution, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	key := cq.PlanCacheKey()
	entry, ok := pc.entries[key]
	if !ok {
		planCacheMisses.Inc()
		return nil, verrors.New(verrors.BadValue, "no such key in cache")
	}
	planCacheHits.Inc()
	return newCachedSolution(key, entry), nil
}

// Feedback records a runtime score for the query's cached plan, or evicts
// the plan when the score shows it has degraded.
func (pc *PlanCache) Feedback(cq *CanonicalQuery, fb *PlanFeedback) error {
	if fb == nil {
		return verrors.New(verrors.BadValue, "feedback is nil")
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	key := cq.PlanCacheKey()
	entry, ok := pc.entries[key]
	if !ok {
		return verrors.New(verrors.BadValue, "no such key in cache")
	}

	if len(entry.feedback)+1 >= maxCacheableFeedback {
		// Enough feedback to judge the plan. The score is consumed by the
		// check and not stored.
		if entry.performanceDegraded(fb.Score) {
			delete(pc.entries, key)
			planCacheEvictions.Inc()
		}
		return nil
	}
	entry.feedback = append(entry.feedback, fb.Score)
	return nil
}

// performanceDegraded decides whether the latest score is far enough
// below the entry's baseline to uncache the plan. The baseline mean and
// sample standard deviation are computed once and kept on the entry.
func (entry *planCacheEntry) performanceDegraded(latestScore float64) bool {
	if entry.averageScore == nil {
		sum := 0.0
		for _, score := range entry.feedback {
			sum += score
		}
		mean := sum / float64(len(entry.feedback))

		sumOfSquares := 0.0
		for _, score := range entry.feedback {
			sumOfSquares += (score - mean) * (score - mean)
		}
		stddev := math.Sqrt(sumOfSquares / float64(len(entry.feedback)-1))

		// If scores have already drifted a threshold below the initial
		// ranking, the baseline itself proves degradation.
		if entry.decision.Score-mean > stdDevEvictionThreshold*stddev {
			return true
		}

		entry.averageScore = &mean
		entry.stddevScore = &stddev
	}

	return *entry.averageScore-latestScore > stdDevEvictionThreshold*(*entry.stddevScore)
}

// Remove deletes the entry for the query's shape.
func (pc *PlanCache) Remove(cq *CanonicalQuery) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	key := cq.PlanCacheKey()
	if _, ok := pc.entries[key]; !ok {
		return verrors.New(verrors.BadValue, "no such key in cache")
	}
	delete(pc.entries, key)
	return nil
}

// Clear empties the cache and resets the write counter.
func (pc *PlanCache) Clear() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.clearLocked()
	pc.writeOps.Store(0)
}

func (pc *PlanCache) clearLocked() {
	pc.entries = make(map[ShapeKey]*planCacheEntry)
}

// GetAllSolutions returns clones of every entry.
func (pc *PlanCache) GetAllSolutions() []*CachedSolution {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	solutions := make([]*CachedSolution, 0, len(pc.entries))
	for key, entry := range pc.entries {
		solutions = append(solutions, newCachedSolution(key, entry))
	}
	return solutions
}

// Size returns the current entry count.
func (pc *PlanCache) Size() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.entries)
}

// NotifyOfWriteOp counts one write against the collection. Crossing the
// threshold flushes the cache; concurrent threads crossing it together
// may each flush, which is harmless.
func (pc *PlanCache) NotifyOfWriteOp() {
	planCacheWriteNotifications.Inc()
	if pc.writeOps.Add(1) < planCacheMaxWriteOperations {
		return
	}
	pc.Clear()
	planCacheFlushes.Inc()
}
