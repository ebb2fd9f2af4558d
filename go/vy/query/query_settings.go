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
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// AllowedIndexEntry pins the set of indexes the planner may consider for
// one query shape. The original query, sort, and projection are kept so
// the shape can be re-canonicalized for coupled invalidation.
type AllowedIndexEntry struct {
	Query            bson.D
	Sort             bson.D
	Projection       bson.D
	IndexKeyPatterns []bson.D
}

// Clone returns a deep copy of the entry.
func (e *AllowedIndexEntry) Clone() *AllowedIndexEntry {
	clone := &AllowedIndexEntry{
		Query:      cloneDoc(e.Query),
		Sort:       cloneDoc(e.Sort),
		Projection: cloneDoc(e.Projection),
	}
	clone.IndexKeyPatterns = make([]bson.D, len(e.IndexKeyPatterns))
	for i, pattern := range e.IndexKeyPatterns {
		clone.IndexKeyPatterns[i] = cloneDoc(pattern)
	}
	return clone
}

// QuerySettings is the per-collection admin-hint store: shape key to
// allowed-index entry. Safe for concurrent use.
type QuerySettings struct {
	mu      sync.Mutex
	entries map[ShapeKey]*AllowedIndexEntry
}

// NewQuerySettings returns an empty store.
func NewQuerySettings() *QuerySettings {
	return &QuerySettings{entries: make(map[ShapeKey]*AllowedIndexEntry)}
}

// GetAllowedIndices returns a clone of the entry pinned to the query's
// shape, if any.
func (qs *QuerySettings) GetAllowedIndices(cq *CanonicalQuery) (*AllowedIndexEntry, bool) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	entry, ok := qs.entries[cq.PlanCacheKey()]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// SetAllowedIndices pins the given index key patterns to the query's
// shape, replacing any prior entry.
func (qs *QuerySettings) SetAllowedIndices(cq *CanonicalQuery, indexKeyPatterns []bson.D) {
	pq := cq.Parsed()
	entry := &AllowedIndexEntry{
		Query:      cloneDoc(pq.Filter()),
		Sort:       cloneDoc(pq.Sort()),
		Projection: cloneDoc(pq.Projection()),
	}
	entry.IndexKeyPatterns = make([]bson.D, len(indexKeyPatterns))
	for i, pattern := range indexKeyPatterns {
		entry.IndexKeyPatterns[i] = cloneDoc(pattern)
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.entries[cq.PlanCacheKey()] = entry
}

// RemoveAllowedIndices drops the entry for the query's shape. Absence is
// not an error.
func (qs *QuerySettings) RemoveAllowedIndices(cq *CanonicalQuery) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	delete(qs.entries, cq.PlanCacheKey())
}

// ClearAllowedIndices empties the store.
func (qs *QuerySettings) ClearAllowedIndices() {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.entries = make(map[ShapeKey]*AllowedIndexEntry)
}

// GetAllAllowedIndices returns clones of every entry.
func (qs *QuerySettings) GetAllAllowedIndices() []*AllowedIndexEntry {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	entries := make([]*AllowedIndexEntry, 0, len(qs.entries))
	for _, entry := range qs.entries {
		entries = append(entries, entry.Clone())
	}
	return entries
}

// ApplyAllowedIndices narrows the planner's index list to an admin hint
// pinned to the query's shape, if one exists. It reports whether a hint
// was applied.
func (qs *QuerySettings) ApplyAllowedIndices(cq *CanonicalQuery, indexes []IndexEntry) ([]IndexEntry, bool) {
	allowed, ok := qs.GetAllowedIndices(cq)
	if !ok {
		return indexes, false
	}
	return FilterAllowedIndexEntries(allowed, indexes), true
}

// FilterAllowedIndexEntries trims the planner's index list to the key
// patterns pinned by an admin hint. Patterns compare by encoded bytes.
func FilterAllowedIndexEntries(allowed *AllowedIndexEntry, indexes []IndexEntry) []IndexEntry {
	var filtered []IndexEntry
	for _, index := range indexes {
		for _, pattern := range allowed.IndexKeyPatterns {
			if docsEqual(index.KeyPattern, pattern) {
				filtered = append(filtered, index)
				break
			}
		}
	}
	return filtered
}

// docsEqual compares two documents by their canonical encoding.
func docsEqual(a, b bson.D) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	ab, aerr := bson.Marshal(a)
	bb, berr := bson.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
