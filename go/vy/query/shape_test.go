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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func shapeOf(t *testing.T, filter, sortDoc, proj bson.D) ShapeKey {
	t.Helper()
	cq, err := Canonicalize(testNS, filter, sortDoc, proj)
	require.NoError(t, err)
	return cq.PlanCacheKey()
}

func TestShapeKeyStability(t *testing.T) {
	filter := bson.D{
		{Key: "b", Value: bson.D{{Key: "$gte", Value: int32(3)}}},
		{Key: "a", Value: int32(1)},
	}
	sortDoc := bson.D{{Key: "a", Value: int32(-1)}}
	proj := bson.D{{Key: "_id", Value: int32(0)}, {Key: "a", Value: int32(1)}}

	first := shapeOf(t, filter, sortDoc, proj)
	second := shapeOf(t, filter, sortDoc, proj)
	assert.Equal(t, first, second)
}

func TestShapeKeyLiterals(t *testing.T) {
	// The encoding is part of the on-wire diagnostics; pin a few keys
	// exactly.
	tests := []struct {
		filter  bson.D
		sortDoc bson.D
		proj    bson.D
		want    string
	}{
		{bson.D{}, nil, nil, "an"},
		{bson.D{{Key: "a", Value: int32(1)}}, nil, nil, "eqa"},
		{bson.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(1)}}, nil, nil, "aneqaeqb"},
		{bson.D{{Key: "a", Value: int32(1)}}, bson.D{{Key: "b", Value: int32(1)}}, nil, "eqaab"},
		{bson.D{{Key: "a", Value: int32(1)}}, bson.D{{Key: "b", Value: int32(-1)}}, nil, "eqadb"},
		{
			bson.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(1)}},
			bson.D{{Key: "a", Value: int32(-1)}},
			bson.D{{Key: "_id", Value: int32(0)}, {Key: "a", Value: int32(1)}},
			"aneqaeqbdap0_id1a",
		},
	}
	for _, tt := range tests {
		got := shapeOf(t, tt.filter, tt.sortDoc, tt.proj)
		assert.Equal(t, ShapeKey(tt.want), got, "filter %v sort %v proj %v", tt.filter, tt.sortDoc, tt.proj)
	}
}

func TestShapeKeyEquivalenceClasses(t *testing.T) {
	// Constants do not matter.
	assert.Equal(t,
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil),
		shapeOf(t, bson.D{{Key: "a", Value: int32(2)}}, nil, nil))

	// Field order does not matter once siblings are canonicalized.
	assert.Equal(t,
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(1)}}, nil, nil),
		shapeOf(t, bson.D{{Key: "b", Value: int32(2)}, {Key: "a", Value: int32(3)}}, nil, nil))

	// The comparison operator matters.
	assert.NotEqual(t,
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil),
		shapeOf(t, bson.D{{Key: "a", Value: bson.D{{Key: "$gt", Value: int32(1)}}}}, nil, nil))

	// The path matters.
	assert.NotEqual(t,
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil),
		shapeOf(t, bson.D{{Key: "b", Value: int32(1)}}, nil, nil))

	// Sort direction and sort field matter.
	assert.NotEqual(t,
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, bson.D{{Key: "b", Value: int32(1)}}, nil),
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, bson.D{{Key: "b", Value: int32(-1)}}, nil))
	assert.NotEqual(t,
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, bson.D{{Key: "b", Value: int32(1)}}, nil),
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, bson.D{{Key: "c", Value: int32(1)}}, nil))

	// Projections matter, and different operators diverge.
	assert.NotEqual(t,
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil),
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, nil, bson.D{{Key: "a", Value: int32(1)}}))
	assert.NotEqual(t,
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, nil,
			bson.D{{Key: "a", Value: bson.D{{Key: "$slice", Value: int32(2)}}}}),
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, nil,
			bson.D{{Key: "a", Value: bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "b", Value: int32(1)}}}}}}))

	// Equivalent inclusion spellings collapse.
	assert.Equal(t,
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, nil, bson.D{{Key: "a", Value: int32(1)}}),
		shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, nil, bson.D{{Key: "a", Value: true}}))
}

func TestShapeKeyTextScoreSort(t *testing.T) {
	meta := bson.D{{Key: "$meta", Value: "textScore"}}
	key := shapeOf(t, bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: "s"}}}},
		bson.D{{Key: "score", Value: meta}}, nil)
	assert.Equal(t, ShapeKey("tetscore"), key)
}

func TestQueryHash(t *testing.T) {
	a := QueryHash(shapeOf(t, bson.D{{Key: "a", Value: int32(1)}}, nil, nil))
	b := QueryHash(shapeOf(t, bson.D{{Key: "a", Value: int32(7)}}, nil, nil))
	c := QueryHash(shapeOf(t, bson.D{{Key: "b", Value: int32(1)}}, nil, nil))
	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
