/*
 *	Copyright 2024 The MaskTrain Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package kfold

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStratifiedPartition(t *testing.T) {
	// 3 classes with uneven counts: 50, 30, 20.
	classes := make([]int32, 100)
	for ii := 50; ii < 80; ii++ {
		classes[ii] = 1
	}
	for ii := 80; ii < 100; ii++ {
		classes[ii] = 2
	}
	folds, err := Stratified(classes, 5)
	require.NoError(t, err)
	require.Len(t, folds, 5)

	seen := make(map[int]int)
	for fi, fold := range folds {
		assert.Equal(t, fi, fold.Index)
		assert.Equal(t, 100, len(fold.Train)+len(fold.Validation))
		assert.True(t, sort.IntsAreSorted(fold.Validation))
		assert.True(t, sort.IntsAreSorted(fold.Train))
		for _, idx := range fold.Validation {
			seen[idx]++
		}
		// Train and validation are disjoint.
		inVal := make(map[int]bool)
		for _, idx := range fold.Validation {
			inVal[idx] = true
		}
		for _, idx := range fold.Train {
			assert.False(t, inVal[idx])
		}
		// Exact stratification: counts divide evenly here.
		counts := [3]int{}
		for _, idx := range fold.Validation {
			counts[classes[idx]]++
		}
		assert.Equal(t, [3]int{10, 6, 4}, counts, "fold %d validation class counts", fi)
	}
	// Every sample is held out exactly once across the 5 folds.
	assert.Len(t, seen, 100)
	for idx, count := range seen {
		assert.Equal(t, 1, count, "sample %d", idx)
	}
}

func TestStratifiedRemainderSpread(t *testing.T) {
	// 7 samples of one class over 3 folds: sizes 3, 2, 2.
	classes := make([]int32, 7)
	folds, err := Stratified(classes, 3)
	require.NoError(t, err)
	assert.Len(t, folds[0].Validation, 3)
	assert.Len(t, folds[1].Validation, 2)
	assert.Len(t, folds[2].Validation, 2)
}

func TestStratifiedDeterministic(t *testing.T) {
	classes := []int32{0, 1, 0, 1, 0, 1, 0, 1, 0, 1}
	a, err := Stratified(classes, 2)
	require.NoError(t, err)
	b, err := Stratified(classes, 2)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStratifiedErrors(t *testing.T) {
	_, err := Stratified([]int32{0, 0, 0}, 1)
	assert.Error(t, err, "k must be at least 2")

	_, err = Stratified([]int32{0, 0}, 3)
	assert.Error(t, err, "fewer samples than folds")
}

func TestStratifiedRareClassDegrades(t *testing.T) {
	// A class rarer than k still partitions: its few samples land in the
	// first folds and the rest hold none of it.
	folds, err := Stratified([]int32{0, 0, 0, 1}, 2)
	require.NoError(t, err)
	require.Len(t, folds, 2)

	seen := map[int]bool{}
	for _, fold := range folds {
		for _, idx := range fold.Validation {
			assert.False(t, seen[idx], "index %d held out twice", idx)
			seen[idx] = true
		}
	}
	assert.Len(t, seen, 4, "every sample held out exactly once")

	assert.Contains(t, folds[0].Validation, 3, "the lone class-1 sample goes to the first fold")
	assert.NotContains(t, folds[1].Validation, 3)
}
