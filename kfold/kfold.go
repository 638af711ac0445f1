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

// Package kfold plans stratified cross-validation folds: sample indices are
// partitioned into k folds so each fold's class distribution mirrors the
// whole dataset's.
package kfold

import (
	"sort"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Fold is one train/validation partition of the dataset's sample indices.
// Both sides are sorted ascending and together they cover every index
// exactly once.
type Fold struct {
	// Index of the fold, in [0, k).
	Index int
	// Train are the sample indices trained on.
	Train []int
	// Validation are the held-out sample indices.
	Validation []int
}

// Stratified partitions n samples into k folds, keeping each class's samples
// spread as evenly as possible across folds. classes[i] is the class of
// sample i; the plan is fully determined by the inputs, no randomness is
// involved, so the same dataset always produces the same folds.
//
// Per class, samples are taken in index order and dealt into contiguous
// chunks, the first (count mod k) folds receiving one extra sample. A class
// with fewer than k samples is not an error: the same rule leaves the later
// folds without it, and a warning is logged.
func Stratified(classes []int32, k int) ([]Fold, error) {
	if k < 2 {
		return nil, errors.Errorf("stratified k-fold requires k >= 2, got %d", k)
	}
	if len(classes) < k {
		return nil, errors.Errorf("stratified k-fold requires at least k=%d samples, got %d", k, len(classes))
	}

	// Samples per class, in index order.
	perClass := make(map[int32][]int)
	for idx, class := range classes {
		perClass[class] = append(perClass[class], idx)
	}
	classOrder := make([]int32, 0, len(perClass))
	for class, samples := range perClass {
		if len(samples) < k {
			klog.Warningf("Stratified k-fold: class %d has %d samples, fewer than k=%d folds; some folds will hold none of it",
				class, len(samples), k)
		}
		classOrder = append(classOrder, class)
	}
	sort.Slice(classOrder, func(i, j int) bool { return classOrder[i] < classOrder[j] })

	validation := make([][]int, k)
	for _, class := range classOrder {
		samples := perClass[class]
		base := len(samples) / k
		extra := len(samples) % k
		start := 0
		for fold := 0; fold < k; fold++ {
			size := base
			if fold < extra {
				size++
			}
			validation[fold] = append(validation[fold], samples[start:start+size]...)
			start += size
		}
	}

	folds := make([]Fold, k)
	for fold := 0; fold < k; fold++ {
		sort.Ints(validation[fold])
		inValidation := make(map[int]bool, len(validation[fold]))
		for _, idx := range validation[fold] {
			inValidation[idx] = true
		}
		train := make([]int, 0, len(classes)-len(validation[fold]))
		for idx := range classes {
			if !inValidation[idx] {
				train = append(train, idx)
			}
		}
		folds[fold] = Fold{Index: fold, Train: train, Validation: validation[fold]}
	}
	return folds, nil
}
