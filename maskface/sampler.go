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

package maskface

import (
	"math/rand"
	"sort"
)

// Sampler decides the order in which a Subset visits its samples each epoch.
// Order returns n positions in [0, n); positions may repeat for samplers
// that draw with replacement.
type Sampler interface {
	Order(n int, rng *rand.Rand) []int
}

// ShuffleSampler visits every sample exactly once, in a fresh random
// permutation per epoch. This is the default for training subsets.
type ShuffleSampler struct{}

// Order implements Sampler.
func (ShuffleSampler) Order(n int, rng *rand.Rand) []int { return rng.Perm(n) }

// SequentialSampler visits samples in index order. Used for validation so
// predictions line up with records deterministically.
type SequentialSampler struct{}

// Order implements Sampler.
func (SequentialSampler) Order(n int, _ *rand.Rand) []int {
	order := make([]int, n)
	for ii := range order {
		order[ii] = ii
	}
	return order
}

// WeightedSampler draws samples with replacement, each with probability
// proportional to the inverse frequency of its class within the subset. Rare
// classes are over-sampled so each epoch sees a flatter class distribution.
type WeightedSampler struct {
	cumulative []float64
}

// NewWeightedSampler builds a sampler from the classes of the subset's
// samples, in subset order.
func NewWeightedSampler(classes []int32) *WeightedSampler {
	counts := make(map[int32]int)
	for _, c := range classes {
		counts[c]++
	}
	s := &WeightedSampler{cumulative: make([]float64, len(classes))}
	var total float64
	for ii, c := range classes {
		total += 1 / float64(counts[c])
		s.cumulative[ii] = total
	}
	return s
}

// Order implements Sampler: n draws with replacement.
func (s *WeightedSampler) Order(n int, rng *rand.Rand) []int {
	if n > len(s.cumulative) {
		n = len(s.cumulative)
	}
	total := s.cumulative[len(s.cumulative)-1]
	order := make([]int, n)
	for ii := range order {
		target := rng.Float64() * total
		order[ii] = sort.SearchFloat64s(s.cumulative, target)
		if order[ii] >= len(s.cumulative) {
			order[ii] = len(s.cumulative) - 1
		}
	}
	return order
}
