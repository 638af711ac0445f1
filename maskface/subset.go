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
	"image"
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// Subset is a batched view over a subset of a Dataset's records, defined by a
// list of dataset indices (typically one side of a fold plan). It implements
// train.Dataset: each Yield produces the image tensor plus two label tensors,
// the soft (one-hot or cutmix-mixed) labels of shape [batch, NumClasses] and
// the sparse class of shape [batch].
//
// Training subsets attach a sampler, augmentation and cutmix; validation
// subsets use the sequential sampler and no augmentation.
type Subset struct {
	ds        *Dataset
	name      string
	indices   []int
	batchSize int

	// dropLast discards a final short batch. Used for training so batch
	// statistics stay comparable; validation keeps the remainder.
	dropLast bool

	sampler       Sampler
	augment       *CustomAugmentation
	augmentExempt map[int32]bool
	cutmix        *CutmixFace
	cutmixProb    float64

	mu    sync.Mutex
	rng   *rand.Rand
	order []int
	pos   int
}

// Assert *Subset is a valid dataset for gomlx training loops.
var _ train.Dataset = &Subset{}

// NewSubset creates a batched view over the records selected by indices.
// It starts with the sequential sampler and no augmentation; pass 0 as seed
// value to keep determinism decisions to the caller via WithSeed.
func NewSubset(ds *Dataset, name string, indices []int, batchSize int, dropLast bool) *Subset {
	s := &Subset{
		ds:        ds,
		name:      name,
		indices:   indices,
		batchSize: batchSize,
		dropLast:  dropLast,
		sampler:   SequentialSampler{},
		rng:       rand.New(rand.NewSource(0)),
	}
	s.Reset()
	return s
}

// WithSeed replaces the subset's random stream. Returns the subset.
func (s *Subset) WithSeed(seed int64) *Subset {
	s.rng = rand.New(rand.NewSource(seed))
	s.Reset()
	return s
}

// WithSampler sets the per-epoch ordering strategy. Returns the subset.
func (s *Subset) WithSampler(sampler Sampler) *Subset {
	s.sampler = sampler
	s.Reset()
	return s
}

// WithAugmentation enables per-sample augmentation, skipping samples whose
// class is in exemptClasses. Returns the subset.
func (s *Subset) WithAugmentation(aug *CustomAugmentation, exemptClasses []int32) *Subset {
	s.augment = aug
	s.augmentExempt = make(map[int32]bool, len(exemptClasses))
	for _, c := range exemptClasses {
		s.augmentExempt[c] = true
	}
	return s
}

// WithCutmix enables per-batch cutmix with the given probability. Returns the
// subset.
func (s *Subset) WithCutmix(cm *CutmixFace, probability float64) *Subset {
	s.cutmix = cm
	s.cutmixProb = probability
	return s
}

// Name implements train.Dataset.
func (s *Subset) Name() string { return s.name }

// Len is the number of samples in the subset.
func (s *Subset) Len() int { return len(s.indices) }

// Classes returns the class of each sample, in subset order.
func (s *Subset) Classes() []int32 {
	classes := make([]int32, len(s.indices))
	for ii, idx := range s.indices {
		classes[ii] = s.ds.Record(idx).Class
	}
	return classes
}

// NumBatches is the number of batches one epoch yields.
func (s *Subset) NumBatches() int {
	if s.dropLast {
		return len(s.indices) / s.batchSize
	}
	return (len(s.indices) + s.batchSize - 1) / s.batchSize
}

// Reset implements train.Dataset: starts a new epoch with a fresh sample
// order.
func (s *Subset) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.sampler.Order(len(s.indices), s.rng)
	s.pos = 0
}

// nextBatch reserves the positions of the next batch, or io.EOF at epoch end.
func (s *Subset) nextBatch() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := len(s.order) - s.pos
	if remaining == 0 || (s.dropLast && remaining < s.batchSize) {
		return nil, io.EOF
	}
	take := s.batchSize
	if take > remaining {
		take = remaining
	}
	batch := s.order[s.pos : s.pos+take]
	s.pos += take
	return batch, nil
}

// YieldImages returns the next batch as decoded (and resized) images along
// with each sample's class and dataset index. It applies no augmentation;
// this is the entry point for validation and for the visualization stages,
// which need the raw photos.
func (s *Subset) YieldImages() (images []image.Image, classes []int32, datasetIndices []int, err error) {
	batch, err := s.nextBatch()
	if err != nil {
		return nil, nil, nil, err
	}
	transform := s.ds.Transform()
	if transform == nil {
		return nil, nil, nil, errors.Errorf("subset %q: dataset has no transform attached", s.name)
	}
	images = make([]image.Image, len(batch))
	classes = make([]int32, len(batch))
	datasetIndices = make([]int, len(batch))
	for ii, posIdx := range batch {
		idx := s.indices[posIdx]
		record := s.ds.Record(idx)
		img, loadErr := transform.Load(record.Path)
		if loadErr != nil {
			return nil, nil, nil, errors.WithMessagef(loadErr, "subset %q", s.name)
		}
		images[ii] = img
		classes[ii] = record.Class
		datasetIndices[ii] = idx
	}
	return
}

// nextSeed derives a fresh seed from the subset's random stream. Yield may
// be called from several worker goroutines (see data.CustomParallel), so
// each batch gets its own derived random stream instead of sharing one.
func (s *Subset) nextSeed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int63()
}

// Yield implements train.Dataset. Inputs are [images]; labels are
// [soft, sparse]. For training subsets cutmix is applied per batch and
// augmentation per sample (except exempt classes), in that order: the
// exemption test uses the sample's dominant class. Safe for concurrent use.
func (s *Subset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	batchRng := rand.New(rand.NewSource(s.nextSeed()))
	images, classes, _, err := s.YieldImages()
	if err != nil {
		return nil, nil, nil, err
	}

	soft := make([][]float32, len(images))
	for ii, class := range classes {
		row := make([]float32, NumClasses)
		row[class] = 1
		soft[ii] = row
	}

	if s.cutmix != nil && batchRng.Float64() < s.cutmixProb {
		images, soft = s.cutmix.Apply(images, soft, batchRng)
	}
	if s.augment != nil {
		// Rotation changes the image bounds, so augmented photos are
		// letterboxed back to the transform size before batching.
		width, height := s.ds.Transform().Size()
		for ii := range images {
			if s.augmentExempt[dominantClass(soft[ii])] {
				continue
			}
			images[ii] = ResizeWithPadding(s.augment.Apply(images[ii], batchRng), width, height)
		}
	}

	flat := make([]float32, 0, len(soft)*NumClasses)
	sparse := make([]int32, len(soft))
	for ii, row := range soft {
		flat = append(flat, row...)
		sparse[ii] = dominantClass(row)
	}
	inputs = []*tensors.Tensor{s.ds.Transform().Batch(images)}
	labels = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(flat, len(soft), NumClasses),
		tensors.FromFlatDataAndDimensions(sparse, len(sparse)),
	}
	return s, inputs, labels, nil
}

// dominantClass is the argmax of a soft label row.
func dominantClass(row []float32) int32 {
	best := 0
	for ii := 1; ii < len(row); ii++ {
		if row[ii] > row[best] {
			best = ii
		}
	}
	return int32(best)
}
