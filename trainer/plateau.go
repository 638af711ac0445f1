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

package trainer

import (
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"
)

// Default plateau-schedule parameters.
const (
	PlateauDefaultFactor    = 0.5
	PlateauDefaultPatience  = 2
	PlateauDefaultThreshold = 1e-3
	PlateauDefaultMinLR     = 1e-5
)

// PlateauScheduler halves (by Factor) the learning rate whenever the watched
// validation metric fails to improve by more than Threshold for Patience
// consecutive epochs, never going below MinLR. Higher metric is better.
//
// The learning rate lives in the model context's learning-rate variable, so
// a reduction takes effect on the next training step without rebuilding any
// graph.
type PlateauScheduler struct {
	ctx       *context.Context
	dtype     dtypes.DType
	Factor    float64
	Patience  int
	Threshold float64
	MinLR     float64

	best     float64
	hasBest  bool
	badCount int
}

// NewPlateauScheduler watches the learning-rate variable of ctx. dtype must
// match the loss dtype the optimizer uses.
func NewPlateauScheduler(ctx *context.Context, dtype dtypes.DType) *PlateauScheduler {
	return &PlateauScheduler{
		ctx:       ctx,
		dtype:     dtype,
		Factor:    PlateauDefaultFactor,
		Patience:  PlateauDefaultPatience,
		Threshold: PlateauDefaultThreshold,
		MinLR:     PlateauDefaultMinLR,
	}
}

// LearningRate reads the current learning rate from the context.
func (s *PlateauScheduler) LearningRate() float64 {
	lrVar := s.ctx.InspectVariable(context.RootScope+optimizers.Scope, optimizers.ParamLearningRate)
	if lrVar == nil {
		return 0
	}
	return tensorToFloat64(lrVar.Value())
}

// tensorToFloat64 reads a scalar tensor of either float width.
func tensorToFloat64(t *tensors.Tensor) float64 {
	if t.DType() == dtypes.Float64 {
		return tensors.ToScalar[float64](t)
	}
	return float64(tensors.ToScalar[float32](t))
}

// Step records the epoch's validation metric and reduces the learning rate
// if the metric has plateaued. Returns the learning rate in effect after the
// step.
func (s *PlateauScheduler) Step(metric float64) float64 {
	if !s.hasBest || metric > s.best+s.Threshold {
		s.best = metric
		s.hasBest = true
		s.badCount = 0
		return s.LearningRate()
	}
	s.badCount++
	if s.badCount <= s.Patience {
		return s.LearningRate()
	}
	s.badCount = 0
	current := s.LearningRate()
	reduced := current * s.Factor
	if reduced < s.MinLR {
		reduced = s.MinLR
	}
	if reduced < current {
		optimizers.LearningRateVarWithValue(s.ctx, s.dtype, reduced)
		klog.Infof("Plateau: learning rate reduced %.3g -> %.3g", current, reduced)
	}
	return reduced
}
