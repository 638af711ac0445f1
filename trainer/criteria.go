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
	"sort"

	. "github.com/gomlx/gomlx/graph"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// Criterion computes the scalar training loss from the soft labels, shaped
// [batch, numClasses], and the model logits of the same shape. Soft labels
// are one-hot rows except after cutmix, where they are two-class mixtures,
// so every criterion here works on distributions rather than class indices.
type Criterion func(softLabels, logits *Node) *Node

// DefaultCriterion is used when the configuration does not name one.
const DefaultCriterion = "f1"

const (
	labelSmoothingFactor = 0.1
	focalGamma           = 2.0
	criterionEpsilon     = 1e-7
)

// KnownCriteria maps the loss names accepted in the configuration to their
// implementations.
var KnownCriteria = map[string]Criterion{
	"cross_entropy":   crossEntropyLoss,
	"label_smoothing": labelSmoothingLoss,
	"focal":           focalLoss,
	"f1":              macroF1Loss,
}

// CriterionByName resolves a configured loss name, or returns an error
// listing the valid names. Called at startup so a typo fails before any
// training.
func CriterionByName(name string) (Criterion, error) {
	criterion, found := KnownCriteria[name]
	if !found {
		names := maps.Keys(KnownCriteria)
		sort.Strings(names)
		return nil, errors.Errorf("unknown criterion %q, valid values are %v", name, names)
	}
	return criterion, nil
}

// crossEntropyLoss is the mean categorical cross-entropy between the soft
// labels and the logits.
func crossEntropyLoss(softLabels, logits *Node) *Node {
	logProbs := LogSoftmax(logits, -1)
	perSample := Neg(ReduceSum(Mul(softLabels, logProbs), -1))
	return ReduceAllMean(perSample)
}

// labelSmoothingLoss is cross-entropy against labels blended with the
// uniform distribution.
func labelSmoothingLoss(softLabels, logits *Node) *Node {
	numClasses := softLabels.Shape().Dimensions[softLabels.Rank()-1]
	uniform := 1.0 / float64(numClasses)
	smoothed := AddScalar(MulScalar(softLabels, 1-labelSmoothingFactor), labelSmoothingFactor*uniform)
	return crossEntropyLoss(smoothed, logits)
}

// focalLoss down-weights well-classified samples: each term of the
// cross-entropy is scaled by (1-p)^gamma.
func focalLoss(softLabels, logits *Node) *Node {
	probs := Softmax(logits, -1)
	logProbs := Log(AddScalar(probs, criterionEpsilon))
	modulation := PowScalar(OneMinus(probs), focalGamma)
	perSample := Neg(ReduceSum(Mul(softLabels, Mul(modulation, logProbs)), -1))
	return ReduceAllMean(perSample)
}

// macroF1Loss is one minus the soft macro F1 score: per class, predicted
// probability mass plays the role of predictions, so the score is
// differentiable. Minimizing it directly optimizes the selection metric.
func macroF1Loss(softLabels, logits *Node) *Node {
	probs := Softmax(logits, -1)
	// Per class over the batch axis.
	truePositive := ReduceSum(Mul(softLabels, probs), 0)
	falsePositive := ReduceSum(Mul(OneMinus(softLabels), probs), 0)
	falseNegative := ReduceSum(Mul(softLabels, OneMinus(probs)), 0)
	f1 := Div(
		MulScalar(truePositive, 2),
		AddScalar(Add(MulScalar(truePositive, 2), Add(falsePositive, falseNegative)), criterionEpsilon))
	return OneMinus(ReduceAllMean(f1))
}
