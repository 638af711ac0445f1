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
	"fmt"
	"math"
	"strings"
)

// FoldResult summarizes one trained fold and how it ended. BestF1 and
// BestEpoch belong to the checkpointed best epoch; BestLoss and BestAccuracy
// track their own per-epoch optima and may come from other epochs.
type FoldResult struct {
	Fold         int
	EpochsRun    int
	StoppedEarly bool
	BestEpoch    int

	BestF1       float64
	BestAccuracy float64
	BestLoss     float64
}

// RunSummary aggregates the per-fold results of a cross-validation run.
// Each statistic is computed from its own per-fold series: F1 from the F1
// series, accuracy from the accuracy series, loss from the loss series.
type RunSummary struct {
	Folds []FoldResult

	MeanF1, StdF1             float64
	MeanAccuracy, StdAccuracy float64
	MeanLoss, StdLoss         float64
}

// Aggregate computes the cross-fold summary.
func Aggregate(folds []FoldResult) RunSummary {
	s := RunSummary{Folds: folds}
	if len(folds) == 0 {
		return s
	}
	f1s := make([]float64, len(folds))
	accuracies := make([]float64, len(folds))
	losses := make([]float64, len(folds))
	for ii, fold := range folds {
		f1s[ii] = fold.BestF1
		accuracies[ii] = fold.BestAccuracy
		losses[ii] = fold.BestLoss
	}
	s.MeanF1, s.StdF1 = meanStd(f1s)
	s.MeanAccuracy, s.StdAccuracy = meanStd(accuracies)
	s.MeanLoss, s.StdLoss = meanStd(losses)
	return s
}

func meanStd(values []float64) (mean, std float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(values)))
	return
}

// String formats the summary as a small report, one line per fold plus the
// aggregate line.
func (s RunSummary) String() string {
	var b strings.Builder
	for _, fold := range s.Folds {
		ended := "completed"
		if fold.StoppedEarly {
			ended = "early-stopped"
		}
		fmt.Fprintf(&b, "fold %d: best epoch %d (of %d, %s), f1=%.4f acc=%.2f%% loss=%.4f\n",
			fold.Fold, fold.BestEpoch, fold.EpochsRun, ended,
			fold.BestF1, 100*fold.BestAccuracy, fold.BestLoss)
	}
	fmt.Fprintf(&b, "cross-validation: f1=%.4f±%.4f acc=%.2f%%±%.2f%% loss=%.4f±%.4f",
		s.MeanF1, s.StdF1, 100*s.MeanAccuracy, 100*s.StdAccuracy, s.MeanLoss, s.StdLoss)
	return b.String()
}
