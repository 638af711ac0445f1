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

// EpochMetrics accumulates per-batch results over an epoch. Loss and macro
// F1 are means over batches (each batch's macro F1 is computed on its own
// confusion counts); accuracy is the fraction of correct samples overall.
// The batch-mean F1 is the quantity the scheduler and early stopping watch.
type EpochMetrics struct {
	numClasses int

	lossSum    float64
	f1Sum      float64
	batchCount int

	correct int
	total   int
}

// NewEpochMetrics returns an empty accumulator for the given class count.
func NewEpochMetrics(numClasses int) *EpochMetrics {
	return &EpochMetrics{numClasses: numClasses}
}

// Reset clears the accumulator for a new epoch.
func (m *EpochMetrics) Reset() {
	m.lossSum, m.f1Sum, m.batchCount = 0, 0, 0
	m.correct, m.total = 0, 0
}

// UpdateBatch folds in one batch's loss and predictions. predictions and
// truths must have the same length.
func (m *EpochMetrics) UpdateBatch(loss float64, predictions, truths []int32) {
	m.lossSum += loss
	m.f1Sum += batchMacroF1(predictions, truths, m.numClasses)
	m.batchCount++
	for ii := range predictions {
		m.total++
		if predictions[ii] == truths[ii] {
			m.correct++
		}
	}
}

// MeanLoss is the mean of the per-batch losses folded in so far.
func (m *EpochMetrics) MeanLoss() float64 {
	if m.batchCount == 0 {
		return 0
	}
	return m.lossSum / float64(m.batchCount)
}

// Accuracy is the fraction of correct predictions so far.
func (m *EpochMetrics) Accuracy() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.correct) / float64(m.total)
}

// MacroF1 is the mean of the per-batch macro F1 scores folded in so far.
func (m *EpochMetrics) MacroF1() float64 {
	if m.batchCount == 0 {
		return 0
	}
	return m.f1Sum / float64(m.batchCount)
}

// Count is the number of samples folded in so far.
func (m *EpochMetrics) Count() int { return m.total }

// batchMacroF1 is the unweighted mean of per-class F1 over the classes that
// occur in the batch (as truth or prediction), so absent classes don't
// dilute the score.
func batchMacroF1(predictions, truths []int32, numClasses int) float64 {
	truePositive := make([]int, numClasses)
	falsePositive := make([]int, numClasses)
	falseNegative := make([]int, numClasses)
	for ii := range predictions {
		pred, truth := predictions[ii], truths[ii]
		if pred == truth {
			truePositive[truth]++
		} else {
			falsePositive[pred]++
			falseNegative[truth]++
		}
	}
	var sum float64
	var seen int
	for class := 0; class < numClasses; class++ {
		tp := truePositive[class]
		fp := falsePositive[class]
		fn := falseNegative[class]
		if tp+fp+fn == 0 {
			continue
		}
		seen++
		if tp > 0 {
			sum += 2 * float64(tp) / float64(2*tp+fp+fn)
		}
	}
	if seen == 0 {
		return 0
	}
	return sum / float64(seen)
}
