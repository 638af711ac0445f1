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

// EarlyStopDefaultPatience is the number of non-improving epochs tolerated
// before stopping a fold.
const EarlyStopDefaultPatience = 5

// EarlyStopper tracks the best value of the watched validation metric
// (higher is better) and signals when it has not strictly improved for more
// than Patience consecutive epochs. An epoch that merely ties the best
// counts as non-improving.
type EarlyStopper struct {
	Patience int

	best     float64
	hasBest  bool
	badCount int
}

// NewEarlyStopper returns a stopper with the given patience.
func NewEarlyStopper(patience int) *EarlyStopper {
	return &EarlyStopper{Patience: patience}
}

// Step records the epoch's metric. It returns improved=true when the metric
// strictly beat the best so far, and stop=true when training should end.
func (e *EarlyStopper) Step(metric float64) (improved, stop bool) {
	if !e.hasBest || metric > e.best {
		e.best = metric
		e.hasBest = true
		e.badCount = 0
		return true, false
	}
	e.badCount++
	return false, e.badCount > e.Patience
}

// Best returns the best metric seen so far, or 0 before the first step.
func (e *EarlyStopper) Best() float64 { return e.best }
