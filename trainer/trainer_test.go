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
	"os"
	"path"
	"testing"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEarlyStopper(t *testing.T) {
	e := NewEarlyStopper(2)

	improved, stop := e.Step(0.5)
	assert.True(t, improved)
	assert.False(t, stop)

	// A tie is not an improvement.
	improved, stop = e.Step(0.5)
	assert.False(t, improved)
	assert.False(t, stop)

	improved, stop = e.Step(0.4)
	assert.False(t, improved)
	assert.False(t, stop)

	// Third non-improving epoch exceeds patience 2.
	improved, stop = e.Step(0.45)
	assert.False(t, improved)
	assert.True(t, stop)

	assert.Equal(t, 0.5, e.Best())
}

func TestEarlyStopperRecovers(t *testing.T) {
	e := NewEarlyStopper(2)
	e.Step(0.5)
	e.Step(0.4)
	e.Step(0.4)
	improved, stop := e.Step(0.6)
	assert.True(t, improved)
	assert.False(t, stop)
	_, stop = e.Step(0.55)
	assert.False(t, stop, "counter must reset after an improvement")
}

func TestPlateauScheduler(t *testing.T) {
	ctx := context.New()
	s := NewPlateauScheduler(ctx, dtypes.Float32)
	s.MinLR = 1e-5

	setLearningRate(ctx, 0.1)
	assert.InDelta(t, 0.1, s.LearningRate(), 1e-9)

	// First observation sets the baseline, then two sub-threshold epochs
	// are tolerated (patience 2) and the third triggers a halving.
	s.Step(0.50)
	s.Step(0.50)
	s.Step(0.50)
	assert.InDelta(t, 0.1, s.LearningRate(), 1e-9)
	lr := s.Step(0.50)
	assert.InDelta(t, 0.05, lr, 1e-9)
	assert.InDelta(t, 0.05, s.LearningRate(), 1e-9)
}

func TestPlateauSchedulerThresholdAndFloor(t *testing.T) {
	ctx := context.New()
	s := NewPlateauScheduler(ctx, dtypes.Float32)
	s.Patience = 0
	setLearningRate(ctx, 4e-5)

	// An improvement above the absolute threshold resets the counter.
	s.Step(0.50)
	lr := s.Step(0.502)
	assert.InDelta(t, 4e-5, lr, 1e-9, "improvement past threshold must not reduce")

	// Sub-threshold improvement counts as a plateau with patience 0.
	lr = s.Step(0.5025)
	assert.InDelta(t, 2e-5, lr, 1e-9)
	// Next reduction would undershoot the floor; it clamps.
	lr = s.Step(0.5025)
	assert.InDelta(t, 1e-5, lr, 1e-9)
	lr = s.Step(0.5025)
	assert.InDelta(t, 1e-5, lr, 1e-9, "learning rate never goes below MinLR")
}

func setLearningRate(ctx *context.Context, value float64) {
	optimizers.LearningRateVarWithValue(ctx, dtypes.Float32, value)
}

func TestEpochMetrics(t *testing.T) {
	m := NewEpochMetrics(3)
	m.UpdateBatch(1.0, []int32{0, 1, 2, 1}, []int32{0, 1, 1, 1})
	m.UpdateBatch(0.5, []int32{2, 2}, []int32{2, 0})

	assert.Equal(t, 6, m.Count())
	assert.InDelta(t, 0.75, m.MeanLoss(), 1e-9)
	assert.InDelta(t, 4.0/6.0, m.Accuracy(), 1e-9)

	// Macro F1 is the mean over batches, each scored on its own counts.
	// Batch 1: class 0 tp=1 -> 1; class 1 tp=2 fp=0 fn=1 -> 4/5; class 2
	// tp=0 fp=1 -> 0; mean 3/5. Batch 2: class 0 fn=1 -> 0; class 2 tp=1
	// fp=1 -> 2/3; mean 1/3.
	expected := (3.0/5.0 + 1.0/3.0) / 2.0
	assert.InDelta(t, expected, m.MacroF1(), 1e-9)

	m.Reset()
	assert.Zero(t, m.Count())
	assert.Zero(t, m.MacroF1())
}

func TestEpochMetricsIgnoresAbsentClasses(t *testing.T) {
	m := NewEpochMetrics(18)
	m.UpdateBatch(0.1, []int32{3, 3}, []int32{3, 3})
	assert.InDelta(t, 1.0, m.MacroF1(), 1e-9, "only class 3 occurs and it is perfect")
}

func TestRecordEpochBookkeeping(t *testing.T) {
	result := FoldResult{Fold: 2}
	stopper := NewEarlyStopper(1)

	saveBest, saveLast, stop := recordEpoch(&result, stopper, 1, 1.0, 0.50, 0.50)
	assert.True(t, saveBest)
	assert.True(t, saveLast)
	assert.False(t, stop)
	assert.Equal(t, 1, result.BestEpoch)

	// F1 ties, but loss and accuracy keep tracking their own optima.
	saveBest, saveLast, stop = recordEpoch(&result, stopper, 2, 0.4, 0.45, 0.50)
	assert.False(t, saveBest)
	assert.True(t, saveLast)
	assert.False(t, stop)
	assert.InDelta(t, 0.4, result.BestLoss, 1e-9, "best loss is the minimum over all epochs")
	assert.InDelta(t, 0.50, result.BestAccuracy, 1e-9)
	assert.Equal(t, 1, result.BestEpoch)

	saveBest, _, _ = recordEpoch(&result, stopper, 3, 0.6, 0.70, 0.60)
	assert.True(t, saveBest)
	assert.Equal(t, 3, result.BestEpoch)
	assert.InDelta(t, 0.4, result.BestLoss, 1e-9, "a worse-loss epoch can still be the best F1 epoch")
	assert.InDelta(t, 0.70, result.BestAccuracy, 1e-9)

	// Patience 1: the first tie is tolerated, the second stops the fold,
	// and the stopping epoch persists no last checkpoint.
	_, saveLast, stop = recordEpoch(&result, stopper, 4, 0.5, 0.60, 0.60)
	assert.True(t, saveLast)
	assert.False(t, stop)
	_, saveLast, stop = recordEpoch(&result, stopper, 5, 0.5, 0.60, 0.55)
	assert.False(t, saveLast)
	assert.True(t, stop)
	assert.True(t, result.StoppedEarly)
	assert.Equal(t, 5, result.EpochsRun)
	assert.InDelta(t, 0.60, result.BestF1, 1e-9)
}

func TestAggregate(t *testing.T) {
	summary := Aggregate([]FoldResult{
		{Fold: 0, BestF1: 0.6, BestAccuracy: 0.7, BestLoss: 1.0},
		{Fold: 1, BestF1: 0.8, BestAccuracy: 0.9, BestLoss: 0.6},
	})
	assert.InDelta(t, 0.7, summary.MeanF1, 1e-9)
	assert.InDelta(t, 0.1, summary.StdF1, 1e-9)
	assert.InDelta(t, 0.8, summary.MeanAccuracy, 1e-9)
	assert.InDelta(t, 0.8, summary.MeanLoss, 1e-9)

	report := summary.String()
	assert.Contains(t, report, "fold 0")
	assert.Contains(t, report, "cross-validation")
}

func TestAggregateUsesMatchingSeries(t *testing.T) {
	// Accuracy and loss must be aggregated from their own series, not
	// cross-wired: here F1 and accuracy have very different scales.
	summary := Aggregate([]FoldResult{
		{BestF1: 0.1, BestAccuracy: 0.9, BestLoss: 2.0},
		{BestF1: 0.1, BestAccuracy: 0.9, BestLoss: 2.0},
	})
	assert.InDelta(t, 0.1, summary.MeanF1, 1e-9)
	assert.InDelta(t, 0.9, summary.MeanAccuracy, 1e-9)
	assert.InDelta(t, 2.0, summary.MeanLoss, 1e-9)
}

func TestIncrementPath(t *testing.T) {
	base := path.Join(t.TempDir(), "exp")
	assert.Equal(t, base, IncrementPath(base))

	// An existing but empty directory is reused, not incremented.
	require.NoError(t, os.MkdirAll(base, 0755))
	assert.Equal(t, base, IncrementPath(base))

	require.NoError(t, os.WriteFile(path.Join(base, "summary.txt"), []byte("done"), 0644))
	assert.Equal(t, base+"2", IncrementPath(base))
	require.NoError(t, os.MkdirAll(base+"2", 0755))
	require.NoError(t, os.WriteFile(path.Join(base+"2", "summary.txt"), []byte("done"), 0644))
	assert.Equal(t, base+"3", IncrementPath(base))
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.New()
	ctx.In("model").VariableWithValue("w", []float32{1, 2, 3})
	ctx.In("model").VariableWithValue("b", []float32{-1})
	// Optimizer state and step counters must not be saved.
	ctx.In(adamScope).In("model").VariableWithValue("w_m1", []float32{9, 9, 9})
	ctx.VariableWithValue("global_step", int64(7))

	dir := t.TempDir()
	checkpointPath := FoldCheckpointPath(dir, BestCheckpointName)
	require.NoError(t, SaveCheckpoint(ctx, checkpointPath))

	restored := context.New()
	require.NoError(t, LoadCheckpoint(restored, checkpointPath))

	w := restored.InspectVariable("/model", "w")
	require.NotNil(t, w)
	assert.Equal(t, []float32{1, 2, 3}, tensors.CopyFlatData[float32](w.Value()))
	b := restored.InspectVariable("/model", "b")
	require.NotNil(t, b)
	assert.Equal(t, []float32{-1}, tensors.CopyFlatData[float32](b.Value()))

	assert.Nil(t, restored.InspectVariable("/"+adamScope+"/model", "w_m1"))
	assert.Nil(t, restored.InspectVariable("/", "global_step"))
}

func TestCheckpointOverwritesInPlace(t *testing.T) {
	ctx := context.New()
	v := ctx.In("model").VariableWithValue("w", []float32{1, 2})
	dir := t.TempDir()
	checkpointPath := FoldCheckpointPath(dir, LastCheckpointName)
	require.NoError(t, SaveCheckpoint(ctx, checkpointPath))

	v.SetValue(tensors.FromValue([]float32{5, 6}))
	require.NoError(t, LoadCheckpoint(ctx, checkpointPath))
	assert.Equal(t, []float32{1, 2}, tensors.CopyFlatData[float32](v.Value()))
}

func TestOptimizerRegistry(t *testing.T) {
	cfg := OptimizerConfig{LearningRate: 3e-4, WeightDecay: 1e-5, ClipGradientNorm: 5}
	for _, name := range []string{"sgd", "momentum", "adam", "adamw"} {
		opt, err := OptimizerByName(name, cfg)
		require.NoError(t, err, name)
		require.NotNil(t, opt, name)
	}
	_, err := OptimizerByName("rmsprop", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adamw")
}

func TestCriterionRegistry(t *testing.T) {
	for _, name := range []string{"cross_entropy", "label_smoothing", "focal", "f1"} {
		criterion, err := CriterionByName(name)
		require.NoError(t, err, name)
		require.NotNil(t, criterion, name)
	}
	_, err := CriterionByName("hinge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cross_entropy")
}
