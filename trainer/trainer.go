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
	"io"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/facelab/masktrain/models"
)

// Tracker receives the scalar series a fold produces while training. The
// tracking package provides the file-backed implementation; a nil Tracker
// disables logging.
type Tracker interface {
	LogScalar(series string, step int, value float64)
}

// EpochVisualizer receives every validation batch's outcome so the caller
// can render example photos and activation maps; the trainer itself never
// touches images. batchStart is the offset of the batch's first sample in
// the validation subset's (sequential) order. Called between batches, so it
// may run model graphs on the fold's context.
type EpochVisualizer interface {
	OnValidationBatch(epoch, batch, batchStart int, predictions, truths []int32)
}

// FoldConfig assembles the collaborators of one fold's trainer. Model,
// Criterion and Optimizer come pre-resolved from their registries so
// configuration errors surface before any fold starts.
type FoldConfig struct {
	Fold       int
	Model      models.BuilderFn
	NumClasses int
	Criterion  Criterion
	Optimizer  optimizers.Interface

	MaxEpochs   int
	LogInterval int
	FoldDir     string

	Tracker    Tracker
	Visualizer EpochVisualizer
	Scheduler  *PlateauScheduler
	Stopper    *EarlyStopper
}

// FoldTrainer trains one cross-validation fold: it owns the fold's model
// context and runs the train-epoch / validate-epoch cycle until MaxEpochs
// is reached or early stopping fires, checkpointing the best and the
// latest weights along the way.
type FoldTrainer struct {
	cfg     FoldConfig
	backend backends.Backend
	ctx     *context.Context

	trainExec *context.Exec
	evalExec  *context.Exec

	trainMetrics *EpochMetrics
	validMetrics *EpochMetrics
}

// NewFoldTrainer builds the trainer and its compiled train/eval steps on the
// given model context. The context should be fresh per fold so folds don't
// share weights.
func NewFoldTrainer(backend backends.Backend, ctx *context.Context, cfg FoldConfig) *FoldTrainer {
	t := &FoldTrainer{
		cfg:          cfg,
		backend:      backend,
		ctx:          ctx,
		trainMetrics: NewEpochMetrics(cfg.NumClasses),
		validMetrics: NewEpochMetrics(cfg.NumClasses),
	}
	if t.cfg.Scheduler == nil {
		t.cfg.Scheduler = NewPlateauScheduler(ctx, dtypes.Float32)
	}
	if t.cfg.Stopper == nil {
		t.cfg.Stopper = NewEarlyStopper(EarlyStopDefaultPatience)
	}
	t.trainExec = context.NewExec(backend, ctx, t.trainStepGraph)
	t.evalExec = context.NewExec(backend, ctx, t.evalStepGraph)
	return t
}

// Context returns the fold's model context, holding the trained weights.
func (t *FoldTrainer) Context() *context.Context { return t.ctx }

// trainStepGraph builds one optimization step: forward pass in training
// mode, loss on the soft labels, weight update, and the predicted classes
// for host-side metrics.
func (t *FoldTrainer) trainStepGraph(ctx *context.Context, inputs []*Node) []*Node {
	images, softLabels := inputs[0], inputs[1]
	g := images.Graph()
	ctx.SetTraining(g, true)
	logits, _ := t.cfg.Model(ctx.In("model"), images, t.cfg.NumClasses)
	loss := t.cfg.Criterion(softLabels, logits)
	t.cfg.Optimizer.UpdateGraph(ctx, g, loss)
	predictions := ArgMax(logits, -1, dtypes.Int32)
	return []*Node{loss, predictions}
}

// evalStepGraph is the forward pass in inference mode: loss and predicted
// classes, no weight update.
func (t *FoldTrainer) evalStepGraph(ctx *context.Context, inputs []*Node) []*Node {
	images, softLabels := inputs[0], inputs[1]
	g := images.Graph()
	ctx.SetTraining(g, false)
	logits, _ := t.cfg.Model(ctx.In("model"), images, t.cfg.NumClasses)
	loss := t.cfg.Criterion(softLabels, logits)
	predictions := ArgMax(logits, -1, dtypes.Int32)
	return []*Node{loss, predictions}
}

// runEpoch drains one epoch of ds through exec, folding each batch into
// metrics. ds yields inputs=[images] and labels=[soft, sparse]; the sparse
// labels stay on the host and pair with the step's predictions. interval,
// when non-nil, is logged and reset every LogInterval batches; onBatch,
// when non-nil, receives every batch's outcome.
func (t *FoldTrainer) runEpoch(exec *context.Exec, ds train.Dataset, numBatches int, metrics *EpochMetrics,
	description string, interval *EpochMetrics, onBatch func(batch, batchStart int, predictions, truths []int32)) error {
	metrics.Reset()
	ds.Reset()
	pBar := progressbar.NewOptions(numBatches,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	defer func() { _ = pBar.Close() }()
	batchIdx := 0
	batchStart := 0
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.WithMessagef(err, "fold %d: dataset %q failed", t.cfg.Fold, ds.Name())
		}
		if len(inputs) != 1 || len(labels) != 2 {
			return errors.Errorf("fold %d: dataset %q yielded %d inputs and %d labels, want 1 and 2",
				t.cfg.Fold, ds.Name(), len(inputs), len(labels))
		}
		outputs := exec.Call(inputs[0], labels[0])
		loss := float64(tensors.ToScalar[float32](outputs[0]))
		predictions := tensors.CopyFlatData[int32](outputs[1])
		truths := tensors.CopyFlatData[int32](labels[1])
		metrics.UpdateBatch(loss, predictions, truths)
		if onBatch != nil {
			onBatch(batchIdx, batchStart, predictions, truths)
		}
		_ = pBar.Add(1)
		batchIdx++
		batchStart += len(truths)
		if interval != nil && t.cfg.LogInterval > 0 {
			interval.UpdateBatch(loss, predictions, truths)
			if batchIdx%t.cfg.LogInterval == 0 {
				klog.V(1).Infof("fold %d: %s batch %d/%d: loss=%.4f acc=%.2f%% f1=%.4f lr=%.3g",
					t.cfg.Fold, description, batchIdx, numBatches,
					interval.MeanLoss(), 100*interval.Accuracy(), interval.MacroF1(),
					t.cfg.Scheduler.LearningRate())
				interval.Reset()
			}
		}
	}
}

// TrainEpoch runs one pass over the training subset, logging
// interval-averaged metrics every LogInterval batches.
func (t *FoldTrainer) TrainEpoch(epoch int, ds train.Dataset, numBatches int) (*EpochMetrics, error) {
	description := fmt.Sprintf("fold %d epoch %d train", t.cfg.Fold, epoch)
	interval := NewEpochMetrics(t.cfg.NumClasses)
	err := t.runEpoch(t.trainExec, ds, numBatches, t.trainMetrics, description, interval, nil)
	return t.trainMetrics, err
}

// ValidateEpoch runs one pass over the validation subset, handing each
// batch's outcome to the visualizer.
func (t *FoldTrainer) ValidateEpoch(epoch int, ds train.Dataset, numBatches int) (*EpochMetrics, error) {
	description := fmt.Sprintf("fold %d epoch %d valid", t.cfg.Fold, epoch)
	var onBatch func(batch, batchStart int, predictions, truths []int32)
	if t.cfg.Visualizer != nil {
		onBatch = func(batch, batchStart int, predictions, truths []int32) {
			t.cfg.Visualizer.OnValidationBatch(epoch, batch, batchStart, predictions, truths)
		}
	}
	err := t.runEpoch(t.evalExec, ds, numBatches, t.validMetrics, description, nil, onBatch)
	return t.validMetrics, err
}

// logScalar forwards to the tracker, if any.
func (t *FoldTrainer) logScalar(series string, step int, value float64) {
	if t.cfg.Tracker != nil {
		t.cfg.Tracker.LogScalar(series, step, value)
	}
}

// Run trains the fold to completion: up to MaxEpochs epochs of train +
// validate, with the plateau schedule and early stopping driven by the
// validation macro F1. After every epoch but the stopping one the latest
// weights go to last.pth; whenever validation F1 improves the weights also
// go to best.pth.
func (t *FoldTrainer) Run(trainDS train.Dataset, numTrainBatches int, validDS train.Dataset, numValidBatches int) (FoldResult, error) {
	result := FoldResult{Fold: t.cfg.Fold}
	for epoch := 1; epoch <= t.cfg.MaxEpochs; epoch++ {
		trainMetrics, err := t.TrainEpoch(epoch, trainDS, numTrainBatches)
		if err != nil {
			return result, err
		}
		validMetrics, err := t.ValidateEpoch(epoch, validDS, numValidBatches)
		if err != nil {
			return result, err
		}
		t.logScalar("train/loss", epoch, trainMetrics.MeanLoss())
		t.logScalar("train/accuracy", epoch, trainMetrics.Accuracy())
		t.logScalar("train/f1", epoch, trainMetrics.MacroF1())
		t.logScalar("valid/loss", epoch, validMetrics.MeanLoss())
		t.logScalar("valid/accuracy", epoch, validMetrics.Accuracy())
		t.logScalar("valid/f1", epoch, validMetrics.MacroF1())
		t.logScalar("learning_rate", epoch, t.cfg.Scheduler.LearningRate())

		klog.Infof("fold %d epoch %d: train loss=%.4f acc=%.2f%% | valid loss=%.4f acc=%.2f%% f1=%.4f",
			t.cfg.Fold, epoch, trainMetrics.MeanLoss(), 100*trainMetrics.Accuracy(),
			validMetrics.MeanLoss(), 100*validMetrics.Accuracy(), validMetrics.MacroF1())

		saveBest, saveLast, stop := recordEpoch(&result, t.cfg.Stopper, epoch,
			validMetrics.MeanLoss(), validMetrics.Accuracy(), validMetrics.MacroF1())
		if saveBest {
			if err := SaveCheckpoint(t.ctx, FoldCheckpointPath(t.cfg.FoldDir, BestCheckpointName)); err != nil {
				return result, err
			}
			klog.Infof("fold %d epoch %d: new best f1=%.4f, checkpointed", t.cfg.Fold, epoch, result.BestF1)
		}
		t.cfg.Scheduler.Step(validMetrics.MacroF1())
		if saveLast {
			if err := SaveCheckpoint(t.ctx, FoldCheckpointPath(t.cfg.FoldDir, LastCheckpointName)); err != nil {
				return result, err
			}
		}
		if stop {
			klog.Infof("fold %d: early stopping after epoch %d (best f1=%.4f at epoch %d)",
				t.cfg.Fold, epoch, result.BestF1, result.BestEpoch)
			break
		}
	}
	return result, nil
}

// recordEpoch folds one epoch's validation metrics into the running result.
// The best loss (minimum) and best accuracy (maximum) track their own optima
// every epoch, independently of F1: the reported bests are not necessarily
// from one epoch. The best checkpoint and the early-stop counter follow
// validation F1 alone, and the stopping epoch persists no last checkpoint.
func recordEpoch(result *FoldResult, stopper *EarlyStopper, epoch int,
	validLoss, validAccuracy, validF1 float64) (saveBest, saveLast, stop bool) {
	result.EpochsRun = epoch
	if epoch == 1 || validLoss < result.BestLoss {
		result.BestLoss = validLoss
	}
	if validAccuracy > result.BestAccuracy {
		result.BestAccuracy = validAccuracy
	}
	improved, stop := stopper.Step(validF1)
	if improved {
		result.BestEpoch = epoch
		result.BestF1 = validF1
		saveBest = true
	}
	if stop {
		result.StoppedEarly = true
	}
	return saveBest, !stop, stop
}
