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

// Package masktrain trains a multi-attribute face classifier (mask wearing
// state x gender x age band, 18 combined classes) with stratified k-fold
// cross-validation, and writes per-fold checkpoints, scalar series and
// qualitative visualizations under a fresh run directory.
package masktrain

import (
	"fmt"
	"image"
	"math/rand"
	"os"
	"path"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/facelab/masktrain/gradcam"
	"github.com/facelab/masktrain/kfold"
	"github.com/facelab/masktrain/maskface"
	"github.com/facelab/masktrain/models"
	"github.com/facelab/masktrain/tracking"
	"github.com/facelab/masktrain/trainer"
)

// Run executes the whole cross-validation: plan folds, train each one to
// completion, visualize each fold's best model, aggregate. It returns the
// cross-fold summary.
func Run(backend backends.Backend, cfg Config) (trainer.RunSummary, error) {
	var summary trainer.RunSummary
	if err := cfg.Validate(); err != nil {
		return summary, err
	}

	runDir := trainer.IncrementPath(path.Join(cfg.ModelDir, cfg.RunName))

	dataset, err := maskface.ByName(cfg.Dataset, cfg.DataDir)
	if err != nil {
		return summary, err
	}
	dataset.SetTransform(maskface.NewBaseTransform(cfg.ResizeWidth, cfg.ResizeHeight, dtypes.Float32))

	folds, err := kfold.Stratified(dataset.Classes(), cfg.NumFolds)
	if err != nil {
		return summary, err
	}
	klog.Infof("Run %q: %d-fold cross-validation of model %q on %d samples (criterion %q, optimizer %q)",
		runDir, cfg.NumFolds, cfg.Model, dataset.Len(), cfg.Criterion, cfg.Optimizer)

	results := make([]trainer.FoldResult, 0, len(folds))
	for _, fold := range folds {
		result, err := runFold(backend, cfg, dataset, fold, runDir)
		if err != nil {
			return summary, errors.WithMessagef(err, "fold %d failed", fold.Index)
		}
		results = append(results, result)
	}

	summary = trainer.Aggregate(results)
	klog.Infof("Run %q finished:\n%s", runDir, summary)
	if err := os.WriteFile(path.Join(runDir, "summary.txt"), []byte(summary.String()+"\n"), 0644); err != nil {
		return summary, errors.Wrapf(err, "failed to write run summary in %q", runDir)
	}
	return summary, nil
}

// runFold trains one fold end to end under its own tracking run and renders
// its visualizations.
func runFold(backend backends.Backend, cfg Config, dataset *maskface.Dataset,
	fold kfold.Fold, runDir string) (trainer.FoldResult, error) {
	var result trainer.FoldResult
	foldDir := path.Join(runDir, fmt.Sprintf("fold%d", fold.Index))
	run, err := tracking.OpenWithLabels(foldDir, map[string]string{
		"group":    path.Base(runDir),
		"job_type": fmt.Sprintf("fold_%d", fold.Index),
	})
	if err != nil {
		return result, err
	}
	defer func() { _ = run.Close() }()
	foldSeed := cfg.Seed + int64(fold.Index)

	trainSubset := maskface.NewSubset(dataset, "train", fold.Train, cfg.BatchSize, true).
		WithSeed(foldSeed)
	if cfg.WeightedSampling {
		trainSubset.WithSampler(maskface.NewWeightedSampler(trainSubset.Classes()))
	} else {
		trainSubset.WithSampler(maskface.ShuffleSampler{})
	}
	if cfg.Augment {
		trainSubset.WithAugmentation(maskface.NewCustomAugmentation(), cfg.AugmentExempt)
	}
	if cfg.Cutmix && cfg.CutmixProbability > 0 {
		trainSubset.WithCutmix(maskface.NewCutmixFace(cfg.CutmixAlpha), cfg.CutmixProbability)
	}
	trainDS := data.CustomParallel(trainSubset).
		Parallelism(cfg.NumWorkers).
		Buffer(cfg.NumWorkers).
		Start()
	validSubset := maskface.NewSubset(dataset, "valid", fold.Validation, cfg.ValidBatchSize, false)

	modelFn, err := models.ByName(cfg.Model)
	if err != nil {
		return result, err
	}
	optimizer, err := trainer.OptimizerByName(cfg.Optimizer, cfg.optimizerConfig())
	if err != nil {
		return result, err
	}
	criterion, err := trainer.CriterionByName(cfg.Criterion)
	if err != nil {
		return result, err
	}

	ctx := context.New()
	ctx.RngStateFromSeed(foldSeed)
	scheduler := trainer.NewPlateauScheduler(ctx, dtypes.Float32)
	scheduler.Factor = cfg.PlateauFactor
	scheduler.Patience = cfg.PlateauPatience
	scheduler.Threshold = cfg.PlateauThreshold
	scheduler.MinLR = cfg.PlateauMinLR

	visualizer := &foldVisualizer{
		dataset:     dataset,
		fold:        fold,
		run:         run,
		cam:         gradcam.New(backend, ctx, modelFn, maskface.NumClasses),
		rng:         rand.New(rand.NewSource(foldSeed)),
		gridSamples: cfg.GridSamples,
		shuffle:     !dataset.ProfileDisjoint(),
	}

	foldTrainer := trainer.NewFoldTrainer(backend, ctx, trainer.FoldConfig{
		Fold:        fold.Index,
		Model:       modelFn,
		NumClasses:  maskface.NumClasses,
		Criterion:   criterion,
		Optimizer:   optimizer,
		MaxEpochs:   cfg.Epochs,
		LogInterval: cfg.LogInterval,
		FoldDir:     foldDir,
		Tracker:     run,
		Visualizer:  visualizer,
		Scheduler:   scheduler,
		Stopper:     trainer.NewEarlyStopper(cfg.EarlyStopPatience),
	})
	result, err = foldTrainer.Run(trainDS, trainSubset.NumBatches(), validSubset, validSubset.NumBatches())
	if err != nil {
		return result, err
	}

	if err := visualizeFold(backend, cfg, dataset, fold, foldDir, run, modelFn, foldSeed); err != nil {
		return result, err
	}
	return result, nil
}

// foldVisualizer renders validation imagery while the fold trains: one
// random example photo with its class-activation overlay per batch, and for
// the first batch of every epoch a captioned grid. Rendering failures are
// logged and swallowed; imagery must not kill a training run.
type foldVisualizer struct {
	dataset     *maskface.Dataset
	fold        kfold.Fold
	run         *tracking.Run
	cam         *gradcam.CAM
	rng         *rand.Rand
	gridSamples int
	shuffle     bool
}

// OnValidationBatch implements trainer.EpochVisualizer. The validation
// subset is sequential, so batchStart+position addresses the sample within
// fold.Validation directly.
func (v *foldVisualizer) OnValidationBatch(epoch, batch, batchStart int, predictions, truths []int32) {
	if len(predictions) == 0 {
		return
	}
	pick := gradcam.PickSample(len(predictions), v.rng)
	v.logExample(epoch, batch, batchStart+pick, predictions[pick])
	if batch == 0 {
		v.logGrid(epoch, predictions)
	}
}

// cell loads the photo at the given validation position and captions it with
// truth and prediction.
func (v *foldVisualizer) cell(pos int, predicted int32) (gradcam.Cell, image.Image, error) {
	record := v.dataset.Record(v.fold.Validation[pos])
	img, err := v.dataset.Transform().Load(record.Path)
	if err != nil {
		return gradcam.Cell{}, nil, err
	}
	return gradcam.Cell{
		Photo:     img,
		Truth:     classCaption(record.Class),
		Predicted: classCaption(predicted),
		Correct:   record.Class == predicted,
	}, img, nil
}

// logExample logs the batch's chosen sample twice: the annotated photo and
// its activation overlay.
func (v *foldVisualizer) logExample(epoch, batch, pos int, predicted int32) {
	cell, img, err := v.cell(pos, predicted)
	if err != nil {
		klog.Warningf("fold %d: example visualization failed: %v", v.fold.Index, err)
		return
	}
	transform := v.dataset.Transform()
	width, height := transform.Size()
	name := fmt.Sprintf("epoch%d_batch%d", epoch, batch)
	if err := v.run.LogImage("examples", name,
		gradcam.Grid([]gradcam.Cell{cell}, width/2, height/2, 1)); err != nil {
		klog.Warningf("fold %d: failed to log example: %v", v.fold.Index, err)
		return
	}
	heatmaps, _ := v.cam.Heatmaps(transform.Batch([]image.Image{img}), width, height)
	cell.Photo = gradcam.Overlay(img, heatmaps[0], gradcam.DefaultOverlayAlpha)
	if err := v.run.LogImage("activations", name,
		gradcam.Grid([]gradcam.Cell{cell}, width/2, height/2, 1)); err != nil {
		klog.Warningf("fold %d: failed to log activation overlay: %v", v.fold.Index, err)
	}
}

// logGrid renders the epoch's qualitative grid from the first validation
// batch.
func (v *foldVisualizer) logGrid(epoch int, predictions []int32) {
	choices := gradcam.GridChoices(len(predictions), v.gridSamples, v.shuffle, v.rng)
	cells := make([]gradcam.Cell, 0, len(choices))
	for _, choice := range choices {
		cell, _, err := v.cell(choice, predictions[choice])
		if err != nil {
			klog.Warningf("fold %d: grid visualization failed: %v", v.fold.Index, err)
			return
		}
		cells = append(cells, cell)
	}
	width, height := v.dataset.Transform().Size()
	grid := gradcam.Grid(cells, width/2, height/2, gradcam.GridDefaultColumns)
	if err := v.run.LogImage("grids", fmt.Sprintf("epoch%d", epoch), grid); err != nil {
		klog.Warningf("fold %d: failed to log grid: %v", v.fold.Index, err)
	}
}

// visualizeFold reloads the fold's best weights and logs the qualitative
// grid plus class-activation overlays for a sample of validation photos.
func visualizeFold(backend backends.Backend, cfg Config, dataset *maskface.Dataset,
	fold kfold.Fold, foldDir string, run *tracking.Run, modelFn models.BuilderFn, foldSeed int64) error {
	bestPath := trainer.FoldCheckpointPath(foldDir, trainer.BestCheckpointName)
	if !data.FileExists(bestPath) {
		klog.Warningf("fold %d: no best checkpoint at %q, skipping visualization", fold.Index, bestPath)
		return nil
	}
	ctx := context.New()
	if err := trainer.LoadCheckpoint(ctx, bestPath); err != nil {
		return err
	}
	cam := gradcam.New(backend, ctx.Reuse(), modelFn, maskface.NumClasses)

	rng := rand.New(rand.NewSource(foldSeed))
	shuffle := !dataset.ProfileDisjoint()
	choices := gradcam.GridChoices(len(fold.Validation), cfg.GridSamples, shuffle, rng)

	transform := dataset.Transform()
	width, height := transform.Size()
	images := make([]image.Image, len(choices))
	truths := make([]int32, len(choices))
	for ii, choice := range choices {
		record := dataset.Record(fold.Validation[choice])
		img, err := transform.Load(record.Path)
		if err != nil {
			return err
		}
		images[ii] = img
		truths[ii] = record.Class
	}

	heatmaps, predictions := cam.Heatmaps(transform.Batch(images), width, height)
	cells := make([]gradcam.Cell, len(choices))
	for ii := range choices {
		overlay := gradcam.Overlay(images[ii], heatmaps[ii], gradcam.DefaultOverlayAlpha)
		cells[ii] = gradcam.Cell{
			Photo:     overlay,
			Truth:     classCaption(truths[ii]),
			Predicted: classCaption(predictions[ii]),
			Correct:   truths[ii] == predictions[ii],
		}
	}
	grid := gradcam.Grid(cells, width/2, height/2, gradcam.GridDefaultColumns)
	return run.LogImage("grids", "best", grid)
}

// classCaption is the short human-readable form of a combined class.
func classCaption(class int32) string {
	mask, gender, age := maskface.DecodeClass(class)
	return fmt.Sprintf("%d:%s/%s/%s", class, mask, gender, age)
}
