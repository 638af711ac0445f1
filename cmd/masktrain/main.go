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

// masktrain trains the multi-attribute face classifier with stratified
// k-fold cross-validation. Directories default to the SageMaker channel
// mounts ($SM_CHANNEL_TRAIN, $SM_MODEL_DIR) and can be overridden by flags.
package main

import (
	"flag"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/xla"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	masktrain "github.com/facelab/masktrain"
)

func main() {
	cfg := masktrain.DefaultConfig()

	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Dataset root with profile directories.")
	flag.StringVar(&cfg.ModelDir, "model_dir", cfg.ModelDir, "Directory receiving run outputs.")
	flag.StringVar(&cfg.RunName, "name", cfg.RunName, "Run directory prefix under -model_dir.")

	flag.StringVar(&cfg.Dataset, "dataset", cfg.Dataset, "Dataset variant: maskbase or profile_split.")
	flag.StringVar(&cfg.Model, "model", cfg.Model, "Model architecture: cnn or deepcnn.")
	flag.StringVar(&cfg.Optimizer, "optimizer", cfg.Optimizer, "Optimizer: sgd, momentum, adam or adamw.")
	flag.StringVar(&cfg.Criterion, "criterion", cfg.Criterion, "Loss: cross_entropy, label_smoothing, focal or f1.")

	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Seed for every random stream of the run.")
	flag.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "Maximum epochs per fold.")
	flag.IntVar(&cfg.NumFolds, "folds", cfg.NumFolds, "Number of stratified cross-validation folds.")
	flag.IntVar(&cfg.BatchSize, "batch_size", cfg.BatchSize, "Training batch size (short final batch is dropped).")
	flag.IntVar(&cfg.ValidBatchSize, "valid_batch_size", cfg.ValidBatchSize, "Validation batch size.")
	flag.IntVar(&cfg.NumWorkers, "num_workers", cfg.NumWorkers, "Parallel workers loading and augmenting photos.")
	flag.IntVar(&cfg.ResizeWidth, "resize_width", cfg.ResizeWidth, "Input width photos are letterboxed to.")
	flag.IntVar(&cfg.ResizeHeight, "resize_height", cfg.ResizeHeight, "Input height photos are letterboxed to.")

	flag.Float64Var(&cfg.LearningRate, "lr", cfg.LearningRate, "Initial learning rate.")
	flag.Float64Var(&cfg.WeightDecay, "weight_decay", cfg.WeightDecay, "Decoupled weight decay (adamw, sgd, momentum).")
	flag.Float64Var(&cfg.ClipGradientNorm, "clip_norm", cfg.ClipGradientNorm, "Global gradient norm limit, 0 disables.")
	flag.IntVar(&cfg.PlateauPatience, "lr_decay_step", cfg.PlateauPatience, "Plateau epochs tolerated before halving the learning rate.")
	flag.IntVar(&cfg.EarlyStopPatience, "patience", cfg.EarlyStopPatience, "Non-improving epochs tolerated before stopping a fold.")
	flag.IntVar(&cfg.LogInterval, "log_interval", cfg.LogInterval, "Batches between training progress logs.")

	flag.BoolVar(&cfg.Augment, "augment", cfg.Augment, "Apply custom augmentation to non-exempt classes.")
	flag.BoolVar(&cfg.Cutmix, "cutmix", cfg.Cutmix, "Enable per-batch cutmix of the lower face region.")
	flag.Float64Var(&cfg.CutmixProbability, "cutmix_prob", cfg.CutmixProbability, "Per-batch cutmix probability when -cutmix is on.")
	flag.BoolVar(&cfg.WeightedSampling, "weighted_sampling", cfg.WeightedSampling, "Sample training photos by inverse class frequency.")

	klog.InitFlags(nil)
	flag.Parse()

	backend := backends.MustNew()
	summary := must.M1(masktrain.Run(backend, cfg))
	klog.Infof("Done.\n%s", summary)
}
