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

package masktrain

import (
	"os"
	"sort"

	"github.com/gomlx/gomlx/ml/data"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/facelab/masktrain/maskface"
	"github.com/facelab/masktrain/models"
	"github.com/facelab/masktrain/trainer"
)

// Config is the full configuration of a cross-validation run. Zero values
// are filled by DefaultConfig; Validate resolves every registry name so
// typos fail before any fold starts.
type Config struct {
	// DataDir is the dataset root holding profile directories. Defaults to
	// $SM_CHANNEL_TRAIN, the SageMaker training channel mount.
	DataDir string
	// ModelDir receives the run directories. Defaults to $SM_MODEL_DIR.
	ModelDir string
	// RunName is the run directory prefix under ModelDir; collisions get a
	// numeric suffix.
	RunName string

	Dataset   string
	Model     string
	Optimizer string
	Criterion string

	Seed           int64
	Epochs         int
	NumFolds       int
	BatchSize      int
	ValidBatchSize int
	NumWorkers     int

	// ResizeWidth x ResizeHeight is the input resolution photos are
	// letterboxed to.
	ResizeWidth  int
	ResizeHeight int

	LearningRate     float64
	WeightDecay      float64
	Momentum         float64
	ClipGradientNorm float64

	PlateauFactor    float64
	PlateauPatience  int
	PlateauThreshold float64
	PlateauMinLR     float64

	EarlyStopPatience int
	LogInterval       int

	Augment       bool
	AugmentExempt []int32
	// Cutmix enables the per-batch cutmix with CutmixProbability; off by
	// default.
	Cutmix            bool
	CutmixProbability float64
	CutmixAlpha       float64
	WeightedSampling  bool

	GridSamples int
}

// Environment variables consulted for directory defaults, matching the
// SageMaker container contract.
const (
	EnvDataDir  = "SM_CHANNEL_TRAIN"
	EnvModelDir = "SM_MODEL_DIR"
)

// DefaultConfig returns the configuration used when nothing is overridden:
// 5-fold stratified cross-validation of the baseline CNN with AdamW and the
// soft macro-F1 loss.
func DefaultConfig() Config {
	dataDir := os.Getenv(EnvDataDir)
	if dataDir == "" {
		dataDir = "/opt/ml/input/data/train"
	}
	modelDir := os.Getenv(EnvModelDir)
	if modelDir == "" {
		modelDir = "./model"
	}
	return Config{
		DataDir:  dataDir,
		ModelDir: modelDir,
		RunName:  "exp",

		Dataset:   "maskbase",
		Model:     "cnn",
		Optimizer: "adamw",
		Criterion: trainer.DefaultCriterion,

		Seed:           42,
		Epochs:         1,
		NumFolds:       5,
		BatchSize:      64,
		ValidBatchSize: 300,
		NumWorkers:     4,

		ResizeWidth:  384,
		ResizeHeight: 512,

		LearningRate:     3e-4,
		WeightDecay:      1e-5,
		Momentum:         0.9,
		ClipGradientNorm: 5,

		PlateauFactor:    trainer.PlateauDefaultFactor,
		PlateauPatience:  trainer.PlateauDefaultPatience,
		PlateauThreshold: trainer.PlateauDefaultThreshold,
		PlateauMinLR:     trainer.PlateauDefaultMinLR,

		EarlyStopPatience: trainer.EarlyStopDefaultPatience,
		LogInterval:       20,

		Augment:           true,
		AugmentExempt:     maskface.DefaultAugmentationExemptClasses,
		Cutmix:            false,
		CutmixProbability: maskface.DefaultCutmixProbability,
		CutmixAlpha:       0.8,
		WeightedSampling:  false,

		GridSamples: 16,
	}
}

// Validate checks ranges and resolves every registry-backed name, returning
// the first problem found.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data directory must not be empty")
	}
	if _, found := maskface.Builders[c.Dataset]; !found {
		names := maps.Keys(maskface.Builders)
		sort.Strings(names)
		return errors.Errorf("unknown dataset %q, valid values are %v", c.Dataset, names)
	}
	if _, err := models.ByName(c.Model); err != nil {
		return err
	}
	if _, err := trainer.OptimizerByName(c.Optimizer, c.optimizerConfig()); err != nil {
		return err
	}
	if _, err := trainer.CriterionByName(c.Criterion); err != nil {
		return err
	}
	if c.Epochs < 1 {
		return errors.Errorf("epochs must be at least 1, got %d", c.Epochs)
	}
	if c.NumFolds < 2 {
		return errors.Errorf("cross-validation requires at least 2 folds, got %d", c.NumFolds)
	}
	if c.BatchSize < 2 || c.ValidBatchSize < 1 {
		return errors.Errorf("batch sizes must be positive (and at least 2 for training), got train=%d valid=%d",
			c.BatchSize, c.ValidBatchSize)
	}
	if c.ResizeWidth < 8 || c.ResizeHeight < 8 {
		return errors.Errorf("resize dimensions too small: %dx%d", c.ResizeWidth, c.ResizeHeight)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	if c.CutmixProbability < 0 || c.CutmixProbability > 1 {
		return errors.Errorf("cutmix probability must be in [0, 1], got %g", c.CutmixProbability)
	}
	c.DataDir = data.ReplaceTildeInDir(c.DataDir)
	c.ModelDir = data.ReplaceTildeInDir(c.ModelDir)
	return nil
}

func (c *Config) optimizerConfig() trainer.OptimizerConfig {
	return trainer.OptimizerConfig{
		LearningRate:     c.LearningRate,
		WeightDecay:      c.WeightDecay,
		Momentum:         c.Momentum,
		ClipGradientNorm: c.ClipGradientNorm,
	}
}
