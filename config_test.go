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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigEnvFallbacks(t *testing.T) {
	t.Setenv(EnvDataDir, "/mnt/channel/train")
	t.Setenv(EnvModelDir, "/mnt/model")
	cfg := DefaultConfig()
	assert.Equal(t, "/mnt/channel/train", cfg.DataDir)
	assert.Equal(t, "/mnt/model", cfg.ModelDir)

	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvModelDir, "")
	cfg = DefaultConfig()
	assert.Equal(t, "/opt/ml/input/data/train", cfg.DataDir)
	assert.Equal(t, "./model", cfg.ModelDir)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	require.NoError(t, cfg.Validate())
}

func TestDefaultConfigCutmixDisabled(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Cutmix, "cutmix is opt-in")
	assert.Greater(t, cfg.CutmixProbability, 0.0, "the probability applies once enabled")
}

func TestConfigValidateRejectsUnknownNames(t *testing.T) {
	base := DefaultConfig()
	base.DataDir = t.TempDir()

	cfg := base
	cfg.Model = "resnet999"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deepcnn")

	cfg = base
	cfg.Optimizer = "lion"
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.Criterion = "hinge"
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.Dataset = "imagenet"
	require.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsBadRanges(t *testing.T) {
	base := DefaultConfig()
	base.DataDir = t.TempDir()

	cfg := base
	cfg.Epochs = 0
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.NumFolds = 1
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.BatchSize = 1
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.LearningRate = 0
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.CutmixProbability = 1.5
	require.Error(t, cfg.Validate())
}

func TestClassCaption(t *testing.T) {
	caption := classCaption(0)
	assert.Contains(t, caption, "0:")
	assert.Contains(t, caption, "Wear")
	assert.Contains(t, caption, "Male")
}
