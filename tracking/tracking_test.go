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

package tracking

import (
	"bufio"
	"encoding/json"
	"image"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScalars(t *testing.T) {
	dir := path.Join(t.TempDir(), "run")
	run, err := Open(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)

	run.LogScalar("fold0/valid_f1", 1, 0.52)
	run.LogScalar("fold0/valid_f1", 2, 0.61)
	run.LogScalar("fold0/train_loss", 2, 1.3)
	require.NoError(t, run.Close())

	f, err := os.Open(path.Join(dir, ScalarsFileName))
	require.NoError(t, err)
	defer f.Close()
	var points []Point
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var p Point
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &p))
		points = append(points, p)
	}
	require.Len(t, points, 3)
	assert.Equal(t, Point{Series: "fold0/valid_f1", Step: 1, Value: 0.52}, points[0])
	assert.Equal(t, Point{Series: "fold0/train_loss", Step: 2, Value: 1.3}, points[2])
}

func TestRunMetadata(t *testing.T) {
	dir := path.Join(t.TempDir(), "run")
	run, err := Open(dir)
	require.NoError(t, err)
	defer run.Close()

	metaBytes, err := os.ReadFile(path.Join(dir, "run.json"))
	require.NoError(t, err)
	var meta map[string]string
	require.NoError(t, json.Unmarshal(metaBytes, &meta))
	assert.Equal(t, run.ID, meta["id"])
	assert.NotEmpty(t, meta["started"])
}

func TestRunLabels(t *testing.T) {
	dir := path.Join(t.TempDir(), "run")
	run, err := OpenWithLabels(dir, map[string]string{"group": "exp3", "job_type": "fold_2"})
	require.NoError(t, err)
	defer run.Close()

	metaBytes, err := os.ReadFile(path.Join(dir, "run.json"))
	require.NoError(t, err)
	var meta map[string]string
	require.NoError(t, json.Unmarshal(metaBytes, &meta))
	assert.Equal(t, "exp3", meta["group"])
	assert.Equal(t, "fold_2", meta["job_type"])
	assert.Equal(t, run.ID, meta["id"])
}

func TestRunImages(t *testing.T) {
	dir := path.Join(t.TempDir(), "run")
	run, err := Open(dir)
	require.NoError(t, err)

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	require.NoError(t, run.LogImage("grids", "fold0_epoch3", img))
	_, err = os.Stat(path.Join(dir, "media", "grids", "fold0_epoch3.png"))
	require.NoError(t, err)

	require.NoError(t, run.Close())
	assert.Error(t, run.LogImage("grids", "late", img), "images after Close must fail")
}

func TestRunCloseIdempotentAndDropsLateScalars(t *testing.T) {
	dir := path.Join(t.TempDir(), "run")
	run, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, run.Close())
	require.NoError(t, run.Close())

	// Must not panic nor write.
	run.LogScalar("fold0/valid_f1", 9, 0.9)
	contents, err := os.ReadFile(path.Join(dir, ScalarsFileName))
	require.NoError(t, err)
	assert.Empty(t, contents)
}
