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

package gradcam

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHeatmapNormalizes(t *testing.T) {
	// A 2x2 map with one hot corner, upsampled to 8x8: the hot corner must
	// map to full intensity, the opposite corner to zero.
	values := []float32{4, 0, 0, 0}
	heatmap := renderHeatmap(values, 2, 2, 8, 8)
	assert.Equal(t, uint8(255), heatmap.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), heatmap.GrayAt(7, 7).Y)
	// Intensity decreases along the diagonal.
	assert.Greater(t, heatmap.GrayAt(1, 1).Y, heatmap.GrayAt(5, 5).Y)
}

func TestRenderHeatmapAllZero(t *testing.T) {
	heatmap := renderHeatmap([]float32{0, 0, 0, 0}, 2, 2, 4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, uint8(0), heatmap.GrayAt(x, y).Y)
		}
	}
}

func TestJetColorEndpoints(t *testing.T) {
	cold := JetColor(0)
	assert.Equal(t, uint8(0), cold.R)
	assert.NotZero(t, cold.B, "low intensity is blue")

	hot := JetColor(1)
	assert.NotZero(t, hot.R, "high intensity is red")
	assert.Equal(t, uint8(0), hot.B)

	mid := JetColor(0.5)
	assert.Equal(t, uint8(255), mid.G, "mid intensity peaks green")
}

func TestOverlayBlends(t *testing.T) {
	photo := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			photo.SetNRGBA(x, y, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
		}
	}
	heatmap := image.NewGray(image.Rect(0, 0, 4, 4))
	heatmap.SetGray(0, 0, color.Gray{Y: 255})

	out := Overlay(photo, heatmap, 0.5)
	require.Equal(t, 4, out.Bounds().Dx())
	hotPixel := out.NRGBAAt(0, 0)
	coldPixel := out.NRGBAAt(3, 3)
	assert.Greater(t, hotPixel.R, coldPixel.R, "hot spot pulls toward red")
	assert.Greater(t, coldPixel.B, hotPixel.B, "cold area pulls toward blue")
}

func TestGridChoices(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	sequential := GridChoices(100, 16, false, rng)
	require.Len(t, sequential, 16)
	for ii, choice := range sequential {
		assert.Equal(t, ii, choice)
	}

	shuffled := GridChoices(100, 16, true, rng)
	require.Len(t, shuffled, 16)
	seen := make(map[int]bool)
	for _, choice := range shuffled {
		assert.GreaterOrEqual(t, choice, 0)
		assert.Less(t, choice, 100)
		assert.False(t, seen[choice], "choices must not repeat")
		seen[choice] = true
	}

	small := GridChoices(5, 16, true, rng)
	assert.Len(t, small, 5, "capped at the subset size")
}

func TestPickSample(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	counts := make([]int, 4)
	for ii := 0; ii < 4000; ii++ {
		pick := PickSample(4, rng)
		require.GreaterOrEqual(t, pick, 0)
		require.Less(t, pick, 4)
		counts[pick]++
	}
	for position, count := range counts {
		assert.Greater(t, count, 800, "position %d starved", position)
	}
}

func TestGrid(t *testing.T) {
	cells := make([]Cell, 16)
	for ii := range cells {
		photo := image.NewNRGBA(image.Rect(0, 0, 10, 10))
		cells[ii] = Cell{Photo: photo, Truth: "3", Predicted: "3", Correct: ii%2 == 0}
	}
	out := Grid(cells, 32, 48, 4)
	require.NotNil(t, out)
	// 4 columns x 4 rows of cells plus padding.
	assert.Equal(t, 4*(32+gridPadding)+gridPadding, out.Bounds().Dx())
	assert.Equal(t, 4*(48+2*gridCaptionHeight+gridPadding)+gridPadding, out.Bounds().Dy())
}
