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
	"image/draw"
	"math/rand"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Defaults for the qualitative grid.
const (
	GridDefaultSamples = 16
	GridDefaultColumns = 4

	gridCaptionHeight = 18
	gridPadding       = 4
)

// PickSample picks one sample position out of a batch of the given size,
// uniformly at random. Used to choose the example photo logged per
// validation batch.
func PickSample(batchSize int, rng *rand.Rand) int {
	return rng.Intn(batchSize)
}

// GridChoices picks which sample positions (into a validation subset of size
// n) go into the grid. With shuffle, a seeded random selection without
// repeats; without (used when the dataset splits by profile, so nearby
// samples already vary), the first numSamples positions.
func GridChoices(n, numSamples int, shuffle bool, rng *rand.Rand) []int {
	if numSamples > n {
		numSamples = n
	}
	if !shuffle {
		choices := make([]int, numSamples)
		for ii := range choices {
			choices[ii] = ii
		}
		return choices
	}
	return rng.Perm(n)[:numSamples]
}

// Cell is one grid entry: a photo with its truth and prediction captions.
type Cell struct {
	Photo     image.Image
	Truth     string
	Predicted string
	Correct   bool
}

// Grid renders the cells as a montage with columns cells per row, each cell
// resized to cellWidth x cellHeight with its caption drawn underneath,
// green when correct and red when not.
func Grid(cells []Cell, cellWidth, cellHeight, columns int) *image.NRGBA {
	if columns <= 0 {
		columns = GridDefaultColumns
	}
	rows := (len(cells) + columns - 1) / columns
	fullCellWidth := cellWidth + gridPadding
	fullCellHeight := cellHeight + 2*gridCaptionHeight + gridPadding
	out := image.NewNRGBA(image.Rect(0, 0, columns*fullCellWidth+gridPadding, rows*fullCellHeight+gridPadding))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.NRGBA{R: 24, G: 24, B: 24, A: 255}), image.Point{}, draw.Src)

	for ii, cell := range cells {
		col, row := ii%columns, ii/columns
		x0 := gridPadding + col*fullCellWidth
		y0 := gridPadding + row*fullCellHeight

		photo := imaging.Resize(cell.Photo, cellWidth, cellHeight, imaging.Lanczos)
		photoRect := image.Rect(x0, y0, x0+cellWidth, y0+cellHeight)
		draw.Draw(out, photoRect, photo, image.Point{}, draw.Src)

		captionColor := color.NRGBA{R: 235, G: 64, B: 52, A: 255}
		if cell.Correct {
			captionColor = color.NRGBA{R: 64, G: 200, B: 64, A: 255}
		}
		drawCaption(out, "true: "+cell.Truth, x0, y0+cellHeight+gridCaptionHeight-4, captionColor)
		drawCaption(out, "pred: "+cell.Predicted, x0, y0+cellHeight+2*gridCaptionHeight-4, captionColor)
	}
	return out
}

func drawCaption(dst draw.Image, text string, x, baselineY int, c color.NRGBA) {
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, baselineY),
	}
	drawer.DrawString(text)
}
