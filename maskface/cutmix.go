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

package maskface

import (
	"image"
	"image/draw"
	"math"
	"math/rand"
)

// DefaultCutmixProbability is the per-batch chance of applying cutmix during
// training.
const DefaultCutmixProbability = 0.5

// CutmixFace mixes each photo of a batch with its reversed-order partner by
// pasting the partner's lower band, where the mask sits on a face photo, over
// the photo's own lower band. Labels become the area-weighted mixture of the
// two one-hot rows.
type CutmixFace struct {
	// Alpha parameterizes the Beta(Alpha, Alpha) distribution the mixing
	// coefficient is drawn from.
	Alpha float64
}

// NewCutmixFace returns a CutmixFace with the given Beta concentration.
func NewCutmixFace(alpha float64) *CutmixFace {
	return &CutmixFace{Alpha: alpha}
}

// sampleBeta draws from Beta(alpha, alpha) with Jöhnk's algorithm, which
// needs no special functions and is fast for small alpha.
func sampleBeta(alpha float64, rng *rand.Rand) float64 {
	for {
		x := math.Pow(rng.Float64(), 1/alpha)
		y := math.Pow(rng.Float64(), 1/alpha)
		if sum := x + y; sum <= 1 && sum > 0 {
			return x / sum
		}
	}
}

// Apply mixes the batch in place and returns it. Each photo i receives the
// lower band of photo len-1-i; the band height is H*sqrt(1-lambda) with
// lambda ~ Beta(Alpha, Alpha), and the soft label rows are mixed with the
// realized area ratio. All photos must share the same dimensions (they were
// already resized by the base transform).
func (c *CutmixFace) Apply(images []image.Image, softLabels [][]float32, rng *rand.Rand) ([]image.Image, [][]float32) {
	n := len(images)
	if n < 2 {
		return images, softLabels
	}
	lambda := sampleBeta(c.Alpha, rng)
	bounds := images[0].Bounds()
	height := bounds.Dy()
	bandHeight := int(math.Round(float64(height) * math.Sqrt(1-lambda)))
	if bandHeight <= 0 {
		return images, softLabels
	}
	if bandHeight > height {
		bandHeight = height
	}
	// Realized mixing weight of the photo's own pixels.
	lambdaAdjusted := 1 - float64(bandHeight)/float64(height)

	mixed := make([]image.Image, n)
	for ii, img := range images {
		partner := images[n-1-ii]
		canvas := image.NewNRGBA(bounds)
		draw.Draw(canvas, bounds, img, bounds.Min, draw.Src)
		bandRect := image.Rect(bounds.Min.X, bounds.Max.Y-bandHeight, bounds.Max.X, bounds.Max.Y)
		draw.Draw(canvas, bandRect, partner, bandRect.Min, draw.Src)
		mixed[ii] = canvas
	}
	mixedLabels := make([][]float32, n)
	for ii := range softLabels {
		own := softLabels[ii]
		other := softLabels[n-1-ii]
		row := make([]float32, len(own))
		for jj := range row {
			row[jj] = float32(lambdaAdjusted)*own[jj] + float32(1-lambdaAdjusted)*other[jj]
		}
		mixedLabels[ii] = row
	}
	return mixed, mixedLabels
}
