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
	"math/rand"

	"github.com/disintegration/imaging"
)

// DefaultAugmentationExemptClasses are the combined classes that skip custom
// augmentation during training: the masked-face classes of the age bands that
// already dominate the label distribution. Photos of these classes are
// yielded untouched while the rarer classes get the extra variation.
var DefaultAugmentationExemptClasses = []int32{0, 1, 3, 4}

// CustomAugmentation applies randomized photometric and geometric jitter to a
// training photo. All randomness comes from the caller-provided rng so a
// seeded run replays identically.
type CustomAugmentation struct {
	// MaxRotationDegrees bounds the random rotation on either side.
	MaxRotationDegrees float64
	// FlipProbability is the chance of a horizontal mirror.
	FlipProbability float64
	// JitterFraction bounds the relative brightness/contrast adjustment.
	JitterFraction float64
	// BlurSigma is the gaussian sigma used when blur is drawn; zero
	// disables the blur/sharpen branch.
	BlurSigma float64
}

// NewCustomAugmentation returns the augmentation with the usual parameters
// for face photos: mild rotation, mirror, color jitter and light blur.
func NewCustomAugmentation() *CustomAugmentation {
	return &CustomAugmentation{
		MaxRotationDegrees: 10,
		FlipProbability:    0.5,
		JitterFraction:     0.2,
		BlurSigma:          1.0,
	}
}

// Apply returns the augmented photo. The input is never modified.
func (a *CustomAugmentation) Apply(img image.Image, rng *rand.Rand) image.Image {
	if rng.Float64() < a.FlipProbability {
		img = imaging.FlipH(img)
	}
	if a.MaxRotationDegrees > 0 {
		angle := (rng.Float64()*2 - 1) * a.MaxRotationDegrees
		img = imaging.Rotate(img, angle, image.Black)
	}
	if a.JitterFraction > 0 {
		brightness := (rng.Float64()*2 - 1) * a.JitterFraction * 100
		contrast := (rng.Float64()*2 - 1) * a.JitterFraction * 100
		img = imaging.AdjustBrightness(img, brightness)
		img = imaging.AdjustContrast(img, contrast)
	}
	if a.BlurSigma > 0 {
		switch rng.Intn(3) {
		case 0:
			img = imaging.Blur(img, a.BlurSigma)
		case 1:
			img = imaging.Sharpen(img, a.BlurSigma)
		}
		// Remaining case leaves the photo as is.
	}
	return img
}
