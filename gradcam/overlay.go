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

	"github.com/disintegration/imaging"
)

// DefaultOverlayAlpha is the heatmap weight in the blended overlay.
const DefaultOverlayAlpha = 0.4

// JetColor maps an intensity in [0, 1] to the blue-cyan-green-yellow-red
// "jet" colormap.
func JetColor(v float64) color.NRGBA {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	channel := func(center float64) uint8 {
		// Each channel is a triangle of width 0.5 around its center.
		d := v - center
		if d < 0 {
			d = -d
		}
		c := 1.5 - 4*d
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		return uint8(c*255 + 0.5)
	}
	return color.NRGBA{R: channel(0.75), G: channel(0.5), B: channel(0.25), A: 255}
}

// Overlay blends the heatmap, rendered with the jet colormap, over the
// photo: alpha is the heatmap weight. The photo is resized to the heatmap
// dimensions if needed.
func Overlay(photo image.Image, heatmap *image.Gray, alpha float64) *image.NRGBA {
	bounds := heatmap.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if photo.Bounds().Dx() != width || photo.Bounds().Dy() != height {
		photo = imaging.Resize(photo, width, height, imaging.Lanczos)
	}
	base := imaging.Clone(photo)
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			intensity := float64(heatmap.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y) / 255
			heat := JetColor(intensity)
			pixel := base.NRGBAAt(x, y)
			out.SetNRGBA(x, y, color.NRGBA{
				R: blend(pixel.R, heat.R, alpha),
				G: blend(pixel.G, heat.G, alpha),
				B: blend(pixel.B, heat.B, alpha),
				A: 255,
			})
		}
	}
	return out
}

func blend(base, heat uint8, alpha float64) uint8 {
	v := (1-alpha)*float64(base) + alpha*float64(heat)
	if v > 255 {
		v = 255
	}
	return uint8(v + 0.5)
}
