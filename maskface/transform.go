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
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/types/tensors"
	timage "github.com/gomlx/gomlx/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// BaseTransform is the canonical image pipeline shared by training and
// validation: decode, resize with padding to a fixed (width, height) and
// convert batches to `[batch, height, width, 3]` tensors with channel values
// scaled to [0, 1].
//
// It is the only transform validation ever sees. Training-time augmentation
// (CustomAugmentation, CutmixFace) is layered on top by the Subset yielding
// the batches, never here.
type BaseTransform struct {
	width, height int
	dtype         dtypes.DType
	toTensor      *timage.ToTensorConfig
}

// NewBaseTransform creates the canonical transform resizing to (width, height).
func NewBaseTransform(width, height int, dtype dtypes.DType) *BaseTransform {
	return &BaseTransform{
		width:    width,
		height:   height,
		dtype:    dtype,
		toTensor: timage.ToTensor(dtype),
	}
}

// Size returns the target (width, height).
func (t *BaseTransform) Size() (width, height int) { return t.width, t.height }

// Load reads and decodes the image at imagePath, and resizes it (preserving
// the aspect ratio, padding the borders) to the transform's target size.
func (t *BaseTransform) Load(imagePath string) (image.Image, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %q", imagePath)
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", imagePath)
	}
	return ResizeWithPadding(img, t.width, t.height), nil
}

// Batch converts a slice of (already resized) images into one
// `[batch, height, width, 3]` tensor.
func (t *BaseTransform) Batch(images []image.Image) *tensors.Tensor {
	return t.toTensor.Batch(images)
}

// ResizeWithPadding scales img to fit (width, height) without distorting the
// aspect ratio, centering it over a black canvas when padding is needed.
func ResizeWithPadding(img image.Image, width, height int) image.Image {
	imgSize := img.Bounds().Size()
	wRatio := float64(width) / float64(imgSize.X)
	hRatio := float64(height) / float64(imgSize.Y)

	adjustedWidth, adjustedHeight := width, height
	if wRatio < hRatio {
		adjustedHeight = int(wRatio * float64(imgSize.Y))
	} else if hRatio < wRatio {
		adjustedWidth = int(hRatio * float64(imgSize.X))
	}
	img = imaging.Resize(img, adjustedWidth, adjustedHeight, imaging.Lanczos)
	if adjustedWidth != width || adjustedHeight != height {
		bgImg := image.NewRGBA(image.Rect(0, 0, width, height))
		img = imaging.PasteCenter(bgImg, img)
	}
	return img
}
