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

// Package gradcam renders class-activation heatmaps (Grad-CAM) and the
// qualitative prediction grids produced at the end of each fold.
//
// The heatmap of a sample is the channel-weighted sum of the model's last
// convolutional feature map, where each channel's weight is the spatially
// averaged gradient of the predicted class score with respect to that
// channel. Positive contributions are kept and normalized to [0, 1].
package gradcam

import (
	"image"
	"image/color"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/facelab/masktrain/models"
)

// CAM computes Grad-CAM heatmaps for a trained model context. The context
// must already hold the model weights (typically restored from the fold's
// best checkpoint).
type CAM struct {
	exec       *context.Exec
	numClasses int
}

// New compiles the heatmap computation for the given model.
func New(backend backends.Backend, ctx *context.Context, model models.BuilderFn, numClasses int) *CAM {
	cam := &CAM{numClasses: numClasses}
	cam.exec = context.NewExec(backend, ctx, func(ctx *context.Context, inputs []*Node) []*Node {
		return camGraph(ctx, model, numClasses, inputs)
	})
	return cam
}

// camGraph builds the computation: forward pass, gradient of the predicted
// class score w.r.t. the last feature map, channel weighting, ReLU.
func camGraph(ctx *context.Context, model models.BuilderFn, numClasses int, inputs []*Node) []*Node {
	images := inputs[0]
	g := images.Graph()
	ctx.SetTraining(g, false)
	logits, features := model(ctx.In("model"), images, numClasses)

	predicted := ArgMax(logits, -1, dtypes.Int32)
	classMask := OneHot(predicted, numClasses, logits.DType())
	score := ReduceAllSum(Mul(logits, classMask))

	grads := Gradient(score, features)[0]
	// Channel weights: global average of the gradients. Shape [batch, channels].
	weights := ReduceMean(grads, 1, 2)
	weights = ExpandDims(weights, 1, 1)
	heat := ReduceSum(Mul(features, weights), -1)
	heat = MaxScalar(heat, 0)
	return []*Node{heat, predicted}
}

// Heatmaps runs the computation for a batch of images (as produced by the
// dataset transform) and returns one normalized heatmap per sample, resized
// to the given display size, plus the predicted class of each sample.
func (cam *CAM) Heatmaps(batch *tensors.Tensor, width, height int) (heatmaps []*image.Gray, predictions []int32) {
	outputs := cam.exec.Call(batch)
	heat, predicted := outputs[0], outputs[1]
	predictions = tensors.CopyFlatData[int32](predicted)

	dims := heat.Shape().Dimensions
	batchSize, mapHeight, mapWidth := dims[0], dims[1], dims[2]
	flat := tensors.CopyFlatData[float32](heat)
	heatmaps = make([]*image.Gray, batchSize)
	for ii := 0; ii < batchSize; ii++ {
		sample := flat[ii*mapHeight*mapWidth : (ii+1)*mapHeight*mapWidth]
		heatmaps[ii] = renderHeatmap(sample, mapWidth, mapHeight, width, height)
	}
	return
}

// renderHeatmap normalizes one sample's heatmap to [0, 255] and upsamples it
// bilinearly to the display size.
func renderHeatmap(values []float32, mapWidth, mapHeight, width, height int) *image.Gray {
	var maxValue float32
	for _, v := range values {
		if v > maxValue {
			maxValue = v
		}
	}
	out := image.NewGray(image.Rect(0, 0, width, height))
	if maxValue == 0 {
		return out
	}
	at := func(x, y int) float32 { return values[y*mapWidth+x] }
	for y := 0; y < height; y++ {
		// Map display pixel centers back into heatmap coordinates.
		fy := (float32(y)+0.5)/float32(height)*float32(mapHeight) - 0.5
		y0, wy := floorWeight(fy, mapHeight)
		for x := 0; x < width; x++ {
			fx := (float32(x)+0.5)/float32(width)*float32(mapWidth) - 0.5
			x0, wx := floorWeight(fx, mapWidth)
			x1, y1 := min(x0+1, mapWidth-1), min(y0+1, mapHeight-1)
			v := (1-wy)*((1-wx)*at(x0, y0)+wx*at(x1, y0)) +
				wy*((1-wx)*at(x0, y1)+wx*at(x1, y1))
			out.SetGray(x, y, color.Gray{Y: uint8(clamp01(v/maxValue)*255 + 0.5)})
		}
	}
	return out
}

func floorWeight(f float32, limit int) (idx int, weight float32) {
	if f <= 0 {
		return 0, 0
	}
	idx = int(f)
	if idx >= limit-1 {
		return limit - 1, 0
	}
	return idx, f - float32(idx)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

