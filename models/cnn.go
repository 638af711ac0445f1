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

package models

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/batchnorm"
)

// ConvolutionModel is the baseline classifier: three conv blocks followed by
// global average pooling and a dense head. Works with any input resolution.
func ConvolutionModel(ctx *context.Context, images *Node, numClasses int) (logits, lastFeatures *Node) {
	return convolutionModel(ctx, images, numClasses, []int{32, 64, 128}, 0.3)
}

// DeepConvolutionModel adds two more blocks and a wider head. Slower but
// noticeably stronger on the full-resolution photos.
func DeepConvolutionModel(ctx *context.Context, images *Node, numClasses int) (logits, lastFeatures *Node) {
	return convolutionModel(ctx, images, numClasses, []int{32, 64, 128, 256, 256}, 0.5)
}

func convolutionModel(ctx *context.Context, images *Node, numClasses int, blockChannels []int, dropoutRate float64) (logits, lastFeatures *Node) {
	g := images.Graph()
	dtype := images.DType()
	batchSize := images.Shape().Dimensions[0]

	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		newCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return newCtx
	}

	x := images
	for _, channels := range blockChannels {
		x = layers.Convolution(nextCtx("conv"), x).Channels(channels).KernelSize(3).PadSame().Done()
		x = activations.Relu(x)
		x = batchnorm.New(nextCtx("norm"), x, -1).Done()
		x = layers.Convolution(nextCtx("conv"), x).Channels(channels).KernelSize(3).PadSame().Done()
		x = activations.Relu(x)
		x = batchnorm.New(nextCtx("norm"), x, -1).Done()
		x = MaxPool(x).Window(2).Done()
	}
	// The feature map the class-activation visualization attributes
	// against: the deepest spatial representation.
	lastFeatures = x

	// Global average pool keeps the head size independent of the input
	// resolution.
	x = ReduceMean(x, 1, 2)
	x.AssertDims(batchSize, blockChannels[len(blockChannels)-1])
	x = layers.DropoutNormalize(nextCtx("dropout"), x, Scalar(g, dtype, dropoutRate), true)
	x = layers.Dense(nextCtx("dense"), x, true, 128)
	x = activations.Relu(x)
	x = layers.DropoutNormalize(nextCtx("dropout"), x, Scalar(g, dtype, dropoutRate), true)
	logits = layers.Dense(nextCtx("dense"), x, true, numClasses)
	return logits, lastFeatures
}
