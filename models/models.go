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

// Package models holds the classifier architectures selectable by name.
package models

import (
	"sort"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// BuilderFn builds the model graph for a batch of images shaped
// [batch, height, width, 3]. It returns the classification logits shaped
// [batch, numClasses] and the last convolutional feature map, shaped
// [batch, h', w', channels], which class-activation visualization takes
// gradients against.
type BuilderFn func(ctx *context.Context, images *Node, numClasses int) (logits, lastFeatures *Node)

// KnownModels maps the model names accepted in the configuration to their
// builders.
var KnownModels = map[string]BuilderFn{
	"cnn":     ConvolutionModel,
	"deepcnn": DeepConvolutionModel,
}

// ByName resolves a configured model name, or returns an error listing the
// valid names. Called at startup so a typo fails before any training.
func ByName(name string) (BuilderFn, error) {
	builder, found := KnownModels[name]
	if !found {
		names := maps.Keys(KnownModels)
		sort.Strings(names)
		return nil, errors.Errorf("unknown model %q, valid values are %v", name, names)
	}
	return builder, nil
}
