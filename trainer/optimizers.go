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

// Package trainer drives training and evaluation of one cross-validation
// fold: per-epoch train/validate loop, early stopping, learning-rate plateau
// schedule, metrics, checkpoints and the final run aggregation.
package trainer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// OptimizerConfig selects and parameterizes the weight-update rule. All
// optimizers clip the joint gradient norm to ClipGradientNorm before
// applying updates (zero disables the clip).
type OptimizerConfig struct {
	LearningRate     float64
	WeightDecay      float64
	Momentum         float64
	ClipGradientNorm float64
}

// KnownOptimizers maps the optimizer names accepted in the configuration to
// their builders.
var KnownOptimizers = map[string]func(cfg OptimizerConfig) optimizers.Interface{
	"sgd": func(cfg OptimizerConfig) optimizers.Interface {
		cfg.Momentum = 0
		return &clippedSGD{cfg: cfg}
	},
	"momentum": func(cfg OptimizerConfig) optimizers.Interface {
		if cfg.Momentum <= 0 {
			cfg.Momentum = 0.9
		}
		return &clippedSGD{cfg: cfg}
	},
	"adam": func(cfg OptimizerConfig) optimizers.Interface {
		cfg.WeightDecay = 0
		return &clippedAdam{cfg: cfg}
	},
	"adamw": func(cfg OptimizerConfig) optimizers.Interface {
		return &clippedAdam{cfg: cfg}
	},
}

// OptimizerByName builds the named optimizer, or returns an error listing
// the valid names. Called at startup so a typo fails before any training.
func OptimizerByName(name string, cfg OptimizerConfig) (optimizers.Interface, error) {
	builder, found := KnownOptimizers[name]
	if !found {
		names := maps.Keys(KnownOptimizers)
		sort.Strings(names)
		return nil, errors.Errorf("unknown optimizer %q, valid values are %v", name, names)
	}
	return builder(cfg), nil
}

// clipByGlobalNorm rescales all gradients jointly so their combined L2 norm
// is at most maxNorm. Gradients below the limit pass through unchanged.
func clipByGlobalNorm(grads []*Node, maxNorm float64) []*Node {
	if maxNorm <= 0 || len(grads) == 0 {
		return grads
	}
	g := grads[0].Graph()
	dtype := grads[0].DType()
	sumSquares := ScalarZero(g, dtype)
	for _, grad := range grads {
		sumSquares = Add(sumSquares, ReduceAllSum(Square(grad)))
	}
	norm := Sqrt(sumSquares)
	limit := Const(g, shapes.CastAsDType(maxNorm, dtype))
	scale := Min(ScalarOne(g, dtype), Div(limit, Max(norm, Const(g, shapes.CastAsDType(1e-12, dtype)))))
	clipped := make([]*Node, len(grads))
	for ii, grad := range grads {
		clipped[ii] = Mul(grad, scale)
	}
	return clipped
}

// forEachTrainable pairs the gradients returned by
// BuildTrainableVariablesGradientsGraph with their variables, in enumeration
// order, and calls fn for each pair.
func forEachTrainable(ctx *context.Context, g *Graph, grads []*Node, fn func(v *context.Variable, grad *Node)) {
	varIdx := 0
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Trainable && v.InUseByGraph(g) {
			if varIdx < len(grads) {
				fn(v, grads[varIdx])
			}
			varIdx++
		}
	})
	if varIdx != len(grads) {
		exceptions.Panicf("gradients were built for %d variables but %d trainable variables are in use, "+
			"were variables created after the gradients graph?", len(grads), varIdx)
	}
}

// clippedSGD is plain (or momentum) gradient descent with global-norm
// gradient clipping and optional decoupled weight decay.
type clippedSGD struct {
	cfg OptimizerConfig
}

const velocityScope = "sgd_velocity"

// UpdateGraph implements optimizers.Interface.
func (o *clippedSGD) UpdateGraph(ctx *context.Context, g *Graph, loss *Node) {
	if !loss.Shape().IsScalar() {
		exceptions.Panicf("optimizer requires a scalar loss, got loss.shape=%s", loss.Shape())
	}
	dtype := loss.DType()
	lr := optimizers.LearningRateVar(ctx, dtype, o.cfg.LearningRate).ValueGraph(g)
	_ = optimizers.IncrementGlobalStepGraph(ctx, g, dtype)

	grads := clipByGlobalNorm(ctx.BuildTrainableVariablesGradientsGraph(loss), o.cfg.ClipGradientNorm)
	forEachTrainable(ctx, g, grads, func(v *context.Variable, grad *Node) {
		step := grad
		if o.cfg.Momentum > 0 {
			velVar := auxVariable(ctx, v, velocityScope, "velocity")
			velocity := Add(MulScalar(velVar.ValueGraph(g), o.cfg.Momentum), grad)
			velVar.SetValueGraph(velocity)
			step = velocity
		}
		value := v.ValueGraph(g)
		if o.cfg.WeightDecay > 0 {
			step = Add(step, MulScalar(value, o.cfg.WeightDecay))
		}
		v.SetValueGraph(Sub(value, Mul(lr, step)))
	})
}

// Clear implements optimizers.Interface, dropping any velocity state.
func (o *clippedSGD) Clear(ctx *context.Context) {
	deleteAuxScope(ctx, velocityScope)
}

// clippedAdam is Adam (or AdamW when weight decay is set) with global-norm
// gradient clipping.
type clippedAdam struct {
	cfg OptimizerConfig
}

const (
	adamScope   = "adam_state"
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// UpdateGraph implements optimizers.Interface.
func (o *clippedAdam) UpdateGraph(ctx *context.Context, g *Graph, loss *Node) {
	if !loss.Shape().IsScalar() {
		exceptions.Panicf("optimizer requires a scalar loss, got loss.shape=%s", loss.Shape())
	}
	dtype := loss.DType()
	lr := optimizers.LearningRateVar(ctx, dtype, o.cfg.LearningRate).ValueGraph(g)
	_ = optimizers.IncrementGlobalStepGraph(ctx, g, dtype)
	adamStep := optimizers.IncrementGlobalStepGraph(ctx.In(adamScope), g, dtype)

	beta1 := Const(g, shapes.CastAsDType(adamBeta1, dtype))
	beta2 := Const(g, shapes.CastAsDType(adamBeta2, dtype))
	debias1 := Inverse(OneMinus(Pow(beta1, adamStep)))
	debias2 := Inverse(OneMinus(Pow(beta2, adamStep)))
	epsilon := Const(g, shapes.CastAsDType(adamEpsilon, dtype))

	grads := clipByGlobalNorm(ctx.BuildTrainableVariablesGradientsGraph(loss), o.cfg.ClipGradientNorm)
	forEachTrainable(ctx, g, grads, func(v *context.Variable, grad *Node) {
		m1Var := auxVariable(ctx, v, adamScope, "m1")
		m2Var := auxVariable(ctx, v, adamScope, "m2")

		moment1 := Add(Mul(beta1, m1Var.ValueGraph(g)), Mul(OneMinus(beta1), grad))
		m1Var.SetValueGraph(moment1)
		moment2 := Add(Mul(beta2, m2Var.ValueGraph(g)), Mul(OneMinus(beta2), Square(grad)))
		m2Var.SetValueGraph(moment2)

		denominator := Add(Sqrt(Mul(moment2, debias2)), epsilon)
		step := Div(Mul(moment1, debias1), denominator)
		value := v.ValueGraph(g)
		if o.cfg.WeightDecay > 0 {
			step = Add(step, MulScalar(value, o.cfg.WeightDecay))
		}
		v.SetValueGraph(Sub(value, Mul(lr, step)))
	})
}

// Clear implements optimizers.Interface, dropping the moment estimates.
func (o *clippedAdam) Clear(ctx *context.Context) {
	deleteAuxScope(ctx, adamScope)
}

// auxVariable returns (creating if needed) the optimizer state variable
// paired with the trainable variable v, stored under stateScope mirroring
// v's own scope.
func auxVariable(ctx *context.Context, v *context.Variable, stateScope, suffix string) *context.Variable {
	scopePath := fmt.Sprintf("%s%s%s", context.ScopeSeparator, stateScope, v.Scope())
	name := fmt.Sprintf("%s_%s", v.Name(), suffix)
	return ctx.InAbsPath(scopePath).
		WithInitializer(initializers.Zero).
		VariableWithShape(name, v.Shape()).
		SetTrainable(false)
}

// deleteAuxScope removes every variable stored under the given top-level
// optimizer state scope.
func deleteAuxScope(ctx *context.Context, stateScope string) {
	prefix := context.ScopeSeparator + stateScope
	type scopedName struct{ scope, name string }
	var doomed []scopedName
	ctx.EnumerateVariables(func(v *context.Variable) {
		if strings.HasPrefix(v.Scope(), prefix) {
			doomed = append(doomed, scopedName{v.Scope(), v.Name()})
		}
	})
	for _, sn := range doomed {
		ctx.DeleteVariable(sn.scope, sn.name)
	}
}
