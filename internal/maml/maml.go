// Package maml implements fast-weight adaptation of a shared meta-model.
//
// A MetaModel owns the base parameters and never hands them out for writing:
// Clone returns an independent copy for each task, the Learner adapts that
// copy by gradient descent on the task's support set, and the copy is dropped
// once the task has been scored.
package maml

import (
	"context"
	"errors"
	"fmt"
	"math"

	"metahdr/internal/loss"
	"metahdr/internal/model"
	"metahdr/internal/nn"
)

// MetaModel pairs a network with its read-only base parameters and the task
// learning rate.
type MetaModel struct {
	net  nn.Network
	base model.Params
	lr   float64
}

// NewMetaModel takes a private copy of base and checks it against the
// network's parameter layout.
func NewMetaModel(net nn.Network, base model.Params, lr float64) (*MetaModel, error) {
	if net == nil {
		return nil, errors.New("network is required")
	}
	if !(lr > 0) || math.IsInf(lr, 0) {
		return nil, fmt.Errorf("%w: task learning rate must be a positive finite number, got %v", model.ErrConfig, lr)
	}
	if err := net.Layout().Compatible(base); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCheckpoint, err)
	}
	return &MetaModel{net: net, base: base.Clone(), lr: lr}, nil
}

func (m *MetaModel) Net() nn.Network {
	return m.net
}

func (m *MetaModel) LR() float64 {
	return m.lr
}

// Clone returns a fresh parameter container initialised from the base
// parameters. The caller owns it exclusively.
func (m *MetaModel) Clone() model.Params {
	return m.base.Clone()
}

// Predict runs the network with the base parameters.
func (m *MetaModel) Predict(input model.Image) (model.Image, error) {
	return m.net.Forward(m.base, input)
}

// Example is one support or query pair.
type Example struct {
	Input model.Image
	Label model.Image
}

// Adaptation is the outcome of one inner loop.
type Adaptation struct {
	Params model.Params
	// Losses holds the support loss measured before each gradient step.
	Losses []float64
}

// Learner runs the inner loop: Steps plain SGD updates at the meta-model's
// task learning rate, each on the mean loss over the support set.
type Learner struct {
	Meta  *MetaModel
	Loss  loss.Func
	Steps int
}

func (l *Learner) validate() error {
	if l == nil || l.Meta == nil {
		return errors.New("meta-model is required")
	}
	if l.Loss == nil {
		return errors.New("loss function is required")
	}
	if l.Steps < 0 {
		return fmt.Errorf("%w: inner steps must be >= 0, got %d", model.ErrConfig, l.Steps)
	}
	return nil
}

// Adapt returns fast parameters adapted to support. With zero steps the
// result is an untouched copy of the base parameters.
func (l *Learner) Adapt(ctx context.Context, support []Example) (Adaptation, error) {
	if err := l.validate(); err != nil {
		return Adaptation{}, err
	}
	fast := l.Meta.Clone()
	if l.Steps == 0 {
		return Adaptation{Params: fast}, nil
	}
	if len(support) == 0 {
		return Adaptation{}, fmt.Errorf("%w: adaptation needs a non-empty support set", model.ErrData)
	}

	net := l.Meta.Net()
	lr := l.Meta.LR()
	losses := make([]float64, 0, l.Steps)
	for step := 0; step < l.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return Adaptation{}, err
		}
		value, grads, err := l.supportGradient(net, fast, support)
		if err != nil {
			return Adaptation{}, fmt.Errorf("step %d: %w", step, err)
		}
		losses = append(losses, value)
		for i := range fast.Tensors {
			data := fast.Tensors[i].Data
			g := grads.Tensors[i].Data
			for j := range data {
				data[j] -= lr * g[j]
			}
		}
		if !fast.Finite() {
			return Adaptation{}, fmt.Errorf("%w: step %d left non-finite fast parameters", model.ErrNumeric, step)
		}
	}
	return Adaptation{Params: fast, Losses: losses}, nil
}

func (l *Learner) supportGradient(net nn.Network, params model.Params, support []Example) (float64, model.Params, error) {
	total := 0.0
	grads := params.ZerosLike()
	scale := 1 / float64(len(support))
	for i, ex := range support {
		pred, err := net.Forward(params, ex.Input)
		if err != nil {
			return 0, model.Params{}, err
		}
		value, gradOut, err := l.Loss(pred, ex.Label)
		if err != nil {
			return 0, model.Params{}, err
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return 0, model.Params{}, fmt.Errorf("%w: non-finite loss %v on support example %d", model.ErrNumeric, value, i)
		}
		if !gradOut.Finite() {
			return 0, model.Params{}, fmt.Errorf("%w: non-finite loss gradient on support example %d", model.ErrNumeric, i)
		}
		exGrads, err := net.Backward(params, ex.Input, gradOut)
		if err != nil {
			return 0, model.Params{}, err
		}
		total += value * scale
		for ti := range grads.Tensors {
			acc := grads.Tensors[ti].Data
			for j, v := range exGrads.Tensors[ti].Data {
				acc[j] += v * scale
			}
		}
	}
	if !grads.Finite() {
		return 0, model.Params{}, fmt.Errorf("%w: non-finite parameter gradient", model.ErrNumeric)
	}
	return total, grads, nil
}

// Predict applies params to every input.
func (l *Learner) Predict(params model.Params, inputs []model.Image) ([]model.Image, error) {
	out := make([]model.Image, len(inputs))
	for i, input := range inputs {
		pred, err := l.Meta.Net().Forward(params, input)
		if err != nil {
			return nil, err
		}
		if !pred.Finite() {
			return nil, fmt.Errorf("%w: non-finite prediction for query %d", model.ErrNumeric, i)
		}
		out[i] = pred
	}
	return out, nil
}

// AdaptAndPredict adapts on support and predicts the query inputs with the
// resulting fast parameters.
func (l *Learner) AdaptAndPredict(ctx context.Context, support []Example, query []model.Image) ([]model.Image, Adaptation, error) {
	adapted, err := l.Adapt(ctx, support)
	if err != nil {
		return nil, Adaptation{}, err
	}
	preds, err := l.Predict(adapted.Params, query)
	if err != nil {
		return nil, Adaptation{}, err
	}
	return preds, adapted, nil
}
