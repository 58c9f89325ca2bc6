package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"metahdr/internal/device"
	"metahdr/internal/model"
)

const (
	Conv1Weight = "conv1.weight"
	Conv1Bias   = "conv1.bias"
	Conv2Weight = "conv2.weight"
	Conv2Bias   = "conv2.bias"
)

// Network is a differentiable image-to-image function with an explicit
// parameter interface. Parameters are always passed in; a Network holds no
// weights of its own.
type Network interface {
	Architecture() model.Architecture
	Layout() model.Params
	Forward(params model.Params, input model.Image) (model.Image, error)
	// Backward returns dLoss/dParams given dLoss/dOutput for one input.
	Backward(params model.Params, input model.Image, gradOut model.Image) (model.Params, error)
}

// ResidualConvNet maps an exposure to a reconstruction through two 3x3
// convolutions and an identity skip:
//
//	y = x + conv2(act(conv1(x)))
type ResidualConvNet struct {
	arch   model.Architecture
	act    Activation
	device device.Device
}

func NewResidualConvNet(arch model.Architecture, dev device.Device) (*ResidualConvNet, error) {
	if arch.Channels <= 0 {
		return nil, fmt.Errorf("%w: channels must be > 0", model.ErrConfig)
	}
	if arch.Filters <= 0 {
		return nil, fmt.Errorf("%w: filters must be > 0", model.ErrConfig)
	}
	if dev.Kind != device.KindCPU {
		return nil, fmt.Errorf("%w: unsupported device kind %q", model.ErrConfig, dev.Kind)
	}
	if arch.Activation == "" {
		arch.Activation = "relu"
	}
	act, err := GetActivation(arch.Activation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}
	return &ResidualConvNet{arch: arch, act: act, device: dev}, nil
}

func (n *ResidualConvNet) Architecture() model.Architecture {
	return n.arch
}

func (n *ResidualConvNet) Device() device.Device {
	return n.device
}

// Layout returns a zero-valued parameter set with the network's tensor names
// and shapes.
func (n *ResidualConvNet) Layout() model.Params {
	c, f := n.arch.Channels, n.arch.Filters
	k := kernelSize * kernelSize
	return model.Params{Tensors: []model.Tensor{
		model.NewTensor(Conv1Weight, k*c, f),
		model.NewTensor(Conv1Bias, f),
		model.NewTensor(Conv2Weight, k*f, c),
		model.NewTensor(Conv2Bias, c),
	}}
}

// InitParams draws He-scaled first-layer weights. The output layer starts at
// a tenth of that scale so an untrained network stays close to identity.
func (n *ResidualConvNet) InitParams(rng *rand.Rand) model.Params {
	params := n.Layout()
	k := kernelSize * kernelSize
	scale1 := math.Sqrt(2.0 / float64(k*n.arch.Channels))
	scale2 := 0.1 * math.Sqrt(2.0/float64(k*n.arch.Filters))
	for i := range params.Tensors[0].Data {
		params.Tensors[0].Data[i] = rng.NormFloat64() * scale1
	}
	for i := range params.Tensors[2].Data {
		params.Tensors[2].Data[i] = rng.NormFloat64() * scale2
	}
	return params
}

type forwardCache struct {
	col1 *mat.Dense
	z1   *mat.Dense
	col2 *mat.Dense
	out  model.Image
}

func (n *ResidualConvNet) Forward(params model.Params, input model.Image) (model.Image, error) {
	cache, err := n.forward(params, input)
	if err != nil {
		return model.Image{}, err
	}
	return cache.out, nil
}

func (n *ResidualConvNet) Backward(params model.Params, input model.Image, gradOut model.Image) (model.Params, error) {
	cache, err := n.forward(params, input)
	if err != nil {
		return model.Params{}, err
	}
	if err := model.CheckShapes(cache.out, gradOut); err != nil {
		return model.Params{}, err
	}
	h, w := input.Height, input.Width
	w1, _ := params.Get(Conv1Weight)
	w2, _ := params.Get(Conv2Weight)

	// The skip connection carries gradOut to the input only, so conv2 sees
	// gradOut unchanged.
	dz2 := mat.NewDense(h*w, n.arch.Channels, append([]float64(nil), gradOut.Pix...))
	dW2, dB2, dCol2 := convBackward(cache.col2, w2, dz2)

	da1 := col2im(dCol2, h, w, n.arch.Filters)
	z1 := cache.z1.RawMatrix().Data
	for i, v := range da1.Pix {
		da1.Pix[i] = v * n.act.Derivative(z1[i])
	}
	dz1 := mat.NewDense(h*w, n.arch.Filters, da1.Pix)
	dW1, dB1, _ := convBackward(cache.col1, w1, dz1)

	grads := params.ZerosLike()
	copy(grads.Tensors[0].Data, dW1)
	copy(grads.Tensors[1].Data, dB1)
	copy(grads.Tensors[2].Data, dW2)
	copy(grads.Tensors[3].Data, dB2)
	return grads, nil
}

func (n *ResidualConvNet) forward(params model.Params, input model.Image) (forwardCache, error) {
	if err := input.Validate(); err != nil {
		return forwardCache{}, err
	}
	if input.Channels != n.arch.Channels {
		return forwardCache{}, fmt.Errorf("%w: input has %d channels, network expects %d", model.ErrData, input.Channels, n.arch.Channels)
	}
	if err := n.Layout().Compatible(params); err != nil {
		return forwardCache{}, fmt.Errorf("parameter layout: %w", err)
	}
	h, w := input.Height, input.Width
	w1, _ := params.Get(Conv1Weight)
	b1, _ := params.Get(Conv1Bias)
	w2, _ := params.Get(Conv2Weight)
	b2, _ := params.Get(Conv2Bias)

	col1 := im2col(input)
	z1 := conv(col1, w1, b1)
	a1 := mat.NewDense(h*w, n.arch.Filters, nil)
	a1Data := a1.RawMatrix().Data
	for i, v := range z1.RawMatrix().Data {
		a1Data[i] = n.act.Func(v)
	}

	col2 := im2col(asImage(a1, h, w))
	z2 := conv(col2, w2, b2)

	out := model.NewImage(h, w, n.arch.Channels)
	residual := z2.RawMatrix().Data
	for i, v := range input.Pix {
		out.Pix[i] = v + residual[i]
	}
	return forwardCache{col1: col1, z1: z1, col2: col2, out: out}, nil
}
