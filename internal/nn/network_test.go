package nn

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"metahdr/internal/device"
	"metahdr/internal/model"
)

func testNet(t *testing.T, activation string) *ResidualConvNet {
	t.Helper()
	net, err := NewResidualConvNet(model.Architecture{Channels: 3, Filters: 4, Activation: activation}, device.CPU())
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	return net
}

func randomImage(rng *rand.Rand, h, w, c int) model.Image {
	img := model.NewImage(h, w, c)
	for i := range img.Pix {
		img.Pix[i] = rng.Float64()
	}
	return img
}

func TestForwardWithZeroParamsIsIdentity(t *testing.T) {
	net := testNet(t, "relu")
	input := randomImage(rand.New(rand.NewSource(1)), 5, 4, 3)

	out, err := net.Forward(net.Layout(), input)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	for i := range input.Pix {
		if out.Pix[i] != input.Pix[i] {
			t.Fatalf("expected identity output at %d: got=%f want=%f", i, out.Pix[i], input.Pix[i])
		}
	}
}

func TestForwardRejectsChannelMismatch(t *testing.T) {
	net := testNet(t, "relu")
	_, err := net.Forward(net.Layout(), model.NewImage(2, 2, 1))
	if !errors.Is(err, model.ErrData) {
		t.Fatalf("expected data error, got %v", err)
	}
}

func TestForwardRejectsForeignLayout(t *testing.T) {
	net := testNet(t, "relu")
	params := net.Layout()
	params.Tensors[0] = model.NewTensor(Conv1Weight, 27, 5)
	if _, err := net.Forward(params, model.NewImage(2, 2, 3)); err == nil {
		t.Fatal("expected layout mismatch error")
	}
}

func TestForwardDoesNotMutateParams(t *testing.T) {
	net := testNet(t, "relu")
	rng := rand.New(rand.NewSource(2))
	params := net.InitParams(rng)
	before := params.Clone()

	if _, err := net.Backward(params, randomImage(rng, 4, 4, 3), randomImage(rng, 4, 4, 3)); err != nil {
		t.Fatalf("backward: %v", err)
	}
	for i, tensor := range params.Tensors {
		for j, v := range tensor.Data {
			if v != before.Tensors[i].Data[j] {
				t.Fatalf("tensor %s mutated at %d", tensor.Name, j)
			}
		}
	}
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	net := testNet(t, "tanh")
	rng := rand.New(rand.NewSource(3))
	params := net.InitParams(rng)
	for i := range params.Tensors[1].Data {
		params.Tensors[1].Data[i] = 0.1 * rng.NormFloat64()
	}
	input := randomImage(rng, 4, 3, 3)
	gradOut := randomImage(rng, 4, 3, 3)

	// L = sum(gradOut * forward(params, input)) so dL/dparams is Backward(gradOut).
	objective := func(p model.Params) float64 {
		out, err := net.Forward(p, input)
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		total := 0.0
		for i, v := range out.Pix {
			total += v * gradOut.Pix[i]
		}
		return total
	}

	grads, err := net.Backward(params, input, gradOut)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}

	const h = 1e-6
	for ti, tensor := range params.Tensors {
		for _, idx := range []int{0, len(tensor.Data) / 2, len(tensor.Data) - 1} {
			plus := params.Clone()
			plus.Tensors[ti].Data[idx] += h
			minus := params.Clone()
			minus.Tensors[ti].Data[idx] -= h
			numeric := (objective(plus) - objective(minus)) / (2 * h)
			analytic := grads.Tensors[ti].Data[idx]
			if math.Abs(numeric-analytic) > 1e-5*math.Max(1, math.Abs(numeric)) {
				t.Fatalf("%s[%d]: analytic=%g numeric=%g", tensor.Name, idx, analytic, numeric)
			}
		}
	}
}

func TestNewResidualConvNetValidation(t *testing.T) {
	if _, err := NewResidualConvNet(model.Architecture{Channels: 3, Filters: 0}, device.CPU()); !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected config error for zero filters, got %v", err)
	}
	if _, err := NewResidualConvNet(model.Architecture{Channels: 3, Filters: 2, Activation: "missing"}, device.CPU()); !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected config error for unknown activation, got %v", err)
	}
	if _, err := NewResidualConvNet(model.Architecture{Channels: 3, Filters: 2}, device.Device{Kind: "cuda"}); !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected config error for unsupported device, got %v", err)
	}
}
