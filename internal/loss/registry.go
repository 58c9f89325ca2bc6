// Package loss provides the differentiable reconstruction losses that drive
// inner-loop adaptation. Every loss returns its value and the gradient with
// respect to the prediction.
package loss

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"metahdr/internal/model"
)

const (
	ExpandNet = "ExpandNetLoss"
	Haar      = "HaarLoss"
	LPIPS     = "LPIPSLoss"
	LPIPSL2   = "LPIPSLoss_L2"
	SSIM      = "SSIMLoss"
)

var (
	ErrLossExists   = errors.New("loss already registered")
	ErrLossNotFound = errors.New("loss not found")
)

// Func scores prediction against target and returns dLoss/dPrediction.
type Func func(prediction, target model.Image) (float64, model.Image, error)

var lossRegistry = struct {
	mu sync.RWMutex
	m  map[string]Func
}{
	m: make(map[string]Func),
}

func init() {
	initializeBuiltInLosses()
}

func initializeBuiltInLosses() {
	MustRegister(ExpandNet, expandNetLoss)
	MustRegister(Haar, haarLoss)
	MustRegister(LPIPS, perceptualLoss)
	MustRegister(LPIPSL2, perceptualL2Loss)
	MustRegister(SSIM, ssimLoss)
}

func Register(name string, fn Func) error {
	if name == "" {
		return errors.New("loss name is required")
	}
	if fn == nil {
		return errors.New("loss function is required")
	}

	lossRegistry.mu.Lock()
	defer lossRegistry.mu.Unlock()

	if _, exists := lossRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrLossExists, name)
	}
	lossRegistry.m[name] = fn
	return nil
}

func MustRegister(name string, fn Func) {
	if err := Register(name, fn); err != nil {
		panic(err)
	}
}

// Get looks up a loss by identifier. Unknown identifiers are configuration
// errors.
func Get(name string) (Func, error) {
	lossRegistry.mu.RLock()
	fn, ok := lossRegistry.m[name]
	lossRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", model.ErrConfig, ErrLossNotFound, name)
	}
	return fn, nil
}

func Names() []string {
	lossRegistry.mu.RLock()
	defer lossRegistry.mu.RUnlock()

	names := make([]string, 0, len(lossRegistry.m))
	for name := range lossRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetLossRegistryForTests() {
	lossRegistry.mu.Lock()
	lossRegistry.m = make(map[string]Func)
	lossRegistry.mu.Unlock()
	initializeBuiltInLosses()
}

func checkPair(prediction, target model.Image) error {
	if err := prediction.Validate(); err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return err
	}
	return model.CheckShapes(prediction, target)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
