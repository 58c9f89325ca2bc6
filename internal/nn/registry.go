package nn

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

const (
	SupportedSchemaVersion = 1
	SupportedCodecVersion  = 1
)

var (
	ErrActivationExists   = errors.New("activation already registered")
	ErrActivationNotFound = errors.New("activation not found")
	ErrActivationVersion  = errors.New("activation version mismatch")
)

type ActivationFunc func(x float64) float64

// Activation pairs an elementwise function with its derivative, both taken at
// the pre-activation value.
type Activation struct {
	Func       ActivationFunc
	Derivative ActivationFunc
}

type ActivationSpec struct {
	Name          string
	Func          ActivationFunc
	Derivative    ActivationFunc
	SchemaVersion int
	CodecVersion  int
}

type registeredActivation struct {
	act           Activation
	schemaVersion int
	codecVersion  int
}

var activationRegistry = struct {
	mu sync.RWMutex
	m  map[string]registeredActivation
}{
	m: make(map[string]registeredActivation),
}

func init() {
	initializeBuiltInActivations()
}

func initializeBuiltInActivations() {
	MustRegisterActivation("identity",
		func(x float64) float64 { return x },
		func(float64) float64 { return 1 },
	)
	MustRegisterActivation("relu",
		func(x float64) float64 {
			if x < 0 {
				return 0
			}
			return x
		},
		func(x float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		},
	)
	MustRegisterActivation("leaky_relu",
		func(x float64) float64 {
			if x < 0 {
				return 0.01 * x
			}
			return x
		},
		func(x float64) float64 {
			if x > 0 {
				return 1
			}
			return 0.01
		},
	)
	MustRegisterActivation("tanh", math.Tanh, func(x float64) float64 {
		y := math.Tanh(x)
		return 1 - (y * y)
	})
	MustRegisterActivation("sigmoid",
		func(x float64) float64 {
			return 1.0 / (1.0 + math.Exp(-x))
		},
		func(x float64) float64 {
			s := 1 / (1 + math.Exp(-x))
			return s * (1 - s)
		},
	)
}

func RegisterActivation(name string, fn, derivative ActivationFunc) error {
	return RegisterActivationWithSpec(ActivationSpec{
		Name:          name,
		Func:          fn,
		Derivative:    derivative,
		SchemaVersion: SupportedSchemaVersion,
		CodecVersion:  SupportedCodecVersion,
	})
}

func MustRegisterActivation(name string, fn, derivative ActivationFunc) {
	if err := RegisterActivation(name, fn, derivative); err != nil {
		panic(err)
	}
}

func RegisterActivationWithSpec(spec ActivationSpec) error {
	if spec.Name == "" {
		return errors.New("activation name is required")
	}
	if spec.Func == nil {
		return errors.New("activation function is required")
	}
	if spec.Derivative == nil {
		return errors.New("activation derivative is required")
	}
	if spec.SchemaVersion != SupportedSchemaVersion || spec.CodecVersion != SupportedCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrActivationVersion, spec.SchemaVersion, spec.CodecVersion)
	}

	activationRegistry.mu.Lock()
	defer activationRegistry.mu.Unlock()

	if _, exists := activationRegistry.m[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrActivationExists, spec.Name)
	}

	activationRegistry.m[spec.Name] = registeredActivation{
		act:           Activation{Func: spec.Func, Derivative: spec.Derivative},
		schemaVersion: spec.SchemaVersion,
		codecVersion:  spec.CodecVersion,
	}
	return nil
}

func GetActivation(name string) (Activation, error) {
	activationRegistry.mu.RLock()
	entry, ok := activationRegistry.m[name]
	activationRegistry.mu.RUnlock()
	if !ok {
		return Activation{}, fmt.Errorf("%w: %s", ErrActivationNotFound, name)
	}
	if entry.schemaVersion != SupportedSchemaVersion || entry.codecVersion != SupportedCodecVersion {
		return Activation{}, fmt.Errorf("%w: %s", ErrActivationVersion, name)
	}
	return entry.act, nil
}

func ListActivations() []string {
	activationRegistry.mu.RLock()
	defer activationRegistry.mu.RUnlock()

	names := make([]string, 0, len(activationRegistry.m))
	for name := range activationRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetActivationRegistryForTests() {
	activationRegistry.mu.Lock()
	activationRegistry.m = make(map[string]registeredActivation)
	activationRegistry.mu.Unlock()
	initializeBuiltInActivations()
}
