// Package device resolves the compute device used for every forward and
// backward pass of an evaluation run. Selection happens once at run start and
// the resulting Device is passed to the components that compute.
package device

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"metahdr/internal/model"
)

const (
	KindCPU = "cpu"

	PreferAuto = "auto"
)

type Device struct {
	Kind          string   `json:"kind"`
	Name          string   `json:"name"`
	Vendor        string   `json:"vendor,omitempty"`
	PhysicalCores int      `json:"physical_cores"`
	LogicalCores  int      `json:"logical_cores"`
	Features      []string `json:"features,omitempty"`
}

// Select resolves a device preference. Only the general-purpose processor is
// available; requesting an accelerator is a configuration error rather than a
// silent fallback.
func Select(preference string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(preference)) {
	case "", PreferAuto, KindCPU:
		return CPU(), nil
	case "cuda", "gpu", "metal", "webgpu":
		return Device{}, fmt.Errorf("%w: device %q unavailable: no accelerator backend in this build", model.ErrConfig, preference)
	default:
		return Device{}, fmt.Errorf("%w: unknown device %q", model.ErrConfig, preference)
	}
}

func CPU() Device {
	return Device{
		Kind:          KindCPU,
		Name:          strings.TrimSpace(cpuid.CPU.BrandName),
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		Features:      simdFeatures(),
	}
}

func (d Device) String() string {
	name := d.Name
	if name == "" {
		name = "unknown"
	}
	if len(d.Features) == 0 {
		return fmt.Sprintf("%s (%s)", d.Kind, name)
	}
	return fmt.Sprintf("%s (%s; %s)", d.Kind, name, strings.Join(d.Features, ","))
}

func simdFeatures() []string {
	candidates := []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.SSE4, "sse4"},
		{cpuid.AVX, "avx"},
		{cpuid.AVX2, "avx2"},
		{cpuid.FMA3, "fma3"},
		{cpuid.AVX512F, "avx512f"},
		{cpuid.ASIMD, "asimd"},
	}
	var out []string
	for _, c := range candidates {
		if cpuid.CPU.Supports(c.id) {
			out = append(out, c.name)
		}
	}
	return out
}
