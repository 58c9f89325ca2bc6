package model

import (
	"fmt"
	"math"
	"slices"
)

// Tensor is one named learnable weight array of a parameter set.
type Tensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Params is an ordered set of named tensors.
type Params struct {
	Tensors []Tensor `json:"tensors"`
}

func NewTensor(name string, shape ...int) Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return Tensor{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, size),
	}
}

func (t Tensor) Size() int {
	size := 1
	for _, dim := range t.Shape {
		size *= dim
	}
	return size
}

// Clone returns a deep copy sharing no backing arrays with p.
func (p Params) Clone() Params {
	out := Params{Tensors: make([]Tensor, len(p.Tensors))}
	for i, t := range p.Tensors {
		out.Tensors[i] = Tensor{
			Name:  t.Name,
			Shape: append([]int(nil), t.Shape...),
			Data:  append([]float64(nil), t.Data...),
		}
	}
	return out
}

// ZerosLike returns a parameter set with p's layout and all values zero.
func (p Params) ZerosLike() Params {
	out := Params{Tensors: make([]Tensor, len(p.Tensors))}
	for i, t := range p.Tensors {
		out.Tensors[i] = NewTensor(t.Name, t.Shape...)
	}
	return out
}

func (p Params) Get(name string) (Tensor, bool) {
	for _, t := range p.Tensors {
		if t.Name == name {
			return t, true
		}
	}
	return Tensor{}, false
}

func (p Params) NumValues() int {
	total := 0
	for _, t := range p.Tensors {
		total += len(t.Data)
	}
	return total
}

// Compatible reports whether other has the same tensor names and shapes.
func (p Params) Compatible(other Params) error {
	if len(p.Tensors) != len(other.Tensors) {
		return fmt.Errorf("tensor count %d != %d", len(p.Tensors), len(other.Tensors))
	}
	for i, t := range p.Tensors {
		o := other.Tensors[i]
		if t.Name != o.Name {
			return fmt.Errorf("tensor %d name %q != %q", i, t.Name, o.Name)
		}
		if !slices.Equal(t.Shape, o.Shape) {
			return fmt.Errorf("tensor %s shape %v != %v", t.Name, t.Shape, o.Shape)
		}
		if len(o.Data) != o.Size() {
			return fmt.Errorf("tensor %s has %d values, shape needs %d", o.Name, len(o.Data), o.Size())
		}
	}
	return nil
}

func (p Params) Finite() bool {
	for _, t := range p.Tensors {
		for _, v := range t.Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
