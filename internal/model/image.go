package model

import (
	"fmt"
	"math"
)

// Image is a dense float tensor in height x width x channel order.
type Image struct {
	Height   int       `json:"height"`
	Width    int       `json:"width"`
	Channels int       `json:"channels"`
	Pix      []float64 `json:"pix"`
}

func NewImage(height, width, channels int) Image {
	return Image{
		Height:   height,
		Width:    width,
		Channels: channels,
		Pix:      make([]float64, height*width*channels),
	}
}

// FilledImage returns an image whose every element equals v.
func FilledImage(height, width, channels int, v float64) Image {
	img := NewImage(height, width, channels)
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func (m Image) Len() int {
	return m.Height * m.Width * m.Channels
}

func (m Image) Offset(y, x, c int) int {
	return (y*m.Width+x)*m.Channels + c
}

func (m Image) At(y, x, c int) float64 {
	return m.Pix[m.Offset(y, x, c)]
}

func (m Image) Set(y, x, c int, v float64) {
	m.Pix[m.Offset(y, x, c)] = v
}

func (m Image) Clone() Image {
	out := m
	out.Pix = append([]float64(nil), m.Pix...)
	return out
}

func (m Image) SameShape(other Image) bool {
	return m.Height == other.Height && m.Width == other.Width && m.Channels == other.Channels
}

func (m Image) Validate() error {
	if m.Height <= 0 || m.Width <= 0 || m.Channels <= 0 {
		return fmt.Errorf("%w: invalid image shape %dx%dx%d", ErrData, m.Height, m.Width, m.Channels)
	}
	if len(m.Pix) != m.Len() {
		return fmt.Errorf("%w: image has %d values, shape %dx%dx%d needs %d", ErrData, len(m.Pix), m.Height, m.Width, m.Channels, m.Len())
	}
	return nil
}

// CheckShapes reports a data error when two images differ in shape.
func CheckShapes(a, b Image) error {
	if !a.SameShape(b) {
		return fmt.Errorf("%w: shape mismatch %dx%dx%d vs %dx%dx%d", ErrData, a.Height, a.Width, a.Channels, b.Height, b.Width, b.Channels)
	}
	return nil
}

func (m Image) Finite() bool {
	for _, v := range m.Pix {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
