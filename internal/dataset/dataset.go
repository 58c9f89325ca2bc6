// Package dataset holds meta-test scenes: scene x exposure -> image, with
// exposure 0 reserved for the reference reconstruction.
package dataset

import (
	"fmt"

	"metahdr/internal/model"
)

// ReferenceExposure is the exposure index holding the ground-truth label.
const ReferenceExposure = 0

type Dataset interface {
	// Len is the number of scenes.
	Len() int
	// NumExposures is K, the number of bracketed exposures per scene.
	NumExposures() int
	Image(scene, exposure int) (model.Image, error)
}

// Memory is a Dataset held entirely in memory.
type Memory struct {
	scenes       [][]model.Image
	numExposures int
}

// NewMemory validates that every scene has exactly numExposures+1 images of a
// single shape.
func NewMemory(scenes [][]model.Image, numExposures int) (*Memory, error) {
	if numExposures < 1 {
		return nil, fmt.Errorf("%w: num exposures must be >= 1, got %d", model.ErrConfig, numExposures)
	}
	for i, scene := range scenes {
		if len(scene) != numExposures+1 {
			return nil, fmt.Errorf("%w: scene %d has %d images, want %d", model.ErrData, i, len(scene), numExposures+1)
		}
		for j, img := range scene {
			if err := img.Validate(); err != nil {
				return nil, fmt.Errorf("scene %d exposure %d: %w", i, j, err)
			}
			if !img.SameShape(scene[0]) {
				return nil, fmt.Errorf("%w: scene %d exposure %d shape %dx%dx%d differs from reference %dx%dx%d",
					model.ErrData, i, j, img.Height, img.Width, img.Channels, scene[0].Height, scene[0].Width, scene[0].Channels)
			}
		}
	}
	return &Memory{scenes: scenes, numExposures: numExposures}, nil
}

func (m *Memory) Len() int {
	return len(m.scenes)
}

func (m *Memory) NumExposures() int {
	return m.numExposures
}

func (m *Memory) Image(scene, exposure int) (model.Image, error) {
	if scene < 0 || scene >= len(m.scenes) {
		return model.Image{}, fmt.Errorf("%w: scene %d out of range [0,%d)", model.ErrData, scene, len(m.scenes))
	}
	if exposure < 0 || exposure > m.numExposures {
		return model.Image{}, fmt.Errorf("%w: exposure %d out of range [0,%d]", model.ErrData, exposure, m.numExposures)
	}
	return m.scenes[scene][exposure], nil
}

// Constant builds a dataset whose every image is filled with value.
func Constant(numScenes, numExposures, height, width, channels int, value float64) (*Memory, error) {
	scenes := make([][]model.Image, numScenes)
	for i := range scenes {
		scenes[i] = make([]model.Image, numExposures+1)
		for j := range scenes[i] {
			scenes[i][j] = model.FilledImage(height, width, channels, value)
		}
	}
	return NewMemory(scenes, numExposures)
}
