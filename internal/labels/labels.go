// Package labels supplies support-set supervision for adapted evaluation.
package labels

import (
	"fmt"
	"path/filepath"

	"metahdr/internal/dataset"
	"metahdr/internal/model"
)

const (
	SourceDebevec = "debevec"
	SourceHDRCNN  = "hdrcnn"
)

// Source resolves the label used to adapt on one support exposure. Query
// exposures are always scored against the dataset reference.
type Source interface {
	Name() string
	SupportLabel(ds dataset.Dataset, scene, exposure int) (model.Image, error)
}

// GroundTruth labels every support exposure with the scene's reference
// image, which is the classical Debevec merge of the bracket.
type GroundTruth struct{}

func (GroundTruth) Name() string {
	return SourceDebevec
}

func (GroundTruth) SupportLabel(ds dataset.Dataset, scene, _ int) (model.Image, error) {
	return ds.Image(scene, dataset.ReferenceExposure)
}

// Baseline labels support exposures with precomputed single-image HDR network
// outputs stored as <Dir>/<index>_out.png.
type Baseline struct {
	Dir string
	// DatasetLen is the total scene count of the evaluated dataset; it sets
	// the stride between exposure slots in the file numbering.
	DatasetLen int
}

func (Baseline) Name() string {
	return SourceHDRCNN
}

// Index maps (scene, exposure) to the baseline file number. Exposure 2 is the
// centre slot with no offset; exposures 1 and 3 are one and two dataset
// lengths further.
func (b Baseline) Index(scene, exposure int) (int, error) {
	idx := scene + 1
	switch exposure {
	case 1:
		return idx + b.DatasetLen, nil
	case 2:
		return idx, nil
	case 3:
		return idx + 2*b.DatasetLen, nil
	default:
		return 0, fmt.Errorf("%w: no baseline slot for exposure %d", model.ErrData, exposure)
	}
}

func (b Baseline) Path(scene, exposure int) (string, error) {
	idx, err := b.Index(scene, exposure)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.Dir, fmt.Sprintf("%06d_out.png", idx)), nil
}

func (b Baseline) SupportLabel(ds dataset.Dataset, scene, exposure int) (model.Image, error) {
	path, err := b.Path(scene, exposure)
	if err != nil {
		return model.Image{}, err
	}
	label, err := dataset.ReadImage(path)
	if err != nil {
		return model.Image{}, fmt.Errorf("baseline label scene=%d exposure=%d: %w", scene, exposure, err)
	}
	ref, err := ds.Image(scene, dataset.ReferenceExposure)
	if err != nil {
		return model.Image{}, err
	}
	if err := model.CheckShapes(label, ref); err != nil {
		return model.Image{}, fmt.Errorf("baseline label %s: %w", path, err)
	}
	return label, nil
}
