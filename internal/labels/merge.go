package labels

import (
	"fmt"
	"math"

	"metahdr/internal/dataset"
	"metahdr/internal/model"
)

const SourceMerge = "merge"

// Merge labels support exposures with a classical fusion of the scene's
// whole bracket: a per-pixel weighted mean of exposures 1..K where each
// value is weighted by a hat function that distrusts clipped shadows and
// highlights. Without exposure times the result is display-referred.
type Merge struct{}

func (Merge) Name() string {
	return SourceMerge
}

func (Merge) SupportLabel(ds dataset.Dataset, scene, _ int) (model.Image, error) {
	k := ds.NumExposures()
	var mean, weights model.Image
	for exposure := 1; exposure <= k; exposure++ {
		img, err := ds.Image(scene, exposure)
		if err != nil {
			return model.Image{}, err
		}
		if exposure == 1 {
			mean = model.NewImage(img.Height, img.Width, img.Channels)
			weights = model.NewImage(img.Height, img.Width, img.Channels)
		} else if err := model.CheckShapes(mean, img); err != nil {
			return model.Image{}, fmt.Errorf("merge scene %d: %w", scene, err)
		}
		// Running weighted mean: agreeing exposures merge to exactly their
		// shared value.
		for i, v := range img.Pix {
			w := hatWeight(v)
			weights.Pix[i] += w
			mean.Pix[i] += (w / weights.Pix[i]) * (v - mean.Pix[i])
		}
	}
	return mean, nil
}

// hatWeight peaks at mid-grey and never reaches zero, so a pixel clipped in
// every exposure still gets a defined value.
func hatWeight(v float64) float64 {
	return math.Max(0, 1-math.Abs(2*v-1)) + 1e-3
}
