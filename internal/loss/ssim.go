package loss

import (
	"metahdr/internal/metrics"
	"metahdr/internal/model"
)

func ssimLoss(prediction, target model.Image) (float64, model.Image, error) {
	if err := checkPair(prediction, target); err != nil {
		return 0, model.Image{}, err
	}
	value, grad, err := metrics.SSIMWithGradient(prediction, target)
	if err != nil {
		return 0, model.Image{}, err
	}
	for i, v := range grad.Pix {
		grad.Pix[i] = -v
	}
	return 1 - value, grad, nil
}
