package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"metahdr/internal/model"
)

// PSNR returns the peak signal-to-noise ratio in dB for data range 1.
// Identical images yield +Inf.
func PSNR(a, b model.Image) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := model.CheckShapes(a, b); err != nil {
		return 0, err
	}
	dist := floats.Distance(a.Pix, b.Pix, 2)
	mse := dist * dist / float64(len(a.Pix))
	if mse == 0 {
		return math.Inf(1), nil
	}
	return 10 * math.Log10(1/mse), nil
}

// Score returns SSIM and PSNR of prediction against label. A NaN SSIM or a
// PSNR that is NaN or -Inf is an ErrNumeric; +Inf PSNR is an exact match.
func Score(prediction, label model.Image) (ssim, psnr float64, err error) {
	ssim, err = SSIM(prediction, label)
	if err != nil {
		return 0, 0, err
	}
	psnr, err = PSNR(prediction, label)
	if err != nil {
		return 0, 0, err
	}
	if math.IsNaN(ssim) || math.IsInf(ssim, 0) {
		return 0, 0, fmt.Errorf("%w: non-finite ssim %v", model.ErrNumeric, ssim)
	}
	if math.IsNaN(psnr) || math.IsInf(psnr, -1) {
		return 0, 0, fmt.Errorf("%w: unusable psnr %v", model.ErrNumeric, psnr)
	}
	return ssim, psnr, nil
}
