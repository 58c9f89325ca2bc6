package metrics

import (
	"gonum.org/v1/gonum/stat"
)

// Accumulator collects per-task SSIM/PSNR values for one evaluation mode.
// Create a new Accumulator for each mode run.
type Accumulator struct {
	ssim []float64
	psnr []float64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

func (a *Accumulator) Add(ssim, psnr float64) {
	a.ssim = append(a.ssim, ssim)
	a.psnr = append(a.psnr, psnr)
}

func (a *Accumulator) Count() int {
	return len(a.ssim)
}

// Mean returns the arithmetic means of the recorded values, or zeros when
// nothing was recorded.
func (a *Accumulator) Mean() (ssim, psnr float64) {
	if len(a.ssim) == 0 {
		return 0, 0
	}
	return stat.Mean(a.ssim, nil), stat.Mean(a.psnr, nil)
}

func (a *Accumulator) Reset() {
	a.ssim = a.ssim[:0]
	a.psnr = a.psnr[:0]
}
