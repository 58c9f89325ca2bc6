package metrics

import (
	"metahdr/internal/model"
)

const (
	// DefaultSSIMWindow is the side of the uniform sliding window.
	DefaultSSIMWindow = 7

	ssimK1 = 0.01
	ssimK2 = 0.03
)

// SSIM returns the mean structural similarity over all valid 7x7 windows and
// channels, for images with data range 1. Images smaller than the window use
// a window as large as their shorter side.
func SSIM(a, b model.Image) (float64, error) {
	value, _, err := ssim(a, b, false)
	return value, err
}

// SSIMWithGradient returns SSIM(pred, target) and its gradient with respect
// to pred.
func SSIMWithGradient(pred, target model.Image) (float64, model.Image, error) {
	return ssim(pred, target, true)
}

func ssim(x, y model.Image, withGrad bool) (float64, model.Image, error) {
	if err := x.Validate(); err != nil {
		return 0, model.Image{}, err
	}
	if err := model.CheckShapes(x, y); err != nil {
		return 0, model.Image{}, err
	}
	win := DefaultSSIMWindow
	if x.Height < win {
		win = x.Height
	}
	if x.Width < win {
		win = x.Width
	}
	n := float64(win * win)
	c1 := ssimK1 * ssimK1
	c2 := ssimK2 * ssimK2

	var grad model.Image
	if withGrad {
		grad = model.NewImage(x.Height, x.Width, x.Channels)
	}

	total := 0.0
	windows := 0
	for c := 0; c < x.Channels; c++ {
		for wy := 0; wy+win <= x.Height; wy++ {
			for wx := 0; wx+win <= x.Width; wx++ {
				var sumX, sumY float64
				for dy := 0; dy < win; dy++ {
					for dx := 0; dx < win; dx++ {
						off := x.Offset(wy+dy, wx+dx, c)
						sumX += x.Pix[off]
						sumY += y.Pix[off]
					}
				}
				mx, my := sumX/n, sumY/n
				var vx, vy, cov float64
				for dy := 0; dy < win; dy++ {
					for dx := 0; dx < win; dx++ {
						off := x.Offset(wy+dy, wx+dx, c)
						ex := x.Pix[off] - mx
						ey := y.Pix[off] - my
						vx += ex * ex
						vy += ey * ey
						cov += ex * ey
					}
				}
				vx /= n
				vy /= n
				cov /= n

				a1 := 2*mx*my + c1
				a2 := 2*cov + c2
				b1 := mx*mx + my*my + c1
				b2 := vx + vy + c2
				den := b1 * b2
				s := (a1 * a2) / den
				total += s
				windows++

				if !withGrad {
					continue
				}
				for dy := 0; dy < win; dy++ {
					for dx := 0; dx < win; dx++ {
						off := x.Offset(wy+dy, wx+dx, c)
						dA1 := 2 * my / n
						dA2 := 2 * (y.Pix[off] - my) / n
						dB1 := 2 * mx / n
						dB2 := 2 * (x.Pix[off] - mx) / n
						dNum := dA1*a2 + a1*dA2
						dDen := dB1*b2 + b1*dB2
						grad.Pix[off] += (dNum - s*dDen) / den
					}
				}
			}
		}
	}

	mean := total / float64(windows)
	if withGrad {
		for i := range grad.Pix {
			grad.Pix[i] /= float64(windows)
		}
	}
	return mean, grad, nil
}
