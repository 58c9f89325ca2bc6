package loss

import (
	"metahdr/internal/model"
)

const maxPerceptualScales = 3

// perceptualLoss compares fixed multi-scale feature maps of prediction and
// target: intensity plus horizontal and vertical differences on an average
// pooled pyramid. Each feature term is a mean squared distance; the terms are
// summed over scales. All features are linear in the input, so the loss only
// depends on the residual prediction - target.
func perceptualLoss(prediction, target model.Image) (float64, model.Image, error) {
	if err := checkPair(prediction, target); err != nil {
		return 0, model.Image{}, err
	}
	value, grad := perceptualResidual(residual(prediction, target))
	return value, grad, nil
}

// perceptualL2Loss adds the pixel mean squared error to perceptualLoss.
func perceptualL2Loss(prediction, target model.Image) (float64, model.Image, error) {
	if err := checkPair(prediction, target); err != nil {
		return 0, model.Image{}, err
	}
	e := residual(prediction, target)
	value, grad := perceptualResidual(e)
	n := float64(e.Len())
	mse := 0.0
	for i, v := range e.Pix {
		mse += v * v
		grad.Pix[i] += 2 * v / n
	}
	return value + mse/n, grad, nil
}

func residual(prediction, target model.Image) model.Image {
	e := model.NewImage(prediction.Height, prediction.Width, prediction.Channels)
	for i, p := range prediction.Pix {
		e.Pix[i] = p - target.Pix[i]
	}
	return e
}

func perceptualResidual(e model.Image) (float64, model.Image) {
	pyramid := []model.Image{e}
	for len(pyramid) < maxPerceptualScales {
		last := pyramid[len(pyramid)-1]
		if last.Height/2 < 2 || last.Width/2 < 2 {
			break
		}
		pyramid = append(pyramid, avgPool2(last))
	}

	total := 0.0
	grads := make([]model.Image, len(pyramid))
	for s, level := range pyramid {
		value, grad := featureDistance(level)
		total += value
		grads[s] = grad
	}
	// Pull coarse gradients back through the pooling adjoint, coarsest first.
	for s := len(pyramid) - 1; s > 0; s-- {
		up := avgPool2Adjoint(grads[s], pyramid[s-1].Height, pyramid[s-1].Width)
		for i, v := range up.Pix {
			grads[s-1].Pix[i] += v
		}
	}
	return total, grads[0]
}

// featureDistance returns the summed mean squares of intensity, x-difference
// and y-difference features of e, with the gradient for each.
func featureDistance(e model.Image) (float64, model.Image) {
	h, w, ch := e.Height, e.Width, e.Channels
	grad := model.NewImage(h, w, ch)

	n := float64(e.Len())
	value := 0.0
	for i, v := range e.Pix {
		value += v * v / n
		grad.Pix[i] += 2 * v / n
	}

	if w > 1 {
		nx := float64(h * (w - 1) * ch)
		for y := 0; y < h; y++ {
			for x := 0; x+1 < w; x++ {
				for c := 0; c < ch; c++ {
					d := e.At(y, x+1, c) - e.At(y, x, c)
					value += d * d / nx
					g := 2 * d / nx
					grad.Pix[grad.Offset(y, x+1, c)] += g
					grad.Pix[grad.Offset(y, x, c)] -= g
				}
			}
		}
	}
	if h > 1 {
		ny := float64((h - 1) * w * ch)
		for y := 0; y+1 < h; y++ {
			for x := 0; x < w; x++ {
				for c := 0; c < ch; c++ {
					d := e.At(y+1, x, c) - e.At(y, x, c)
					value += d * d / ny
					g := 2 * d / ny
					grad.Pix[grad.Offset(y+1, x, c)] += g
					grad.Pix[grad.Offset(y, x, c)] -= g
				}
			}
		}
	}
	return value, grad
}

// avgPool2 averages non-overlapping 2x2 blocks; an odd trailing row or column
// is dropped.
func avgPool2(img model.Image) model.Image {
	out := model.NewImage(img.Height/2, img.Width/2, img.Channels)
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			for c := 0; c < img.Channels; c++ {
				sum := img.At(2*y, 2*x, c) + img.At(2*y, 2*x+1, c) +
					img.At(2*y+1, 2*x, c) + img.At(2*y+1, 2*x+1, c)
				out.Set(y, x, c, sum/4)
			}
		}
	}
	return out
}

func avgPool2Adjoint(grad model.Image, h, w int) model.Image {
	out := model.NewImage(h, w, grad.Channels)
	for y := 0; y < grad.Height; y++ {
		for x := 0; x < grad.Width; x++ {
			for c := 0; c < grad.Channels; c++ {
				g := grad.At(y, x, c) / 4
				out.Pix[out.Offset(2*y, 2*x, c)] += g
				out.Pix[out.Offset(2*y, 2*x+1, c)] += g
				out.Pix[out.Offset(2*y+1, 2*x, c)] += g
				out.Pix[out.Offset(2*y+1, 2*x+1, c)] += g
			}
		}
	}
	return out
}
