package loss

import (
	"math"

	"metahdr/internal/model"
)

const (
	expandNetCosineWeight = 5.0
	cosineEps             = 1e-8
)

// expandNetLoss is mean L1 plus a weighted penalty on the per-pixel cosine
// distance between predicted and target colour vectors.
func expandNetLoss(prediction, target model.Image) (float64, model.Image, error) {
	if err := checkPair(prediction, target); err != nil {
		return 0, model.Image{}, err
	}
	n := float64(prediction.Len())
	pixels := prediction.Height * prediction.Width
	ch := prediction.Channels
	grad := model.NewImage(prediction.Height, prediction.Width, ch)

	l1 := 0.0
	for i, p := range prediction.Pix {
		d := p - target.Pix[i]
		l1 += math.Abs(d)
		grad.Pix[i] = sign(d) / n
	}
	l1 /= n

	cosTotal := 0.0
	scale := expandNetCosineWeight / float64(pixels)
	for px := 0; px < pixels; px++ {
		p := prediction.Pix[px*ch : (px+1)*ch]
		t := target.Pix[px*ch : (px+1)*ch]
		var dot, pp, tt float64
		for c := range p {
			dot += p[c] * t[c]
			pp += p[c] * p[c]
			tt += t[c] * t[c]
		}
		normP := math.Sqrt(pp)
		normT := math.Sqrt(tt)
		np := math.Max(normP, cosineEps)
		nt := math.Max(normT, cosineEps)
		cs := dot / (np * nt)
		cosTotal += cs

		g := grad.Pix[px*ch : (px+1)*ch]
		for c := range p {
			dcs := t[c] / (np * nt)
			if normP > cosineEps {
				dcs -= cs * p[c] / (np * np)
			}
			g[c] -= scale * dcs
		}
	}
	value := l1 + expandNetCosineWeight*(1-cosTotal/float64(pixels))
	return value, grad, nil
}
