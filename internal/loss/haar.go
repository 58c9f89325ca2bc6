package loss

import (
	"math"

	"metahdr/internal/model"
)

const maxHaarLevels = 3

// haarLoss is the mean L1 distance between orthonormal 2-D Haar
// decompositions of each channel. The transform is linear and orthonormal, so
// its adjoint is the inverse transform.
func haarLoss(prediction, target model.Image) (float64, model.Image, error) {
	if err := checkPair(prediction, target); err != nil {
		return 0, model.Image{}, err
	}
	h, w := prediction.Height, prediction.Width
	levels := haarLevels(h, w)
	n := float64(prediction.Len())
	grad := model.NewImage(h, w, prediction.Channels)

	total := 0.0
	for c := 0; c < prediction.Channels; c++ {
		cp := channelPlane(prediction, c)
		ct := channelPlane(target, c)
		haarForward(cp, h, w, levels)
		haarForward(ct, h, w, levels)
		signs := make([]float64, len(cp))
		for i := range cp {
			d := cp[i] - ct[i]
			total += math.Abs(d)
			signs[i] = sign(d) / n
		}
		haarInverse(signs, h, w, levels)
		setChannelPlane(grad, c, signs)
	}
	return total / n, grad, nil
}

// haarLevels is the number of decomposition levels the image dimensions
// allow, capped at maxHaarLevels.
func haarLevels(h, w int) int {
	levels := 0
	for levels < maxHaarLevels && h >= 2 && w >= 2 && h%2 == 0 && w%2 == 0 {
		levels++
		h /= 2
		w /= 2
	}
	return levels
}

func haarForward(plane []float64, h, w, levels int) {
	rh, rw := h, w
	tmp := make([]float64, len(plane))
	for l := 0; l < levels; l++ {
		hh, hw := rh/2, rw/2
		for i := 0; i < hh; i++ {
			for j := 0; j < hw; j++ {
				a := plane[(2*i)*w+2*j]
				b := plane[(2*i)*w+2*j+1]
				c := plane[(2*i+1)*w+2*j]
				d := plane[(2*i+1)*w+2*j+1]
				tmp[i*w+j] = (a + b + c + d) / 2
				tmp[i*w+j+hw] = (a - b + c - d) / 2
				tmp[(i+hh)*w+j] = (a + b - c - d) / 2
				tmp[(i+hh)*w+j+hw] = (a - b - c + d) / 2
			}
		}
		for y := 0; y < rh; y++ {
			copy(plane[y*w:y*w+rw], tmp[y*w:y*w+rw])
		}
		rh, rw = hh, hw
	}
}

func haarInverse(plane []float64, h, w, levels int) {
	tmp := make([]float64, len(plane))
	for l := levels - 1; l >= 0; l-- {
		rh, rw := h>>l, w>>l
		hh, hw := rh/2, rw/2
		for i := 0; i < hh; i++ {
			for j := 0; j < hw; j++ {
				ll := plane[i*w+j]
				hl := plane[i*w+j+hw]
				lh := plane[(i+hh)*w+j]
				hhv := plane[(i+hh)*w+j+hw]
				tmp[(2*i)*w+2*j] = (ll + hl + lh + hhv) / 2
				tmp[(2*i)*w+2*j+1] = (ll - hl + lh - hhv) / 2
				tmp[(2*i+1)*w+2*j] = (ll + hl - lh - hhv) / 2
				tmp[(2*i+1)*w+2*j+1] = (ll - hl - lh + hhv) / 2
			}
		}
		for y := 0; y < rh; y++ {
			copy(plane[y*w:y*w+rw], tmp[y*w:y*w+rw])
		}
	}
}

func channelPlane(img model.Image, c int) []float64 {
	out := make([]float64, img.Height*img.Width)
	for i := range out {
		out[i] = img.Pix[i*img.Channels+c]
	}
	return out
}

func setChannelPlane(img model.Image, c int, plane []float64) {
	for i, v := range plane {
		img.Pix[i*img.Channels+c] = v
	}
}
