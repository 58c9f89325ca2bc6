package nn

import (
	"gonum.org/v1/gonum/mat"

	"metahdr/internal/model"
)

const kernelSize = 3

// im2col unrolls every 3x3 zero-padded neighbourhood of img into one row, so a
// convolution becomes a single matrix product with a (9*C) x F weight matrix.
func im2col(img model.Image) *mat.Dense {
	h, w, c := img.Height, img.Width, img.Channels
	cols := kernelSize * kernelSize * c
	out := mat.NewDense(h*w, cols, nil)
	raw := out.RawMatrix()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			row := raw.Data[(y*w+x)*raw.Stride:]
			for ky := 0; ky < kernelSize; ky++ {
				sy := y + ky - 1
				if sy < 0 || sy >= h {
					continue
				}
				for kx := 0; kx < kernelSize; kx++ {
					sx := x + kx - 1
					if sx < 0 || sx >= w {
						continue
					}
					base := (ky*kernelSize + kx) * c
					copy(row[base:base+c], img.Pix[img.Offset(sy, sx, 0):img.Offset(sy, sx, 0)+c])
				}
			}
		}
	}
	return out
}

// col2im is the adjoint of im2col: each unrolled entry is accumulated back onto
// the pixel it was read from.
func col2im(cols *mat.Dense, h, w, c int) model.Image {
	out := model.NewImage(h, w, c)
	raw := cols.RawMatrix()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			row := raw.Data[(y*w+x)*raw.Stride:]
			for ky := 0; ky < kernelSize; ky++ {
				sy := y + ky - 1
				if sy < 0 || sy >= h {
					continue
				}
				for kx := 0; kx < kernelSize; kx++ {
					sx := x + kx - 1
					if sx < 0 || sx >= w {
						continue
					}
					base := (ky*kernelSize + kx) * c
					dst := out.Offset(sy, sx, 0)
					for ch := 0; ch < c; ch++ {
						out.Pix[dst+ch] += row[base+ch]
					}
				}
			}
		}
	}
	return out
}

// conv computes cols * weight + bias for a weight tensor of shape [9*C, F].
func conv(cols *mat.Dense, weight, bias model.Tensor) *mat.Dense {
	rows, _ := cols.Dims()
	filters := weight.Shape[1]
	w := mat.NewDense(weight.Shape[0], filters, weight.Data)
	out := mat.NewDense(rows, filters, nil)
	out.Mul(cols, w)
	raw := out.RawMatrix()
	for r := 0; r < rows; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+filters]
		for f := range row {
			row[f] += bias.Data[f]
		}
	}
	return out
}

// convBackward returns the weight and bias gradients for conv and the gradient
// with respect to cols.
func convBackward(cols *mat.Dense, weight model.Tensor, gradOut *mat.Dense) (dWeight, dBias []float64, dCols *mat.Dense) {
	rows, filters := gradOut.Dims()
	w := mat.NewDense(weight.Shape[0], filters, weight.Data)

	dw := mat.NewDense(weight.Shape[0], filters, nil)
	dw.Mul(cols.T(), gradOut)

	dBias = make([]float64, filters)
	raw := gradOut.RawMatrix()
	for r := 0; r < rows; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+filters]
		for f, v := range row {
			dBias[f] += v
		}
	}

	_, colCount := cols.Dims()
	dCols = mat.NewDense(rows, colCount, nil)
	dCols.Mul(gradOut, w.T())
	return dw.RawMatrix().Data, dBias, dCols
}

// asImage views a (H*W) x C dense matrix as an HWC image without copying.
func asImage(m *mat.Dense, h, w int) model.Image {
	_, c := m.Dims()
	return model.Image{Height: h, Width: w, Channels: c, Pix: m.RawMatrix().Data}
}
