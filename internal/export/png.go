// Package export writes evaluation previews as PNG files.
package export

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	colorful "github.com/lucasb-eyer/go-colorful"

	"metahdr/internal/evaluate"
	"metahdr/internal/model"
)

// PNGExporter writes input, prediction and label of every scored sample to
// <Dir>/<mode>/<index>_{input,pred,label}.png.
type PNGExporter struct {
	Dir string
	// Linear marks pixel values as linear light; they are sRGB encoded
	// before quantisation.
	Linear bool
}

func (e PNGExporter) Export(mode string, index int, sample evaluate.Sample) error {
	dir := filepath.Join(e.Dir, mode)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, item := range []struct {
		suffix string
		img    model.Image
	}{
		{"input", sample.Input},
		{"pred", sample.Prediction},
		{"label", sample.Label},
	} {
		path := filepath.Join(dir, fmt.Sprintf("%06d_%s.png", index, item.suffix))
		if err := e.writePNG(path, item.img); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func (e PNGExporter) writePNG(path string, img model.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, e.ToNRGBA(img)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ToNRGBA quantises img to 8 bits per channel. Single-channel images are
// rendered as grey.
func (e PNGExporter) ToNRGBA(img model.Image) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			var r, g, b float64
			if img.Channels >= 3 {
				r, g, b = img.At(y, x, 0), img.At(y, x, 1), img.At(y, x, 2)
			} else {
				r = img.At(y, x, 0)
				g, b = r, r
			}
			c := colorful.Color{R: r, G: g, B: b}
			if e.Linear {
				c = colorful.LinearRgb(clamp01(r), clamp01(g), clamp01(b))
			}
			r8, g8, b8 := c.Clamped().RGB255()
			off := out.PixOffset(x, y)
			out.Pix[off] = r8
			out.Pix[off+1] = g8
			out.Pix[off+2] = b8
			out.Pix[off+3] = 0xff
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
