package export

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"metahdr/internal/evaluate"
	"metahdr/internal/model"
)

func TestExportWritesModeSubdirectory(t *testing.T) {
	dir := t.TempDir()
	exporter := PNGExporter{Dir: dir}
	sample := evaluate.Sample{
		Input:      model.FilledImage(2, 3, 3, 0.2),
		Prediction: model.FilledImage(2, 3, 3, 1.5),
		Label:      model.FilledImage(2, 3, 3, -0.1),
	}
	if err := exporter.Export(evaluate.ModeSingle, 7, sample); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, evaluate.ModeSingle, "000007_pred.png"))
	if err != nil {
		t.Fatalf("open prediction preview: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Fatalf("unexpected preview bounds: %v", b)
	}
	r, _, _, _ := img.At(0, 0).RGBA()
	if r>>8 != 255 {
		t.Fatalf("expected clamped prediction value 255, got %d", r>>8)
	}
	for _, suffix := range []string{"input", "label"} {
		if _, err := os.Stat(filepath.Join(dir, evaluate.ModeSingle, "000007_"+suffix+".png")); err != nil {
			t.Fatalf("expected %s preview: %v", suffix, err)
		}
	}
}

func TestToNRGBAEncodesLinearValues(t *testing.T) {
	img := model.FilledImage(1, 1, 3, 0.5)
	plain := PNGExporter{}.ToNRGBA(img)
	linear := PNGExporter{Linear: true}.ToNRGBA(img)
	if plain.Pix[0] != 128 {
		t.Fatalf("expected plain quantisation 128, got %d", plain.Pix[0])
	}
	if linear.Pix[0] <= plain.Pix[0] {
		t.Fatalf("expected sRGB encoding to brighten mid grey, got %d", linear.Pix[0])
	}
}
