package labels

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"metahdr/internal/dataset"
	"metahdr/internal/model"
)

func TestBaselineIndexMapping(t *testing.T) {
	b := Baseline{DatasetLen: 10}
	cases := map[int]int{1: 5 + 1 + 10, 2: 5 + 1, 3: 5 + 1 + 20}
	for exposure, want := range cases {
		got, err := b.Index(5, exposure)
		if err != nil {
			t.Fatalf("index exposure %d: %v", exposure, err)
		}
		if got != want {
			t.Fatalf("exposure %d: got index %d want %d", exposure, got, want)
		}
	}
	if _, err := b.Index(5, 4); !errors.Is(err, model.ErrData) {
		t.Fatalf("expected data error for exposure without slot, got %v", err)
	}
	path, _ := b.Path(5, 1)
	if filepath.Base(path) != "000016_out.png" {
		t.Fatalf("unexpected baseline file name: %s", path)
	}
}

func writeBaseline(t *testing.T, path string, w, h int, v uint8) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestBaselineSupportLabelNormalizes(t *testing.T) {
	ds, err := dataset.Constant(2, 3, 3, 4, 3, 0)
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	dir := t.TempDir()
	b := Baseline{Dir: dir, DatasetLen: ds.Len()}
	path, _ := b.Path(1, 3)
	writeBaseline(t, path, 4, 3, 51)

	label, err := b.SupportLabel(ds, 1, 3)
	if err != nil {
		t.Fatalf("support label: %v", err)
	}
	for _, v := range label.Pix {
		if math.Abs(v-0.2) > 1e-12 {
			t.Fatalf("expected normalized value 0.2, got %f", v)
		}
	}
}

func TestBaselineMissingFileIsDataError(t *testing.T) {
	ds, _ := dataset.Constant(1, 3, 2, 2, 3, 0)
	b := Baseline{Dir: t.TempDir(), DatasetLen: 1}
	if _, err := b.SupportLabel(ds, 0, 1); !errors.Is(err, model.ErrData) {
		t.Fatalf("expected data error, got %v", err)
	}
}

func TestBaselineShapeMismatchIsDataError(t *testing.T) {
	ds, _ := dataset.Constant(1, 3, 2, 2, 3, 0)
	dir := t.TempDir()
	b := Baseline{Dir: dir, DatasetLen: 1}
	path, _ := b.Path(0, 2)
	writeBaseline(t, path, 5, 5, 0)
	if _, err := b.SupportLabel(ds, 0, 2); !errors.Is(err, model.ErrData) {
		t.Fatalf("expected data error, got %v", err)
	}
}

func TestGroundTruthUsesReference(t *testing.T) {
	scenes := [][]model.Image{{
		model.FilledImage(2, 2, 3, 0.9),
		model.FilledImage(2, 2, 3, 0.1),
		model.FilledImage(2, 2, 3, 0.2),
	}}
	ds, err := dataset.NewMemory(scenes, 2)
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	label, err := GroundTruth{}.SupportLabel(ds, 0, 2)
	if err != nil {
		t.Fatalf("support label: %v", err)
	}
	if label.Pix[0] != 0.9 {
		t.Fatalf("expected reference value, got %f", label.Pix[0])
	}
}

func TestMergeFavoursWellExposedValues(t *testing.T) {
	scenes := [][]model.Image{{
		model.FilledImage(2, 2, 3, 0.9),
		model.FilledImage(2, 2, 3, 0.5),
		model.FilledImage(2, 2, 3, 0.1),
		model.FilledImage(2, 2, 3, 1.0),
	}}
	ds, err := dataset.NewMemory(scenes, 3)
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	label, err := Merge{}.SupportLabel(ds, 0, 1)
	if err != nil {
		t.Fatalf("support label: %v", err)
	}
	w1, w2, w3 := hatWeight(0.5), hatWeight(0.1), hatWeight(1.0)
	want := (w1*0.5 + w2*0.1 + w3*1.0) / (w1 + w2 + w3)
	if math.Abs(label.Pix[0]-want) > 1e-12 {
		t.Fatalf("unexpected merged value: got=%f want=%f", label.Pix[0], want)
	}
	if label.Pix[0] < 0.4 || label.Pix[0] > 0.5 {
		t.Fatalf("merge should lean on the mid exposure, got %f", label.Pix[0])
	}
	if hatWeight(2) <= 0 {
		t.Fatal("hat weight must stay positive out of range")
	}
}

func TestMergeOfEqualExposuresIsExact(t *testing.T) {
	ds, err := dataset.Constant(1, 3, 2, 2, 3, 0.2)
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	label, err := Merge{}.SupportLabel(ds, 0, 2)
	if err != nil {
		t.Fatalf("support label: %v", err)
	}
	for i, v := range label.Pix {
		if v != 0.2 {
			t.Fatalf("pixel %d: got=%v want=0.2", i, v)
		}
	}
}
