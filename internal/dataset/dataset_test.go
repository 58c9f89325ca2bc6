package dataset

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"golang.org/x/image/tiff"

	"metahdr/internal/model"
)

func TestNewMemoryValidatesSceneShape(t *testing.T) {
	good := []model.Image{model.NewImage(2, 2, 3), model.NewImage(2, 2, 3), model.NewImage(2, 2, 3)}
	if _, err := NewMemory([][]model.Image{good}, 2); err != nil {
		t.Fatalf("new memory: %v", err)
	}
	if _, err := NewMemory([][]model.Image{good}, 3); !errors.Is(err, model.ErrData) {
		t.Fatalf("expected data error for missing exposure, got %v", err)
	}
	mixed := []model.Image{model.NewImage(2, 2, 3), model.NewImage(2, 3, 3), model.NewImage(2, 2, 3)}
	if _, err := NewMemory([][]model.Image{mixed}, 2); !errors.Is(err, model.ErrData) {
		t.Fatalf("expected data error for mixed shapes, got %v", err)
	}
}

func TestMemoryImageBounds(t *testing.T) {
	ds, err := Constant(2, 3, 2, 2, 3, 0.5)
	if err != nil {
		t.Fatalf("constant dataset: %v", err)
	}
	if ds.Len() != 2 || ds.NumExposures() != 3 {
		t.Fatalf("unexpected dataset dims len=%d k=%d", ds.Len(), ds.NumExposures())
	}
	if _, err := ds.Image(1, 3); err != nil {
		t.Fatalf("image: %v", err)
	}
	if _, err := ds.Image(2, 0); !errors.Is(err, model.ErrData) {
		t.Fatalf("expected data error for scene out of range, got %v", err)
	}
	if _, err := ds.Image(0, 4); !errors.Is(err, model.ErrData) {
		t.Fatalf("expected data error for exposure out of range, got %v", err)
	}
}

func writePNG(t *testing.T, path string, v uint8) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func writeTIFF(t *testing.T, path string, v uint16) {
	t.Helper()
	img := image.NewRGBA64(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA64{R: v, G: v, B: v, A: 0xffff})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := tiff.Encode(f, img, nil); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestLoadDirReadsScenesInOrder(t *testing.T) {
	root := t.TempDir()
	for scene, name := range []string{"a_scene", "b_scene"} {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		writeTIFF(t, filepath.Join(dir, "0.tif"), 0xffff)
		for exposure := 1; exposure <= 2; exposure++ {
			writePNG(t, filepath.Join(dir, strconv.Itoa(exposure)+".png"), uint8(51*(scene+1)))
		}
	}

	ds, err := LoadDir(root, 2)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("expected 2 scenes, got %d", ds.Len())
	}
	ref, _ := ds.Image(0, 0)
	if ref.Height != 3 || ref.Width != 4 || ref.Channels != 3 || ref.Pix[0] != 1 {
		t.Fatalf("unexpected reference image: %dx%dx%d first=%f", ref.Height, ref.Width, ref.Channels, ref.Pix[0])
	}
	second, _ := ds.Image(1, 2)
	if math.Abs(second.Pix[5]-0.4) > 1e-12 {
		t.Fatalf("expected scene b exposure value 0.4, got %f", second.Pix[5])
	}
}

func TestLoadDirMissingExposureIsDataError(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "scene")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writePNG(t, filepath.Join(dir, "0.png"), 10)
	writePNG(t, filepath.Join(dir, "1.png"), 10)

	if _, err := LoadDir(root, 2); !errors.Is(err, model.ErrData) {
		t.Fatalf("expected data error, got %v", err)
	}
	if _, err := LoadDir(filepath.Join(root, "missing"), 2); !errors.Is(err, model.ErrData) {
		t.Fatalf("expected data error for missing root, got %v", err)
	}
}
