package dataset

import (
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"metahdr/internal/model"
)

var imageExtensions = []string{".png", ".tif", ".tiff", ".bmp"}

// LoadDir reads scenes laid out as <root>/<scene>/<exposure>.<ext>. Scene
// directories are taken in lexical order; every scene needs files 0..K.
func LoadDir(root string, numExposures int) (*Memory, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: read dataset root: %v", model.ErrData, err)
	}
	var sceneDirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			sceneDirs = append(sceneDirs, entry.Name())
		}
	}
	sort.Strings(sceneDirs)
	if len(sceneDirs) == 0 {
		return nil, fmt.Errorf("%w: no scene directories under %s", model.ErrData, root)
	}

	scenes := make([][]model.Image, 0, len(sceneDirs))
	for _, name := range sceneDirs {
		dir := filepath.Join(root, name)
		scene := make([]model.Image, numExposures+1)
		for exposure := range scene {
			path, err := findExposureFile(dir, exposure)
			if err != nil {
				return nil, err
			}
			img, err := ReadImage(path)
			if err != nil {
				return nil, err
			}
			scene[exposure] = img
		}
		scenes = append(scenes, scene)
	}
	return NewMemory(scenes, numExposures)
}

func findExposureFile(dir string, exposure int) (string, error) {
	base := strconv.Itoa(exposure)
	for _, ext := range imageExtensions {
		path := filepath.Join(dir, base+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: stat %s: %v", model.ErrData, path, err)
		}
	}
	return "", fmt.Errorf("%w: scene %s has no image for exposure %d", model.ErrData, dir, exposure)
}

// ReadImage decodes a PNG, TIFF or BMP file into an RGB image with values
// scaled to [0,1] by the format's full range.
func ReadImage(path string) (model.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Image{}, fmt.Errorf("%w: open %s: %v", model.ErrData, path, err)
	}
	defer f.Close()

	decoded, _, err := image.Decode(f)
	if err != nil {
		return model.Image{}, fmt.Errorf("%w: decode %s: %v", model.ErrData, path, err)
	}
	return FromImage(decoded), nil
}

// FromImage converts any image.Image to a 3-channel float image.
func FromImage(src image.Image) model.Image {
	b := src.Bounds()
	out := model.NewImage(b.Dy(), b.Dx(), 3)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			off := out.Offset(y, x, 0)
			out.Pix[off] = float64(r) / 0xffff
			out.Pix[off+1] = float64(g) / 0xffff
			out.Pix[off+2] = float64(bl) / 0xffff
		}
	}
	return out
}
