package inference

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, width, height int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}

	path := filepath.Join(t.TempDir(), "test.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func decodeDataURL(t *testing.T, dataURL string) image.Image {
	t.Helper()

	const prefix = "data:image/jpeg;base64,"
	require.True(t, strings.HasPrefix(dataURL, prefix))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, prefix))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestEncodeImageFileSmallImageKeepsSize(t *testing.T) {
	path := writeTestPNG(t, 100, 60)

	dataURL, err := EncodeImageFile(path, 896, 85)
	require.NoError(t, err)

	img := decodeDataURL(t, dataURL)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 60, img.Bounds().Dy())
}

func TestEncodeImageFileScalesDownWide(t *testing.T) {
	path := writeTestPNG(t, 2000, 1000)

	dataURL, err := EncodeImageFile(path, 896, 85)
	require.NoError(t, err)

	img := decodeDataURL(t, dataURL)
	assert.Equal(t, 896, img.Bounds().Dx())
	assert.Equal(t, 448, img.Bounds().Dy(), "aspect ratio must be preserved")
}

func TestEncodeImageFileScalesDownTall(t *testing.T) {
	path := writeTestPNG(t, 500, 1500)

	dataURL, err := EncodeImageFile(path, 896, 85)
	require.NoError(t, err)

	img := decodeDataURL(t, dataURL)
	assert.Equal(t, 896, img.Bounds().Dy())
	assert.Equal(t, 298, img.Bounds().Dx())
}

func TestEncodeImageFileMissingFile(t *testing.T) {
	_, err := EncodeImageFile(filepath.Join(t.TempDir(), "nope.png"), 896, 85)
	assert.Error(t, err)
}

func TestEncodeImageFileNotAnImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0644))

	_, err := EncodeImageFile(path, 896, 85)
	assert.Error(t, err)
}
