package testutil

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePlateScene(t *testing.T) {
	config := DefaultSceneConfig()

	img, err := GeneratePlateScene(config)
	require.NoError(t, err)
	assert.Equal(t, MediumSize.Width, img.Bounds().Dx())
	assert.Equal(t, MediumSize.Height, img.Bounds().Dy())

	// Plate corner is plate-coloured, outside is background.
	box := config.Plates[0].Box
	assert.Equal(t, color.RGBAModel.Convert(config.PlateColor), img.At(box.Min.X, box.Min.Y))
	assert.Equal(t, config.Background, img.At(box.Min.X-1, box.Min.Y))
}

func TestGeneratePlateScene_Errors(t *testing.T) {
	config := DefaultSceneConfig()
	config.Plates = []PlateSpec{{Text: "X", Box: image.Rect(600, 400, 700, 500)}}
	_, err := GeneratePlateScene(config)
	require.Error(t, err)

	config.Size = ImageSize{}
	_, err = GeneratePlateScene(config)
	require.Error(t, err)
}

func TestGeneratePlateScene_Rotated(t *testing.T) {
	config := DefaultSceneConfig()
	config.Rotation = 5

	img, err := GeneratePlateScene(config)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, img.Bounds().Dx(), MediumSize.Width)
}

func TestSaveAndLoadImage(t *testing.T) {
	img := CreateTestImage(20, 10, color.RGBA{10, 20, 30, 255})
	path := filepath.Join(t.TempDir(), "nested", "img.png")

	SaveImage(t, img, path)
	loaded := LoadImage(t, path)
	assert.True(t, CompareImages(img, loaded, 0.001))
}

func TestCompareImages(t *testing.T) {
	a := CreateTestImage(10, 10, color.White)
	b := CreateTestImage(10, 10, color.Black)
	c := CreateTestImage(12, 10, color.White)

	assert.True(t, CompareImages(a, a, 0))
	assert.False(t, CompareImages(a, b, 0.1))
	assert.False(t, CompareImages(a, c, 1))
}

func TestWriteFrameSequence(t *testing.T) {
	dir := t.TempDir()
	paths := WriteFrameSequence(t, dir, 3, ImageSize{8, 6})
	require.Len(t, paths, 3)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
	assert.NotEmpty(t, EncodePNG(t, CreateTestImage(2, 2, color.White)))
}
