package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents common frame dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common test frame sizes.
	SmallSize  = ImageSize{320, 240}
	MediumSize = ImageSize{640, 480}
	HDSize     = ImageSize{1280, 720}
)

// PlateSpec places one plate in a synthetic scene.
type PlateSpec struct {
	Text string
	Box  image.Rectangle
}

// SceneConfig holds configuration for generating synthetic road scenes.
type SceneConfig struct {
	Size       ImageSize
	Background color.Color
	PlateColor color.Color
	TextColor  color.Color
	FontFace   font.Face
	Rotation   float64 // rotation of the whole frame in degrees
	Plates     []PlateSpec
}

// DefaultSceneConfig returns a medium frame with one centred plate.
func DefaultSceneConfig() SceneConfig {
	return SceneConfig{
		Size:       MediumSize,
		Background: color.RGBA{70, 80, 90, 255},
		PlateColor: color.White,
		TextColor:  color.Black,
		FontFace:   basicfont.Face7x13,
		Plates: []PlateSpec{
			{Text: "AB12 9", Box: image.Rect(250, 300, 390, 335)},
		},
	}
}

// GeneratePlateScene draws plates with their text onto a flat background.
func GeneratePlateScene(config SceneConfig) (*image.RGBA, error) {
	if config.Size.Width <= 0 || config.Size.Height <= 0 {
		return nil, fmt.Errorf("invalid scene size %dx%d", config.Size.Width, config.Size.Height)
	}
	img := image.NewRGBA(image.Rect(0, 0, config.Size.Width, config.Size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{config.Background}, image.Point{}, draw.Src)

	face := config.FontFace
	if face == nil {
		face = basicfont.Face7x13
	}
	drawer := &font.Drawer{Dst: img, Src: &image.Uniform{config.TextColor}, Face: face}

	for _, p := range config.Plates {
		if p.Box.Empty() || !p.Box.In(img.Bounds()) {
			return nil, fmt.Errorf("plate %q box %v outside frame", p.Text, p.Box)
		}
		draw.Draw(img, p.Box, &image.Uniform{config.PlateColor}, image.Point{}, draw.Src)

		textWidth := font.MeasureString(face, p.Text).Ceil()
		textHeight := face.Metrics().Ascent.Ceil()
		x := p.Box.Min.X + (p.Box.Dx()-textWidth)/2
		y := p.Box.Min.Y + (p.Box.Dy()+textHeight)/2
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(p.Text)
	}

	if config.Rotation != 0 {
		rotated := imaging.Rotate(img, config.Rotation, config.Background)
		rgba := image.NewRGBA(rotated.Bounds())
		draw.Draw(rgba, rgba.Bounds(), rotated, rotated.Bounds().Min, draw.Src)
		return rgba, nil
	}

	return img, nil
}

// SaveImage saves an image to the specified path.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	dir := filepath.Dir(path)
	require.NoError(t, EnsureDir(dir), "Failed to create directory %s", dir)

	file, err := os.Create(path) //nolint:gosec // G304: Test file creation with controlled path
	require.NoError(t, err, "Failed to create file %s", path)
	defer func() {
		require.NoError(t, file.Close())
	}()

	require.NoError(t, png.Encode(file, img), "Failed to encode PNG image")
}

// LoadImage loads an image from the specified path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec // G304: Test file reading with controlled path
	require.NoError(t, err, "Failed to open image file %s", path)
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err, "Failed to decode image")

	return img
}

// EncodePNG returns img as PNG bytes.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// WriteFrameSequence writes n numbered PNG frames into dir and returns their paths.
func WriteFrameSequence(t *testing.T, dir string, n int, size ImageSize) []string {
	t.Helper()
	paths := make([]string, 0, n)
	for i := range n {
		shade := uint8(40 + (i*20)%200)
		img := CreateTestImage(size.Width, size.Height, color.RGBA{shade, shade, shade, 255})
		path := filepath.Join(dir, fmt.Sprintf("frame_%04d.png", i))
		SaveImage(t, img, path)
		paths = append(paths, path)
	}
	return paths
}

// CompareImages compares two images and returns true if they are similar.
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	bounds1 := img1.Bounds()
	bounds2 := img2.Bounds()

	if bounds1 != bounds2 {
		return false
	}

	var totalDiff float64
	var pixelCount float64

	for y := bounds1.Min.Y; y < bounds1.Max.Y; y++ {
		for x := bounds1.Min.X; x < bounds1.Max.X; x++ {
			r1, g1, b1, a1 := img1.At(x, y).RGBA()
			r2, g2, b2, a2 := img2.At(x, y).RGBA()

			dr := float64(r1) - float64(r2)
			dg := float64(g1) - float64(g2)
			db := float64(b1) - float64(b2)
			da := float64(a1) - float64(a2)

			totalDiff += math.Sqrt(dr*dr + dg*dg + db*db + da*da)
			pixelCount++
		}
	}

	avgDiff := totalDiff / pixelCount
	maxDiff := math.Sqrt(4 * 65535 * 65535)

	return (avgDiff / maxDiff) <= tolerance
}

// CreateTestImage creates a simple test image with the specified dimensions and color.
func CreateTestImage(width, height int, backgroundColor color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)
	return img
}
