package imgsrc

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MeKo-Tech/platewatch/internal/errdefs"
)

// SupportedImageExtensions lists file extensions accepted by LoadImageFile.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// IsSupportedImage reports whether path has a supported image extension.
func IsSupportedImage(path string) bool {
	return slices.Contains(SupportedImageExtensions, strings.ToLower(filepath.Ext(path)))
}

// ImageMetadata captures file and pixel information for a loaded frame.
type ImageMetadata struct {
	Path      string `json:"path"`
	Format    string `json:"format"`
	SizeBytes int64  `json:"size_bytes"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// LoadImageFile reads and decodes an image file.
func LoadImageFile(path string) (image.Image, ImageMetadata, error) {
	if path == "" {
		return nil, ImageMetadata{}, errdefs.Preprocess("load", errors.New("empty path"))
	}
	if !IsSupportedImage(path) {
		return nil, ImageMetadata{}, errdefs.Preprocess("load", fmt.Errorf("unsupported format: %s", filepath.Ext(path)))
	}

	f, err := os.Open(path) //nolint:gosec // G304: reading a user-provided frame path is expected
	if err != nil {
		return nil, ImageMetadata{}, errdefs.Preprocess("load", err)
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return nil, ImageMetadata{}, errdefs.Preprocess("load", err)
	}

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, ImageMetadata{}, errdefs.Preprocess("decode", err)
	}

	b := img.Bounds()
	return img, ImageMetadata{
		Path:      path,
		Format:    format,
		SizeBytes: fi.Size(),
		Width:     b.Dx(),
		Height:    b.Dy(),
	}, nil
}

// ReadImageFile reads a supported image file into memory without decoding,
// for backends that decode natively.
func ReadImageFile(path string) ([]byte, error) {
	if !IsSupportedImage(path) {
		return nil, errdefs.Preprocess("load", fmt.Errorf("unsupported format: %s", filepath.Ext(path)))
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: reading a user-provided frame path is expected
	if err != nil {
		return nil, errdefs.Preprocess("load", err)
	}
	return data, nil
}
