package onnx

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/platewatch/internal/mempool"
)

// Tensor is a float32 model input in row-major order, NCHW for images.
type Tensor struct {
	Data  []float32
	Shape []int64 // e.g., [N, C, H, W]

	pooled bool
}

// Output is a copied model output. It owns its data.
type Output struct {
	Data  []float32
	Shape []int64
}

// NewImageTensor wraps data as a single-image tensor with shape [1, C, H, W].
func NewImageTensor(data []float32, c, h, w int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	expected := c * h * w
	if len(data) != expected {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), expected)
	}
	return Tensor{Data: data, Shape: []int64{1, int64(c), int64(h), int64(w)}}, nil
}

// NewPooledImageTensor allocates a [1, C, H, W] tensor from the buffer pool.
// The caller must call Release once the tensor has been consumed.
func NewPooledImageTensor(c, h, w int) (Tensor, error) {
	if c <= 0 || h <= 0 || w <= 0 {
		return Tensor{}, fmt.Errorf("invalid tensor dimensions %dx%dx%d", c, h, w)
	}
	return Tensor{
		Data:   mempool.GetFloat32(c * h * w),
		Shape:  []int64{1, int64(c), int64(h), int64(w)},
		pooled: true,
	}, nil
}

// Release hands pooled data back. It is a no-op for caller-owned tensors.
func (t *Tensor) Release() {
	if t.pooled && t.Data != nil {
		mempool.PutFloat32(t.Data)
	}
	t.Data = nil
	t.pooled = false
}

// ValidateNCHW ensures a shape is [N, C, H, W] with positive dimensions.
func ValidateNCHW(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// VerifyImageTensor checks data length matches the NCHW shape.
func VerifyImageTensor(t Tensor) error {
	if err := ValidateNCHW(t.Shape); err != nil {
		return err
	}
	expected := int(t.Shape[0] * t.Shape[1] * t.Shape[2] * t.Shape[3])
	if len(t.Data) != expected {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), expected, t.Shape)
	}
	return nil
}

// TensorStats returns min, max and mean for debug logging.
func TensorStats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}

// ShapeVolume multiplies all dimensions. Non-positive dimensions yield -1.
func ShapeVolume(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return -1
		}
		n *= int(d)
	}
	return n
}
