//go:build !cgo
// +build !cgo

package estimator

import (
	"context"
	"errors"
	"image"
)

// ErrCGORequired 没有 CGO 时无法加载 onnxruntime
var ErrCGORequired = errors.New("onnx estimator requires CGO support; rebuild with CGO_ENABLED=1")

type ONNX struct{}

func NewONNX(modelPath, sharedLibraryPath string, inputSize int) (*ONNX, error) {
	return nil, ErrCGORequired
}

func (o *ONNX) Estimate(ctx context.Context, img image.Image) (image.Image, error) {
	return nil, ErrCGORequired
}

func (o *ONNX) Close() error {
	return nil
}
