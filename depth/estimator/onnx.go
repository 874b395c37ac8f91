//go:build cgo
// +build cgo

package estimator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"
)

const (
	// Depth Anything 导出的默认张量名
	onnxInputName    = "pixel_values"
	onnxOutputName   = "predicted_depth"
	defaultInputSize = 518
)

var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// ONNX 本地运行 Depth Anything 一类的单目深度模型
// 输入 [1,3,S,S] NCHW，输出 [1,S,S] 相对逆深度（越大越近）
type ONNX struct {
	mu      sync.Mutex
	size    int
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func NewONNX(modelPath, sharedLibraryPath string, inputSize int) (*ONNX, error) {
	if inputSize <= 0 {
		inputSize = defaultInputSize
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	} else if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
		ort.SetSharedLibraryPath(p)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("init onnxruntime: %w", err)
		}
	}

	s := int64(inputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, s, s))
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, s, s))
	if err != nil {
		_ = input.Destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{onnxInputName}, []string{onnxOutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return nil, fmt.Errorf("new session: %w", err)
	}

	return &ONNX{size: inputSize, session: session, input: input, output: output}, nil
}

func (o *ONNX) Estimate(ctx context.Context, img image.Image) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil, ErrClosed
	}

	b := img.Bounds()
	src := resize.Resize(uint(o.size), uint(o.size), img, resize.Bicubic)
	fillNCHW(o.input.GetData(), src, o.size)

	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	pred := toGray(o.output.GetData(), o.size)

	// 缩回原图尺寸
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.CatmullRom.Scale(out, out.Bounds(), pred, pred.Bounds(), draw.Src, nil)
	return out, nil
}

// fillNCHW RGB 归一化后按通道平铺
func fillNCHW(data []float32, img image.Image, size int) {
	plane := size * size
	b := img.Bounds()
	idx := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			data[idx] = (float32(c.R)/255 - imagenetMean[0]) / imagenetStd[0]
			data[plane+idx] = (float32(c.G)/255 - imagenetMean[1]) / imagenetStd[1]
			data[2*plane+idx] = (float32(c.B)/255 - imagenetMean[2]) / imagenetStd[2]
			idx++
		}
	}
}

// toGray 线性拉伸到 0..255
func toGray(pred []float32, size int) *image.Gray {
	lo, hi := pred[0], pred[0]
	for _, v := range pred {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo
	out := image.NewGray(image.Rect(0, 0, size, size))
	for i, v := range pred {
		if span > 0 {
			out.Pix[i] = uint8((v-lo)/span*255 + 0.5)
		}
	}
	return out
}

func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}

	err := errors.Join(o.session.Destroy(), o.input.Destroy(), o.output.Destroy())
	o.session, o.input, o.output = nil, nil, nil
	return errors.Join(err, ort.DestroyEnvironment())
}
