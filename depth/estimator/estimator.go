// Package estimator 深度图来源：把一张彩色图估计成深度图
//
// 模型实例由 Handle 显式持有，第一次调用时才初始化，Close 时释放。
package estimator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chaos-io/depth2mesh/depth"
)

const (
	BackendLuminance = "luminance"
	BackendRemote    = "remote"
	BackendONNX      = "onnx"
)

var ErrClosed = errors.New("estimator: handle closed")

// Estimator 把彩色图估计为深度图（亮 = 近）
type Estimator interface {
	Estimate(ctx context.Context, img image.Image) (image.Image, error)
}

// Closer 需要释放资源的后端实现它
type Closer interface {
	Close() error
}

// Factory 延迟构造后端
type Factory func(ctx context.Context) (Estimator, error)

// Options 后端配置
type Options struct {
	Backend string

	// luminance
	DetailLevel float64
	Invert      bool

	// remote
	RemoteURL string

	// onnx
	ModelPath            string
	ORTSharedLibraryPath string
	InputSize            int

	// 结果缓存条数，<=0 不缓存
	CacheSize int
}

// NewFactory 根据配置选择后端
func NewFactory(opts Options) (Factory, error) {
	switch opts.Backend {
	case "", BackendLuminance:
		return func(ctx context.Context) (Estimator, error) {
			return NewLuminance(opts.DetailLevel, opts.Invert), nil
		}, nil
	case BackendRemote:
		if opts.RemoteURL == "" {
			return nil, fmt.Errorf("estimator: remote backend requires a url")
		}
		return func(ctx context.Context) (Estimator, error) {
			return NewRemote(opts.RemoteURL), nil
		}, nil
	case BackendONNX:
		if opts.ModelPath == "" {
			return nil, fmt.Errorf("estimator: onnx backend requires a model path")
		}
		return func(ctx context.Context) (Estimator, error) {
			est, err := NewONNX(opts.ModelPath, opts.ORTSharedLibraryPath, opts.InputSize)
			if err != nil {
				return nil, err
			}
			return est, nil
		}, nil
	default:
		return nil, fmt.Errorf("estimator: unknown backend %q", opts.Backend)
	}
}

// Handle 持有一个懒加载的模型实例和它的结果缓存
type Handle struct {
	mu      sync.Mutex
	factory Factory
	est     Estimator
	closed  bool
	cache   *lru.Cache[string, image.Image]
}

// NewHandle cacheSize<=0 时不缓存结果
func NewHandle(factory Factory, cacheSize int) *Handle {
	h := &Handle{factory: factory}
	if cacheSize > 0 {
		h.cache, _ = lru.New[string, image.Image](cacheSize)
	}
	return h
}

// get 第一次调用时初始化后端，之后复用
func (h *Handle) get(ctx context.Context) (Estimator, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if h.est != nil {
		return h.est, nil
	}

	est, err := h.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("init estimator: %w", err)
	}
	slog.Debug("depth estimator initialized", "type", fmt.Sprintf("%T", est))
	h.est = est
	return est, nil
}

// Estimate 同一张图只估计一次
func (h *Handle) Estimate(ctx context.Context, img image.Image) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: source image is empty", depth.ErrDecode)
	}

	est, err := h.get(ctx)
	if err != nil {
		return nil, err
	}

	var key string
	if h.cache != nil {
		key = depth.NewPixelBuffer(img).Digest()
		if out, ok := h.cache.Get(key); ok {
			return out, nil
		}
	}

	out, err := est.Estimate(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("estimate depth: %w", err)
	}
	if out == nil || out.Bounds().Empty() {
		return nil, fmt.Errorf("%w: estimator returned an empty depth map", depth.ErrDecode)
	}

	if h.cache != nil {
		h.cache.Add(key, out)
	}
	return out, nil
}

// Initialized 后端是否已经构造
func (h *Handle) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.est != nil
}

// Close 释放后端，之后的调用返回 ErrClosed
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if h.cache != nil {
		h.cache.Purge()
	}

	est := h.est
	h.est = nil
	if c, ok := est.(Closer); ok {
		return c.Close()
	}
	return nil
}
