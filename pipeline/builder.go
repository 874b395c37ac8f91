// Package pipeline 参数或输入变化时整体重建，结果按输入身份和参数做缓存
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chaos-io/depth2mesh/depth"
)

// Input 对齐后的彩色和深度缓冲，连同它们的内容摘要
type Input struct {
	Color   *depth.PixelBuffer
	Depth   *depth.PixelBuffer
	ColorID string
	DepthID string
}

// NewInput 解码后的两张图 -> 同尺寸缓冲
func NewInput(colorImg, depthImg image.Image) (*Input, error) {
	colorBuf, depthBuf, err := depth.Extract(colorImg, depthImg)
	if err != nil {
		return nil, err
	}
	return &Input{
		Color:   colorBuf,
		Depth:   depthBuf,
		ColorID: colorBuf.Digest(),
		DepthID: depthBuf.Digest(),
	}, nil
}

// Key 缓存键；平滑模式不使用层数，不参与键
type Key struct {
	ColorID           string
	DepthID           string
	Mode              Mode
	DisplacementScale float64
	LayerCount        int
}

func NewKey(in *Input, p Params) Key {
	k := Key{
		ColorID:           in.ColorID,
		DepthID:           in.DepthID,
		Mode:              p.Mode,
		DisplacementScale: p.DisplacementScale,
	}
	if p.Mode == ModeParallax {
		k.LayerCount = p.LayerCount
	}
	return k
}

// Result 一次合成的产物，构造完成后只读
type Result struct {
	Key    Key
	Params Params
	Mesh   *depth.DisplacedMesh
	Layers *depth.LayerStack
}

type Builder struct {
	cache *lru.Cache[Key, *Result]
}

// NewBuilder cacheSize<=0 时不缓存
func NewBuilder(cacheSize int) *Builder {
	b := &Builder{}
	if cacheSize > 0 {
		b.cache, _ = lru.New[Key, *Result](cacheSize)
	}
	return b
}

func (b *Builder) Build(ctx context.Context, in *Input, p Params) (*Result, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: no input", depth.ErrDecode)
	}
	if p.Mode == "" {
		p.Mode = ModeSmooth
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := NewKey(in, p)
	if b.cache != nil {
		if r, ok := b.cache.Get(key); ok {
			slog.Debug("synthesis cache hit", "mode", p.Mode, "scale", p.DisplacementScale, "layers", key.LayerCount)
			// 网格和图层共享，参数用本次调用的
			hit := *r
			hit.Params = p
			return &hit, nil
		}
	}

	start := time.Now()
	r := &Result{Key: key, Params: p}
	switch p.Mode {
	case ModeParallax:
		stack, err := depth.DecomposeLayers(in.Color, in.Depth, p.LayerCount, p.DisplacementScale)
		if err != nil {
			return nil, err
		}
		r.Layers = stack
	default:
		mesh, err := depth.BuildDisplacedMesh(in.Color, in.Depth, p.DisplacementScale)
		if err != nil {
			return nil, err
		}
		r.Mesh = mesh
	}
	slog.Debug("synthesis done", "mode", p.Mode, "width", in.Color.Width, "height", in.Color.Height,
		"cost", time.Since(start))

	if b.cache != nil {
		b.cache.Add(key, r)
	}
	return r, nil
}

// Len 缓存中的条数
func (b *Builder) Len() int {
	if b.cache == nil {
		return 0
	}
	return b.cache.Len()
}
