package depth

import (
	"fmt"
	"math"
)

const (
	// ReferenceHeight 平面固定高度，宽度按彩色图宽高比计算
	ReferenceHeight = 5.0
	// MinLayerCount 视差模式最少层数
	MinLayerCount = 2
)

// Layer 一个深度区间对应的镂空贴图
type Layer struct {
	Index    int
	Texture  *PixelBuffer
	ZOffset  float64
	MinDepth float64
	MaxDepth float64
}

// LayerStack 按深度区间顺序排列的平面层，下标 0 对应最小深度值
type LayerStack struct {
	Layers      []Layer
	PlaneWidth  float64
	PlaneHeight float64
}

// PlaneSize 保持宽高比：高固定为 ReferenceHeight
func PlaneSize(width, height int) (float64, float64) {
	aspect := float64(width) / float64(height)
	return ReferenceHeight * aspect, ReferenceHeight
}

// LayerIndex 深度值落在哪个区间 [L/N*255, (L+1)/N*255)
// 用 R+G+B 的整数运算避免浮点边界误差；255 归入最后一层
func LayerIndex(sum, layerCount int) int {
	idx := sum * layerCount / 765
	if idx >= layerCount {
		idx = layerCount - 1
	}
	return idx
}

// DecomposeLayers 把深度缓冲切成 layerCount 层镂空贴图
func DecomposeLayers(colorBuf, depthBuf *PixelBuffer, layerCount int, displacementScale float64) (*LayerStack, error) {
	if err := checkPair(colorBuf, depthBuf); err != nil {
		return nil, err
	}
	if layerCount < MinLayerCount {
		return nil, fmt.Errorf("%w: layer count %d < %d", ErrInvalidParam, layerCount, MinLayerCount)
	}
	if displacementScale < 0 || math.IsNaN(displacementScale) || math.IsInf(displacementScale, 0) {
		return nil, fmt.Errorf("%w: displacement scale %v", ErrInvalidParam, displacementScale)
	}

	w, h := colorBuf.Width, colorBuf.Height
	stack := &LayerStack{Layers: make([]Layer, layerCount)}
	stack.PlaneWidth, stack.PlaneHeight = PlaneSize(w, h)

	n := float64(layerCount)
	for l := range stack.Layers {
		minDepth := float64(l) / n * 255
		maxDepth := float64(l+1) / n * 255
		stack.Layers[l] = Layer{
			Index:    l,
			Texture:  NewEmptyBuffer(w, h),
			ZOffset:  (minDepth + maxDepth) / 2 / 255 * displacementScale,
			MinDepth: minDepth,
			MaxDepth: maxDepth,
		}
	}

	// 单次扫描，每个像素只写入所属的一层，其余层保持 (0,0,0,0)
	for i := 0; i < w*h; i++ {
		l := LayerIndex(depthBuf.depthSum(i), layerCount)
		dst := stack.Layers[l].Texture.Pix
		o := i * 4
		dst[o] = colorBuf.Pix[o]
		dst[o+1] = colorBuf.Pix[o+1]
		dst[o+2] = colorBuf.Pix[o+2]
		dst[o+3] = 255
	}

	return stack, nil
}
