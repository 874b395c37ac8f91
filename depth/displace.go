package depth

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
)

const (
	// MaxSegments 网格细分上限
	MaxSegments = 512
	// DisplacementGain 经验增益，固定不可调
	DisplacementGain = 3.0
)

// DisplacedMesh 平滑模式：一张按深度沿法线位移的细分网格
type DisplacedMesh struct {
	Segments    int
	PlaneWidth  float64
	PlaneHeight float64

	Positions     [][3]float32
	Normals       [][3]float32
	UVs           [][2]float32
	Indices       []uint32
	Displacements []float32

	Color     *PixelBuffer
	AlphaMask *PixelBuffer
}

// VertexCount (segments+1)^2
func (m *DisplacedMesh) VertexCount() int {
	return len(m.Positions)
}

// Segments min(max(w,h), 512)
func Segments(width, height int) int {
	return min(max(width, height), MaxSegments)
}

// Displacement 单个采样点的位移量，透明像素严格为 0
func Displacement(depth float64, alpha uint8, displacementScale float64) float64 {
	if alpha == 0 {
		return 0
	}
	return depth / 255 * displacementScale * DisplacementGain
}

// SampleIndex UV 对应的像素下标；图像第 0 行在上，UV 原点在左下，所以 v 要翻转
func SampleIndex(u, v float64, width, height int) int {
	x := int(math.Floor(u * float64(width-1)))
	y := int(math.Floor((1 - v) * float64(height-1)))
	return y*width + x
}

// BuildDisplacedMesh 生成平滑模式网格和 alpha 遮罩
func BuildDisplacedMesh(colorBuf, depthBuf *PixelBuffer, displacementScale float64) (*DisplacedMesh, error) {
	if err := checkPair(colorBuf, depthBuf); err != nil {
		return nil, err
	}
	if displacementScale < 0 || math.IsNaN(displacementScale) || math.IsInf(displacementScale, 0) {
		return nil, fmt.Errorf("%w: displacement scale %v", ErrInvalidParam, displacementScale)
	}

	w, h := colorBuf.Width, colorBuf.Height
	segs := Segments(w, h)
	planeW, planeH := PlaneSize(w, h)

	m := &DisplacedMesh{
		Segments:    segs,
		PlaneWidth:  planeW,
		PlaneHeight: planeH,
		Color:       colorBuf,
		AlphaMask:   alphaMask(colorBuf),
	}

	grid := segs + 1
	n := grid * grid
	m.Positions = make([][3]float32, n)
	m.UVs = make([][2]float32, n)
	m.Displacements = make([]float32, n)

	segW := planeW / float64(segs)
	segH := planeH / float64(segs)
	for iy := 0; iy < grid; iy++ {
		y := planeH/2 - float64(iy)*segH
		v := 1 - float64(iy)/float64(segs)
		for ix := 0; ix < grid; ix++ {
			x := float64(ix)*segW - planeW/2
			u := float64(ix) / float64(segs)

			i := SampleIndex(u, v, w, h)
			d := Displacement(depthBuf.DepthAt(i), colorBuf.AlphaAt(i), displacementScale)

			k := iy*grid + ix
			m.Positions[k] = [3]float32{float32(x), float32(y), float32(d)}
			m.UVs[k] = [2]float32{float32(u), float32(v)}
			m.Displacements[k] = float32(d)
		}
	}

	m.Indices = gridIndices(segs)
	m.Normals = vertexNormals(m.Positions, m.Indices)
	return m, nil
}

// gridIndices 每个格子两个三角形 (a,b,d) (b,c,d)
func gridIndices(segs int) []uint32 {
	grid := uint32(segs + 1)
	idx := make([]uint32, 0, segs*segs*6)
	for iy := uint32(0); iy < uint32(segs); iy++ {
		for ix := uint32(0); ix < uint32(segs); ix++ {
			a := ix + grid*iy
			b := ix + grid*(iy+1)
			c := ix + 1 + grid*(iy+1)
			d := ix + 1 + grid*iy
			idx = append(idx, a, b, d, b, c, d)
		}
	}
	return idx
}

// vertexNormals 按面法线（未归一化，即面积加权）累加后归一化
func vertexNormals(pos [][3]float32, idx []uint32) [][3]float32 {
	normals := make([][3]float32, len(pos))
	for t := 0; t+2 < len(idx); t += 3 {
		ia, ib, ic := idx[t], idx[t+1], idx[t+2]
		pa, pb, pc := pos[ia], pos[ib], pos[ic]

		cb := [3]float32{pc[0] - pb[0], pc[1] - pb[1], pc[2] - pb[2]}
		ab := [3]float32{pa[0] - pb[0], pa[1] - pb[1], pa[2] - pb[2]}
		n := cross(cb, ab)

		for _, v := range [3]uint32{ia, ib, ic} {
			normals[v][0] += n[0]
			normals[v][1] += n[1]
			normals[v][2] += n[2]
		}
	}

	for i := range normals {
		normals[i] = normalize(normals[i])
	}
	return normals
}

func cross(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v [3]float32) [3]float32 {
	l := math32.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if l == 0 {
		return [3]float32{0, 0, 1}
	}
	return [3]float32{v[0] / l, v[1] / l, v[2] / l}
}

// alphaMask alpha 复制到 RGB，A 固定 255
func alphaMask(colorBuf *PixelBuffer) *PixelBuffer {
	mask := NewEmptyBuffer(colorBuf.Width, colorBuf.Height)
	for i := 3; i < len(colorBuf.Pix); i += 4 {
		a := colorBuf.Pix[i]
		mask.Pix[i-3] = a
		mask.Pix[i-2] = a
		mask.Pix[i-1] = a
		mask.Pix[i] = 255
	}
	return mask
}
