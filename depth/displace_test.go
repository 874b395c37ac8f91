package depth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegments(t *testing.T) {
	assert.Equal(t, 2, Segments(2, 2))
	assert.Equal(t, 300, Segments(300, 120))
	assert.Equal(t, MaxSegments, Segments(4000, 3000))
	assert.Equal(t, MaxSegments, Segments(512, 10))
}

func TestDisplacement(t *testing.T) {
	assert.Equal(t, 0.0, Displacement(255, 0, 10))
	assert.InDelta(t, 3.0, Displacement(255, 1, 1), 1e-9)
	assert.InDelta(t, 1.5*1.5, Displacement(127.5, 255, 1.5), 1e-9)
	assert.Equal(t, 0.0, Displacement(0, 255, 2))
}

func TestSampleIndex(t *testing.T) {
	// v=1 是图像第 0 行
	assert.Equal(t, 0, SampleIndex(0, 1, 4, 3))
	assert.Equal(t, 3, SampleIndex(1, 1, 4, 3))
	assert.Equal(t, 8, SampleIndex(0, 0, 4, 3))
	assert.Equal(t, 11, SampleIndex(1, 0, 4, 3))
}

func TestBuildDisplacedMesh_TransparentStaysFlat(t *testing.T) {
	colorBuf := colorBuffer(2, 2, 0)
	depthBuf := grayBuffer(2, 2, 0, 85, 170, 255)

	m, err := BuildDisplacedMesh(colorBuf, depthBuf, 5)
	require.NoError(t, err)
	require.Equal(t, 9, m.VertexCount())

	for i, d := range m.Displacements {
		assert.Equal(t, float32(0), d, "vertex %d", i)
		assert.Equal(t, float32(0), m.Positions[i][2], "vertex %d", i)
	}

	// 遮罩全黑且不透明
	for i := 0; i < 4; i++ {
		assert.Equal(t, []uint8{0, 0, 0, 255}, m.AlphaMask.Pix[i*4:i*4+4])
	}
}

func TestBuildDisplacedMesh_DisplacementMatchesDepth(t *testing.T) {
	const w, h = 7, 5
	colorBuf := colorBuffer(w, h, 255)
	// 左半透明
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			colorBuf.Pix[(y*w+x)*4+3] = 0
		}
	}
	values := make([]uint8, w*h)
	for i := range values {
		values[i] = uint8(i * 7)
	}
	depthBuf := grayBuffer(w, h, values...)
	// 通道不一致时取平均
	depthBuf.Pix[0], depthBuf.Pix[1], depthBuf.Pix[2] = 30, 60, 90

	const scale = 1.25
	m, err := BuildDisplacedMesh(colorBuf, depthBuf, scale)
	require.NoError(t, err)

	segs := Segments(w, h)
	require.Equal(t, segs, m.Segments)
	require.Equal(t, (segs+1)*(segs+1), m.VertexCount())
	require.Len(t, m.Normals, m.VertexCount())
	require.Len(t, m.UVs, m.VertexCount())
	require.Len(t, m.Indices, segs*segs*6)

	for k, uv := range m.UVs {
		i := SampleIndex(float64(uv[0]), float64(uv[1]), w, h)
		alpha := colorBuf.AlphaAt(i)
		want := Displacement(depthBuf.DepthAt(i), alpha, scale)
		assert.InDelta(t, want, m.Displacements[k], 1e-5, "vertex %d", k)
		if alpha == 0 {
			assert.Equal(t, float32(0), m.Displacements[k])
		}
	}
}

func TestBuildDisplacedMesh_Geometry(t *testing.T) {
	m, err := BuildDisplacedMesh(colorBuffer(4, 2, 255), grayBuffer(4, 2), 1)
	require.NoError(t, err)

	assert.InDelta(t, 10.0, m.PlaneWidth, 1e-9)
	assert.InDelta(t, 5.0, m.PlaneHeight, 1e-9)

	// 第一个顶点在左上角，最后一个在右下角
	first, last := m.Positions[0], m.Positions[len(m.Positions)-1]
	assert.InDelta(t, -5, first[0], 1e-6)
	assert.InDelta(t, 2.5, first[1], 1e-6)
	assert.InDelta(t, 5, last[0], 1e-6)
	assert.InDelta(t, -2.5, last[1], 1e-6)
	assert.Equal(t, [2]float32{0, 1}, m.UVs[0])
	assert.Equal(t, [2]float32{1, 0}, m.UVs[len(m.UVs)-1])

	// 平面上的法线都朝 +Z
	for i, n := range m.Normals {
		assert.InDelta(t, 0, n[0], 1e-6, "vertex %d", i)
		assert.InDelta(t, 0, n[1], 1e-6, "vertex %d", i)
		assert.InDelta(t, 1, n[2], 1e-6, "vertex %d", i)
	}
}

func TestBuildDisplacedMesh_Deterministic(t *testing.T) {
	colorBuf := colorBuffer(9, 6, 200)
	values := make([]uint8, 9*6)
	for i := range values {
		values[i] = uint8(i * 4)
	}
	depthBuf := grayBuffer(9, 6, values...)

	a, err := BuildDisplacedMesh(colorBuf, depthBuf, 2)
	require.NoError(t, err)
	b, err := BuildDisplacedMesh(colorBuf, depthBuf, 2)
	require.NoError(t, err)

	assert.Equal(t, a.Positions, b.Positions)
	assert.Equal(t, a.Normals, b.Normals)
	assert.Equal(t, a.Indices, b.Indices)
	assert.Equal(t, a.AlphaMask.Pix, b.AlphaMask.Pix)
}

func TestBuildDisplacedMesh_Invalid(t *testing.T) {
	_, err := BuildDisplacedMesh(colorBuffer(2, 2, 255), grayBuffer(2, 3), 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = BuildDisplacedMesh(colorBuffer(2, 2, 255), grayBuffer(2, 2), -0.5)
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestAlphaMask(t *testing.T) {
	buf := NewEmptyBuffer(3, 1)
	copy(buf.Pix, []uint8{
		9, 9, 9, 0,
		9, 9, 9, 128,
		9, 9, 9, 255,
	})
	mask := alphaMask(buf)
	assert.Equal(t, []uint8{
		0, 0, 0, 255,
		128, 128, 128, 255,
		255, 255, 255, 255,
	}, mask.Pix)
}

func TestBuildDisplacedMesh_LargeImageCapsSegments(t *testing.T) {
	const w, h = 800, 400
	m, err := BuildDisplacedMesh(colorBuffer(w, h, 255), grayBuffer(w, h), 1)
	require.NoError(t, err)

	assert.Equal(t, 512, m.Segments)
	assert.InDelta(t, 10.0, m.PlaneWidth, 1e-9)
	assert.InDelta(t, 5.0, m.PlaneHeight, 1e-9)
	assert.Equal(t, 513*513, m.VertexCount())
	assert.Len(t, m.Indices, 512*512*6)
}
