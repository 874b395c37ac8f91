package stl

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/depth2mesh/depth"
)

func testMesh(t *testing.T, w, h int) *depth.DisplacedMesh {
	t.Helper()
	colorBuf := depth.NewEmptyBuffer(w, h)
	depthBuf := depth.NewEmptyBuffer(w, h)
	for i := 0; i < w*h; i++ {
		colorBuf.Pix[i*4+3] = 255
		v := uint8(i * 20)
		depthBuf.Pix[i*4], depthBuf.Pix[i*4+1], depthBuf.Pix[i*4+2] = v, v, v
	}
	m, err := depth.BuildDisplacedMesh(colorBuf, depthBuf, 1)
	require.NoError(t, err)
	return m
}

type facet struct {
	normal [3]float64
	verts  [][3]float64
}

func parse(t *testing.T, data []byte) []facet {
	t.Helper()
	var (
		out []facet
		cur *facet
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "facet normal"):
			f := facet{}
			_, err := fmt.Sscanf(line, "facet normal %f %f %f", &f.normal[0], &f.normal[1], &f.normal[2])
			require.NoError(t, err)
			out = append(out, f)
			cur = &out[len(out)-1]
		case strings.HasPrefix(line, "vertex"):
			var v [3]float64
			_, err := fmt.Sscanf(line, "vertex %f %f %f", &v[0], &v[1], &v[2])
			require.NoError(t, err)
			cur.verts = append(cur.verts, v)
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func TestWrite_TopSurface(t *testing.T) {
	m := testMesh(t, 3, 3)

	buf := &bytes.Buffer{}
	require.NoError(t, Write(buf, m, 0))

	text := buf.String()
	assert.True(t, strings.HasPrefix(text, "solid relief_model\n"))
	assert.True(t, strings.HasSuffix(text, "endsolid relief_model\n"))

	facets := parse(t, buf.Bytes())
	assert.Len(t, facets, len(m.Indices)/3)
	for _, f := range facets {
		assert.Len(t, f.verts, 3)
	}
}

func TestWrite_WithBase(t *testing.T) {
	m := testMesh(t, 4, 4)
	segs := m.Segments

	buf := &bytes.Buffer{}
	require.NoError(t, Write(buf, m, 2))

	facets := parse(t, buf.Bytes())
	top := len(m.Indices) / 3
	// 底面每格 2 个三角形，四条边每段 2 个
	assert.Len(t, facets, top+2*segs*segs+4*segs*2)

	halfW, halfH := m.PlaneWidth/2, m.PlaneHeight/2
	for _, f := range facets[top:] {
		// 侧壁和底面的法线指向外侧
		c := centroid(f.verts)
		switch {
		case nearly(c[2], -2) && nearly(f.verts[0][2], -2) && nearly(f.verts[1][2], -2) && nearly(f.verts[2][2], -2):
			assert.InDelta(t, -1, f.normal[2], 1e-6)
		case nearly(c[1], halfH):
			assert.InDelta(t, 1, f.normal[1], 1e-6)
		case nearly(c[1], -halfH):
			assert.InDelta(t, -1, f.normal[1], 1e-6)
		case nearly(c[0], -halfW):
			assert.InDelta(t, -1, f.normal[0], 1e-6)
		case nearly(c[0], halfW):
			assert.InDelta(t, 1, f.normal[0], 1e-6)
		default:
			t.Errorf("unexpected base facet %v", f.verts)
		}
	}
}

func TestWrite_BaseIsClosed(t *testing.T) {
	m := testMesh(t, 5, 4)

	buf := &bytes.Buffer{}
	require.NoError(t, Write(buf, m, 1.5))

	type vkey [3]int64
	key := func(v [3]float64) vkey {
		return vkey{int64(math.Round(v[0] * 1e4)), int64(math.Round(v[1] * 1e4)), int64(math.Round(v[2] * 1e4))}
	}
	type ekey [2]vkey
	edges := map[ekey]int{}
	for _, f := range parse(t, buf.Bytes()) {
		for i := 0; i < 3; i++ {
			a, b := key(f.verts[i]), key(f.verts[(i+1)%3])
			if b[0] < a[0] || (b[0] == a[0] && (b[1] < a[1] || (b[1] == a[1] && b[2] < a[2]))) {
				a, b = b, a
			}
			edges[ekey{a, b}]++
		}
	}

	// 封闭网格：每条边恰好被两个面共用，没有 T 形接缝
	for e, n := range edges {
		assert.Equal(t, 2, n, "edge %v", e)
	}
}

func TestWrite_NotReady(t *testing.T) {
	assert.ErrorIs(t, Write(&bytes.Buffer{}, nil, 0), depth.ErrExportNotReady)
	assert.ErrorIs(t, Write(&bytes.Buffer{}, &depth.DisplacedMesh{}, 0), depth.ErrExportNotReady)
}

func TestFacetNormal(t *testing.T) {
	n := facetNormal([3]float64{0, 0, 0}, [3]float64{1, 0, 0}, [3]float64{0, 1, 0})
	assert.Equal(t, [3]float64{0, 0, 1}, n)

	// 退化三角形
	n = facetNormal([3]float64{1, 1, 1}, [3]float64{1, 1, 1}, [3]float64{1, 1, 1})
	assert.Equal(t, [3]float64{0, 0, 0}, n)
}

func centroid(vs [][3]float64) [3]float64 {
	var c [3]float64
	for _, v := range vs {
		for i := range c {
			c[i] += v[i] / float64(len(vs))
		}
	}
	return c
}

func nearly(a, b float64) bool {
	d := a - b
	return d < 1e-4 && d > -1e-4
}
