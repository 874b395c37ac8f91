package stl

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/chaos-io/depth2mesh/depth"
)

const (
	MIMEType  = "model/stl"
	Extension = "stl"
)

// Write 把平滑模式网格写成 ASCII STL
// baseThickness > 0 时补上底面和四周侧壁，得到可打印的封闭浮雕
func Write(w io.Writer, mesh *depth.DisplacedMesh, baseThickness float64) error {
	if mesh == nil || len(mesh.Positions) == 0 {
		return depth.ErrExportNotReady
	}

	bw := bufio.NewWriter(w)
	_, _ = fmt.Fprintln(bw, "solid relief_model")

	pos := mesh.Positions
	v := func(i uint32) [3]float64 {
		p := pos[i]
		return [3]float64{float64(p[0]), float64(p[1]), float64(p[2])}
	}

	// 顶面三角形
	for t := 0; t+2 < len(mesh.Indices); t += 3 {
		writeFacet(bw, v(mesh.Indices[t]), v(mesh.Indices[t+1]), v(mesh.Indices[t+2]))
	}

	if baseThickness > 0 {
		writeBase(bw, mesh, -baseThickness)
	}

	_, _ = fmt.Fprintln(bw, "endsolid relief_model")
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: write stl: %w", depth.ErrSerialization, err)
	}
	return nil
}

// writeBase 底面 (Z = bottom) 和四条边的侧壁
func writeBase(w io.Writer, mesh *depth.DisplacedMesh, bottom float64) {
	grid := mesh.Segments + 1
	at := func(ix, iy int) [3]float64 {
		p := mesh.Positions[iy*grid+ix]
		return [3]float64{float64(p[0]), float64(p[1]), float64(p[2])}
	}
	down := func(p [3]float64) [3]float64 {
		return [3]float64{p[0], p[1], bottom}
	}

	// 底面按网格逐格剖分，和侧壁共用边界顶点，朝 -Z
	for iy := 0; iy < grid-1; iy++ {
		for ix := 0; ix < grid-1; ix++ {
			tl, tr := down(at(ix, iy)), down(at(ix+1, iy))
			bl, br := down(at(ix, iy+1)), down(at(ix+1, iy+1))
			writeFacet(w, tl, tr, bl)
			writeFacet(w, tr, br, bl)
		}
	}

	// 上下边缘，法线朝外
	for ix := 0; ix < grid-1; ix++ {
		a, b := at(ix, 0), at(ix+1, 0)
		writeFacet(w, a, b, down(a))
		writeFacet(w, b, down(b), down(a))

		a, b = at(ix, grid-1), at(ix+1, grid-1)
		writeFacet(w, a, down(a), b)
		writeFacet(w, b, down(a), down(b))
	}

	// 左右边缘
	for iy := 0; iy < grid-1; iy++ {
		a, b := at(0, iy), at(0, iy+1)
		writeFacet(w, a, down(a), b)
		writeFacet(w, b, down(a), down(b))

		a, b = at(grid-1, iy), at(grid-1, iy+1)
		writeFacet(w, a, b, down(a))
		writeFacet(w, b, down(b), down(a))
	}
}

// 写入 STL 面
func writeFacet(w io.Writer, v1, v2, v3 [3]float64) {
	n := facetNormal(v1, v2, v3)
	_, _ = fmt.Fprintf(w, "  facet normal %f %f %f\n", n[0], n[1], n[2])
	_, _ = fmt.Fprintf(w, "    outer loop\n")
	_, _ = fmt.Fprintf(w, "      vertex %f %f %f\n", v1[0], v1[1], v1[2])
	_, _ = fmt.Fprintf(w, "      vertex %f %f %f\n", v2[0], v2[1], v2[2])
	_, _ = fmt.Fprintf(w, "      vertex %f %f %f\n", v3[0], v3[1], v3[2])
	_, _ = fmt.Fprintf(w, "    endloop\n")
	_, _ = fmt.Fprintf(w, "  endfacet\n")
}

func facetNormal(v1, v2, v3 [3]float64) [3]float64 {
	a := [3]float64{v2[0] - v1[0], v2[1] - v1[1], v2[2] - v1[2]}
	b := [3]float64{v3[0] - v1[0], v3[1] - v1[1], v3[2] - v1[2]}
	normal := [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
	norm := math.Sqrt(normal[0]*normal[0] + normal[1]*normal[1] + normal[2]*normal[2])
	if norm > 0 {
		for i := 0; i < 3; i++ {
			normal[i] /= norm
		}
	}
	return normal
}
