// Package glb 把网格和材质编码成二进制 glTF 2.0（.glb）
package glb

import (
	"bytes"
	"fmt"
	"image/png"
	"math"
	"time"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/chaos-io/depth2mesh/depth"
)

const (
	MIMEType  = "model/gltf-binary"
	Extension = "glb"
	generator = "depth2mesh"

	// 与渲染端 alphaTest 一致
	alphaCutoff = 0.01
)

// 绕 X 轴 -90°，平面躺在地面上
var groundRotation = [4]float32{-float32(math.Sqrt2 / 2), 0, 0, float32(math.Sqrt2 / 2)}

// Filename depth-model-<unix 毫秒>.glb
func Filename(prefix string, t time.Time, ext string) string {
	if prefix == "" {
		prefix = "depth-model"
	}
	return fmt.Sprintf("%s-%d.%s", prefix, t.UnixMilli(), ext)
}

// Encode 平滑模式网格：几何、UV、法线和两张内嵌贴图（颜色 + alpha 遮罩）
func Encode(mesh *depth.DisplacedMesh) ([]byte, error) {
	if mesh == nil || len(mesh.Positions) == 0 || mesh.Color == nil {
		return nil, depth.ErrExportNotReady
	}

	doc := newDocument()

	colorTex, err := addTexture(doc, "color", mesh.Color)
	if err != nil {
		return nil, err
	}
	maskTex, err := addTexture(doc, "alpha-mask", mesh.AlphaMask)
	if err != nil {
		return nil, err
	}

	mat := cutoutMaterial("depth-surface", colorTex)
	mat.Extras = map[string]interface{}{"alphaMaskTexture": maskTex}
	doc.Materials = append(doc.Materials, mat)

	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name: "depth-surface",
		Primitives: []*gltf.Primitive{{
			Indices: gltf.Index(modeler.WriteIndices(doc, mesh.Indices)),
			Attributes: map[string]uint32{
				gltf.POSITION:   modeler.WritePosition(doc, mesh.Positions),
				gltf.NORMAL:     modeler.WriteNormal(doc, mesh.Normals),
				gltf.TEXCOORD_0: modeler.WriteTextureCoord(doc, flipV(mesh.UVs)),
			},
			Material: gltf.Index(uint32(len(doc.Materials) - 1)),
		}},
	})
	doc.Nodes = append(doc.Nodes, &gltf.Node{
		Name:     "depth-surface",
		Mesh:     gltf.Index(0),
		Rotation: groundRotation,
		Scale:    [3]float32{1, 1, 1},
	})
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)

	return encode(doc)
}

// EncodeLayers 视差模式：每层一个贴图平面，子节点按 z 偏移叠放
func EncodeLayers(stack *depth.LayerStack) ([]byte, error) {
	if stack == nil || len(stack.Layers) == 0 {
		return nil, depth.ErrExportNotReady
	}

	doc := newDocument()

	hw, hh := float32(stack.PlaneWidth/2), float32(stack.PlaneHeight/2)
	positions := [][3]float32{{-hw, hh, 0}, {-hw, -hh, 0}, {hw, -hh, 0}, {hw, hh, 0}}
	normals := [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}}
	uvs := [][2]float32{{0, 0}, {0, 1}, {1, 1}, {1, 0}}
	quad := []uint16{0, 1, 3, 1, 2, 3}

	// 所有层共用一份几何
	posAcc := modeler.WritePosition(doc, positions)
	normAcc := modeler.WriteNormal(doc, normals)
	uvAcc := modeler.WriteTextureCoord(doc, uvs)
	idxAcc := modeler.WriteIndices(doc, quad)

	root := &gltf.Node{
		Name:     "depth-layers",
		Rotation: groundRotation,
		Scale:    [3]float32{1, 1, 1},
	}
	doc.Nodes = append(doc.Nodes, root)

	for _, l := range stack.Layers {
		name := fmt.Sprintf("layer-%02d", l.Index)
		tex, err := addTexture(doc, name, l.Texture)
		if err != nil {
			return nil, err
		}
		mat := cutoutMaterial(name, tex)
		mat.Extras = map[string]interface{}{
			"minDepth": l.MinDepth,
			"maxDepth": l.MaxDepth,
		}
		doc.Materials = append(doc.Materials, mat)

		doc.Meshes = append(doc.Meshes, &gltf.Mesh{
			Name: name,
			Primitives: []*gltf.Primitive{{
				Indices: gltf.Index(idxAcc),
				Attributes: map[string]uint32{
					gltf.POSITION:   posAcc,
					gltf.NORMAL:     normAcc,
					gltf.TEXCOORD_0: uvAcc,
				},
				Material: gltf.Index(uint32(len(doc.Materials) - 1)),
			}},
		})
		doc.Nodes = append(doc.Nodes, &gltf.Node{
			Name:        name,
			Mesh:        gltf.Index(uint32(len(doc.Meshes) - 1)),
			Translation: [3]float32{0, 0, float32(l.ZOffset)},
			Rotation:    [4]float32{0, 0, 0, 1},
			Scale:       [3]float32{1, 1, 1},
		})
		root.Children = append(root.Children, uint32(len(doc.Nodes)-1))
	}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)

	return encode(doc)
}

// flipV 网格 UV 原点在左下，glTF 原点在左上
func flipV(uvs [][2]float32) [][2]float32 {
	out := make([][2]float32, len(uvs))
	for i, uv := range uvs {
		out[i] = [2]float32{uv[0], 1 - uv[1]}
	}
	return out
}

func newDocument() *gltf.Document {
	doc := gltf.NewDocument()
	doc.Asset.Generator = generator
	doc.Samplers = append(doc.Samplers, &gltf.Sampler{
		MagFilter: gltf.MagLinear,
		MinFilter: gltf.MinLinear,
		WrapS:     gltf.WrapClampToEdge,
		WrapT:     gltf.WrapClampToEdge,
	})
	return doc
}

// addTexture 把缓冲编码成 PNG 嵌入 BIN 块，返回 texture 下标
func addTexture(doc *gltf.Document, name string, buf *depth.PixelBuffer) (uint32, error) {
	if !buf.Valid() {
		return 0, fmt.Errorf("%w: texture %s is empty", depth.ErrSerialization, name)
	}

	data := &bytes.Buffer{}
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(data, buf.Image()); err != nil {
		return 0, fmt.Errorf("%w: encode %s png: %w", depth.ErrSerialization, name, err)
	}

	img, err := modeler.WriteImage(doc, name, "image/png", data)
	if err != nil {
		return 0, fmt.Errorf("%w: write image %s: %w", depth.ErrSerialization, name, err)
	}
	doc.Textures = append(doc.Textures, &gltf.Texture{
		Name:    name,
		Sampler: gltf.Index(0),
		Source:  gltf.Index(img),
	})
	return uint32(len(doc.Textures) - 1), nil
}

func cutoutMaterial(name string, colorTex uint32) *gltf.Material {
	return &gltf.Material{
		Name: name,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorTexture: &gltf.TextureInfo{Index: colorTex},
			MetallicFactor:   gltf.Float(0),
			RoughnessFactor:  gltf.Float(1),
		},
		AlphaMode:   gltf.AlphaMask,
		AlphaCutoff: gltf.Float(alphaCutoff),
		DoubleSided: true,
	}
}

func encode(doc *gltf.Document) ([]byte, error) {
	out := &bytes.Buffer{}
	enc := gltf.NewEncoder(out)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", depth.ErrSerialization, err)
	}
	return out.Bytes(), nil
}
