package depth

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/ftrvxmtrx/tga"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// decoders 按嗅探到的类型选解码器，不走 image.Decode：
// tga 注册时的魔数为空，会抢走所有格式
var decoders = map[string]func(io.Reader) (image.Image, error){
	"image/png":  png.Decode,
	"image/jpeg": jpeg.Decode,
	"image/gif":  gif.Decode,
	"image/bmp":  bmp.Decode,
	"image/tiff": tiff.Decode,
	"image/webp": webp.Decode,
}

// PixelBuffer 行优先的 RGBA 像素缓冲（非预乘），len(Pix) == Width*Height*4
type PixelBuffer struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewEmptyBuffer 全透明缓冲
func NewEmptyBuffer(width, height int) *PixelBuffer {
	return &PixelBuffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}
}

// NewPixelBuffer 把任意图片转成同尺寸的 RGBA 缓冲，没有 alpha 的格式按不透明处理
func NewPixelBuffer(img image.Image) *PixelBuffer {
	src := toNRGBA(img)
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	buf := NewEmptyBuffer(w, h)
	for y := 0; y < h; y++ {
		copy(buf.Pix[y*w*4:(y+1)*w*4], src.Pix[y*src.Stride:y*src.Stride+w*4])
	}
	return buf
}

// Valid 检查长度不变式
func (p *PixelBuffer) Valid() bool {
	return p != nil && p.Width > 0 && p.Height > 0 && len(p.Pix) == p.Width*p.Height*4
}

// DepthAt 第 i 个像素 R、G、B 的平均值，范围 [0,255]
func (p *PixelBuffer) DepthAt(i int) float64 {
	o := i * 4
	return float64(int(p.Pix[o])+int(p.Pix[o+1])+int(p.Pix[o+2])) / 3
}

// depthSum R+G+B，用于整数分箱
func (p *PixelBuffer) depthSum(i int) int {
	o := i * 4
	return int(p.Pix[o]) + int(p.Pix[o+1]) + int(p.Pix[o+2])
}

// AlphaAt 第 i 个像素的 alpha
func (p *PixelBuffer) AlphaAt(i int) uint8 {
	return p.Pix[i*4+3]
}

// Image 包装成 *image.NRGBA，共享底层数据
func (p *PixelBuffer) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    p.Pix,
		Stride: p.Width * 4,
		Rect:   image.Rect(0, 0, p.Width, p.Height),
	}
}

// Digest 内容摘要，作为缓存的身份标识
func (p *PixelBuffer) Digest() string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%dx%d:", p.Width, p.Height)
	_, _ = h.Write(p.Pix)
	return hex.EncodeToString(h.Sum(nil))
}

// HasUsefulAlpha 只要存在非 255 的 alpha，就认为图片已经带了抠图
func (p *PixelBuffer) HasUsefulAlpha() bool {
	for i := 3; i < len(p.Pix); i += 4 {
		if p.Pix[i] != 255 {
			return true
		}
	}
	return false
}

// DecodeImage 嗅探内容类型后解码
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") && !mt.Is("application/octet-stream") {
		return nil, fmt.Errorf("%w: unsupported content type %s", ErrDecode, mt.String())
	}

	// TGA 没有文件头魔数，识别不出的都按 TGA 试
	decode, ok := decoders[mt.String()]
	if !ok {
		decode = tga.Decode
	}
	img, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, mt.String(), err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s image has no pixels", ErrDecode, mt.String())
	}
	return img, nil
}

// Extract 把彩色图和深度图画到彩色图尺寸的两个缓冲里
// 深度图尺寸不同时按彩色图尺寸重采样
func Extract(colorImg, depthImg image.Image) (*PixelBuffer, *PixelBuffer, error) {
	if colorImg == nil || colorImg.Bounds().Empty() {
		return nil, nil, fmt.Errorf("%w: color image is empty", ErrDecode)
	}
	if depthImg == nil || depthImg.Bounds().Empty() {
		return nil, nil, fmt.Errorf("%w: depth image is empty", ErrDecode)
	}

	colorBuf := NewPixelBuffer(colorImg)
	depthBuf := NewPixelBuffer(fitTo(depthImg, colorBuf.Width, colorBuf.Height))

	if colorBuf.Width != depthBuf.Width || colorBuf.Height != depthBuf.Height {
		return nil, nil, fmt.Errorf("%w: color %dx%d, depth %dx%d", ErrDimensionMismatch,
			colorBuf.Width, colorBuf.Height, depthBuf.Width, depthBuf.Height)
	}
	return colorBuf, depthBuf, nil
}

// fitTo 缩放到目标尺寸，尺寸一致时原样返回
func fitTo(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// checkPair 两个缓冲必须尺寸一致
func checkPair(colorBuf, depthBuf *PixelBuffer) error {
	if !colorBuf.Valid() || !depthBuf.Valid() {
		return fmt.Errorf("%w: invalid pixel buffer", ErrDecode)
	}
	if colorBuf.Width != depthBuf.Width || colorBuf.Height != depthBuf.Height {
		return fmt.Errorf("%w: color %dx%d, depth %dx%d", ErrDimensionMismatch,
			colorBuf.Width, colorBuf.Height, depthBuf.Width, depthBuf.Height)
	}
	return nil
}
