package estimator

import (
	"context"
	"image"
	"math"

	"golang.org/x/image/draw"
)

const base = 320.0 // XY 分辨率

// Luminance 不依赖模型的伪深度：亮度当作远近
type Luminance struct {
	DetailLevel float64
	Invert      bool
}

func NewLuminance(detailLevel float64, invert bool) *Luminance {
	if detailLevel <= 0 {
		detailLevel = 1
	}
	return &Luminance{DetailLevel: detailLevel, Invert: invert}
}

func (l *Luminance) Estimate(ctx context.Context, img image.Image) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return GenerateDepthMap(img, l.DetailLevel, l.Invert), nil
}

// GenerateDepthMap 生成深度图：灰度 + gamma + 缩放 + 高斯模糊 + 可反转
func GenerateDepthMap(img image.Image, detailLevel float64, invert bool) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// ---------- XY 分辨率：只缩小不放大 ----------
	size := math.Max(1, base*detailLevel)
	ratio := math.Min(1, math.Min(size/float64(w), size/float64(h)))
	nw, nh := max(1, int(float64(w)*ratio)), max(1, int(float64(h)*ratio))

	// ---------- 灰度 + gamma 校正 ----------
	var lut [256]uint8
	for i := range lut {
		lut[i] = uint8(math.Pow(float64(i)/255.0, 1.5)*255 + 0.5)
	}

	gray := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(x+b.Min.X, y+b.Min.Y).RGBA()
			gray.Pix[y*gray.Stride+x] = lut[(299*r+587*g+114*bl)/1000>>8]
		}
	}

	// ---------- 缩放 ----------
	resized := gray
	if nw != w || nh != h {
		resized = image.NewGray(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(resized, resized.Bounds(), gray, gray.Bounds(), draw.Src, nil)
	}

	// ---------- 3x3 高斯模糊，边缘取最近像素 ----------
	k := [3][3]int{
		{1, 2, 1},
		{2, 4, 2},
		{1, 2, 1},
	}
	out := image.NewGray(resized.Bounds())
	for y := 0; y < nh; y++ {
		for x := 0; x < nw; x++ {
			sum := 0
			for ky := -1; ky <= 1; ky++ {
				sy := min(max(y+ky, 0), nh-1)
				for kx := -1; kx <= 1; kx++ {
					sx := min(max(x+kx, 0), nw-1)
					sum += int(resized.Pix[sy*resized.Stride+sx]) * k[ky+1][kx+1]
				}
			}
			v := uint8(sum >> 4)
			if invert {
				v = 255 - v
			}
			out.Pix[y*out.Stride+x] = v
		}
	}

	return out
}
