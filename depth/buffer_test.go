package depth

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/ftrvxmtrx/tga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func encodeWith(t *testing.T, img image.Image, encode func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, encode(buf, img))
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	src.SetNRGBA(1, 1, color.NRGBA{R: 1, G: 2, B: 3, A: 4})

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"png", encodePNG(t, src), false},
		{"jpeg", encodeWith(t, src, func(b *bytes.Buffer, m image.Image) error { return jpeg.Encode(b, m, nil) }), false},
		{"gif", encodeWith(t, src, func(b *bytes.Buffer, m image.Image) error { return gif.Encode(b, m, nil) }), false},
		{"tga", encodeWith(t, src, func(b *bytes.Buffer, m image.Image) error { return tga.Encode(b, m) }), false},
		{"空数据", nil, true},
		{"文本", []byte("hello, this is not an image"), true},
		{"截断的 png", encodePNG(t, src)[:20], true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeImage(tt.data)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDecode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 3, img.Bounds().Dx())
			assert.Equal(t, 2, img.Bounds().Dy())
		})
	}
}

func TestDecodeImage_KeepsPixels(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	src.SetNRGBA(2, 1, color.NRGBA{R: 200, G: 40, B: 10, A: 128})

	for name, data := range map[string][]byte{
		"png": encodePNG(t, src),
		"tga": encodeWith(t, src, func(b *bytes.Buffer, m image.Image) error { return tga.Encode(b, m) }),
	} {
		t.Run(name, func(t *testing.T) {
			img, err := DecodeImage(data)
			require.NoError(t, err)
			buf := NewPixelBuffer(img)
			assert.Equal(t, []uint8{200, 40, 10, 128}, buf.Pix[(1*4+2)*4:(1*4+2)*4+4])
			assert.Equal(t, []uint8{255, 255, 255, 255}, buf.Pix[:4])
		})
	}
}

func TestNewPixelBuffer(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	src.SetNRGBA(5, 5, color.NRGBA{R: 10, G: 20, B: 30, A: 40})
	src.SetNRGBA(6, 5, color.NRGBA{R: 50, G: 60, B: 70, A: 255})

	buf := NewPixelBuffer(src)
	require.True(t, buf.Valid())
	assert.Equal(t, 2, buf.Width)
	assert.Equal(t, 1, buf.Height)
	// 非预乘，原样保留
	assert.Equal(t, []uint8{10, 20, 30, 40, 50, 60, 70, 255}, buf.Pix)
	assert.InDelta(t, 20.0, buf.DepthAt(0), 1e-9)
	assert.Equal(t, uint8(40), buf.AlphaAt(0))
	assert.True(t, buf.HasUsefulAlpha())

	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	assert.False(t, NewPixelBuffer(gray).HasUsefulAlpha())
}

func TestExtract(t *testing.T) {
	colorImg := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	depthImg := image.NewGray(image.Rect(0, 0, 4, 2))
	for i := range depthImg.Pix {
		depthImg.Pix[i] = 200
	}

	colorBuf, depthBuf, err := Extract(colorImg, depthImg)
	require.NoError(t, err)
	assert.Equal(t, colorBuf.Width, depthBuf.Width)
	assert.Equal(t, colorBuf.Height, depthBuf.Height)
	assert.Equal(t, 8, depthBuf.Width)
	// 均匀深度重采样后仍然均匀
	for i := 0; i < depthBuf.Width*depthBuf.Height; i++ {
		assert.InDelta(t, 200.0, depthBuf.DepthAt(i), 1.0)
	}

	_, _, err = Extract(nil, depthImg)
	assert.ErrorIs(t, err, ErrDecode)
	_, _, err = Extract(colorImg, image.NewGray(image.Rectangle{}))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDigest(t *testing.T) {
	a := grayBuffer(2, 2, 1, 2, 3, 4)
	b := grayBuffer(2, 2, 1, 2, 3, 4)
	c := grayBuffer(2, 2, 1, 2, 3, 5)
	d := grayBuffer(4, 1, 1, 2, 3, 4)

	assert.Equal(t, a.Digest(), b.Digest())
	assert.NotEqual(t, a.Digest(), c.Digest())
	assert.NotEqual(t, a.Digest(), d.Digest())
}
