package util

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"strings"

	"github.com/chaos-io/depth2mesh/depth"
	nhttp "github.com/chaos-io/depth2mesh/util/http"
)

// LoadImage 本地路径或 http(s) 地址
func LoadImage(ctx context.Context, src string) (image.Image, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return DownloadImage(ctx, src)
	}
	return OpenImage(src)
}

// DownloadImage 下载图片
func DownloadImage(ctx context.Context, url string) (image.Image, error) {
	var data []byte
	err := nhttp.NewHTTPClient().DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: url,
		Method:     "GET",
		Response:   &data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: download %s: %w", depth.ErrDecode, url, err)
	}
	return depth.DecodeImage(data)
}

// OpenImage 打开本地图片
func OpenImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open image: %w", depth.ErrDecode, err)
	}
	defer func() {
		_ = file.Close()
	}()

	return ReadImage(file)
}

// ReadImage 从任意 reader 解码
func ReadImage(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %w", depth.ErrDecode, err)
	}
	return depth.DecodeImage(data)
}
