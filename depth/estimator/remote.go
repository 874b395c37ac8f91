package estimator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	"github.com/chaos-io/depth2mesh/depth"
	nhttp "github.com/chaos-io/depth2mesh/util/http"
)

// 上传给推理服务的图片最长边
const remoteMaxSize = 1024

// Remote 通过 HTTP 调用深度推理服务：POST 一张 PNG，返回深度图
type Remote struct {
	url string
	cli nhttp.IClient
}

func NewRemote(url string) *Remote {
	return &Remote{
		url: url,
		cli: nhttp.NewHTTPClient(),
	}
}

// NewRemoteWithClient 方便替换 client
func NewRemoteWithClient(url string, cli nhttp.IClient) *Remote {
	return &Remote{url: url, cli: cli}
}

/*
	curl -X POST "$URL" \
	  -H "Content-Type: image/png" \
	  --data-binary @my_image.png -o depth.png
*/
func (r *Remote) Estimate(ctx context.Context, img image.Image) (image.Image, error) {
	src := resizeWithinMax(img, remoteMaxSize)

	body := &bytes.Buffer{}
	if err := png.Encode(body, src); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	var resp []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: r.url,
		Method:     "POST",
		Header: map[string]string{
			"Content-Type": "image/png",
			"Accept":       "image/png",
		},
		Body:     body.Bytes(),
		Response: &resp,
	}
	if err := r.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	slog.Debug("get the depth response", "url", r.url, "bytes", len(resp))

	out, err := depth.DecodeImage(resp)
	if err != nil {
		return nil, fmt.Errorf("decode depth response: %w", err)
	}
	return out, nil
}
