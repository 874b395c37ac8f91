package http

import (
	"context"
	"time"
)

type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam Body 可以是 io.Reader、[]byte 或任意可 JSON 序列化的值；
// Response 为 *[]byte 时拿到原始响应体，其它非 nil 值按 JSON 解码
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	Timeout time.Duration
}
