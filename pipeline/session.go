package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaos-io/depth2mesh/depth"
	"github.com/chaos-io/depth2mesh/glb"
	"github.com/chaos-io/depth2mesh/stl"
)

const (
	FormatGLB = "glb"
	FormatSTL = "stl"
)

// Artifact 一次导出的结果，只在内存里
type Artifact struct {
	Data     []byte
	Filename string
	MIMEType string
}

type ExportOptions struct {
	FilenamePrefix   string
	STLBaseThickness float64
}

// Session 一个场景的当前输入和当前结果
// 重建持写锁，导出持读锁：导出永远不会看到构造到一半的网格
type Session struct {
	mu      sync.RWMutex
	builder *Builder
	opts    ExportOptions
	now     func() time.Time

	input  *Input
	params Params
	result *Result
}

func NewSession(builder *Builder, opts ExportOptions) *Session {
	if builder == nil {
		builder = NewBuilder(0)
	}
	return &Session{
		builder: builder,
		opts:    opts,
		now:     time.Now,
		params:  DefaultParams(),
	}
}

// Rebuild in 为 nil 时沿用当前输入；失败时不保留任何旧结果
func (s *Session) Rebuild(ctx context.Context, in *Input, p Params) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in != nil {
		s.input = in
	}
	s.result = nil
	s.params = p

	r, err := s.builder.Build(ctx, s.input, p)
	if err != nil {
		return nil, err
	}
	s.result = r
	return r, nil
}

// Result 当前结果，可能为 nil
func (s *Session) Result() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

func (s *Session) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

func (s *Session) Input() *Input {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.input
}

// Export 把当前结果编码成可下载的文件
// 平滑模式导出网格，视差模式导出层叠平面（仅 glb）
func (s *Session) Export(format string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.result == nil {
		return nil, depth.ErrExportNotReady
	}
	if format == "" {
		format = FormatGLB
	}

	var (
		data []byte
		mime string
		err  error
	)
	switch format {
	case FormatGLB:
		mime = glb.MIMEType
		if s.result.Layers != nil {
			data, err = glb.EncodeLayers(s.result.Layers)
		} else {
			data, err = glb.Encode(s.result.Mesh)
		}
	case FormatSTL:
		if s.result.Mesh == nil {
			return nil, fmt.Errorf("%w: stl export needs a smooth mesh", depth.ErrInvalidParam)
		}
		mime = stl.MIMEType
		buf := &bytes.Buffer{}
		err = stl.Write(buf, s.result.Mesh, s.opts.STLBaseThickness)
		data = buf.Bytes()
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", depth.ErrInvalidParam, format)
	}
	if err != nil {
		return nil, err
	}

	a := &Artifact{
		Data:     data,
		Filename: glb.Filename(s.opts.FilenamePrefix, s.now(), format),
		MIMEType: mime,
	}
	slog.Info("exported asset", "file", a.Filename, "bytes", len(a.Data), "mode", s.result.Params.Mode)
	return a, nil
}
