package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/depth2mesh/depth"
	"github.com/chaos-io/depth2mesh/pipeline"
	"github.com/chaos-io/depth2mesh/util"
)

var errSceneNotFound = errors.New("scene not found")

// paramsForm 没传的字段沿用当前值
type paramsForm struct {
	Mode              *string  `form:"mode" json:"mode"`
	DisplacementScale *float64 `form:"displacementScale" json:"displacementScale"`
	LayerCount        *int     `form:"layerCount" json:"layerCount"`
	DepthTolerance    *float64 `form:"depthTolerance" json:"depthTolerance"`
}

func (f paramsForm) apply(p pipeline.Params) pipeline.Params {
	if f.Mode != nil {
		p.Mode = pipeline.Mode(*f.Mode)
	}
	if f.DisplacementScale != nil {
		p.DisplacementScale = *f.DisplacementScale
	}
	if f.LayerCount != nil {
		p.LayerCount = *f.LayerCount
	}
	if f.DepthTolerance != nil {
		p.DepthTolerance = *f.DepthTolerance
	}
	return p
}

type layerView struct {
	Index    int     `json:"index"`
	ZOffset  float64 `json:"zOffset"`
	MinDepth float64 `json:"minDepth"`
	MaxDepth float64 `json:"maxDepth"`
	Texture  string  `json:"texture"`
}

type sceneView struct {
	ID          string          `json:"id"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Params      pipeline.Params `json:"params"`
	PlaneWidth  float64         `json:"planeWidth"`
	PlaneHeight float64         `json:"planeHeight"`
	HasAlpha    bool            `json:"hasAlpha"`
	Segments    int             `json:"segments,omitempty"`
	VertexCount int             `json:"vertexCount,omitempty"`
	AlphaMask   string          `json:"alphaMask,omitempty"`
	Layers      []layerView     `json:"layers,omitempty"`
	Export      string          `json:"export"`
}

func newSceneView(sc *Scene) sceneView {
	in := sc.Session.Input()
	r := sc.Session.Result()
	v := sceneView{
		ID:     sc.ID,
		Params: sc.Session.Params(),
		Export: "/api/scenes/" + sc.ID + "/export",
	}
	if in != nil {
		v.Width, v.Height = in.Color.Width, in.Color.Height
		v.PlaneWidth, v.PlaneHeight = depth.PlaneSize(v.Width, v.Height)
		v.HasAlpha = in.Color.HasUsefulAlpha()
	}
	if r == nil {
		return v
	}
	if r.Mesh != nil {
		v.Segments = r.Mesh.Segments
		v.VertexCount = r.Mesh.VertexCount()
		v.AlphaMask = "/api/scenes/" + sc.ID + "/alpha-mask"
	}
	if r.Layers != nil {
		for _, l := range r.Layers.Layers {
			v.Layers = append(v.Layers, layerView{
				Index:    l.Index,
				ZOffset:  l.ZOffset,
				MinDepth: l.MinDepth,
				MaxDepth: l.MaxDepth,
				Texture:  fmt.Sprintf("/api/scenes/%s/layers/%d", sc.ID, l.Index),
			})
		}
	}
	return v
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"scenes":             s.store.Len(),
		"cachedResults":      s.builder.Len(),
		"estimatorAvailable": s.estimator != nil,
		"estimatorReady":     s.estimator != nil && s.estimator.Initialized(),
	})
}

func (s *Server) createScene(c *gin.Context) {
	var form paramsForm
	if err := c.ShouldBind(&form); err != nil {
		writeError(c, fmt.Errorf("%w: %w", depth.ErrInvalidParam, err))
		return
	}
	params := form.apply(s.cfg.Synthesis)

	colorImg, err := formImage(c, "color")
	if err != nil {
		writeError(c, err)
		return
	}

	depthImg, err := formImage(c, "depth")
	if errors.Is(err, http.ErrMissingFile) {
		depthImg, err = s.estimate(c.Request.Context(), colorImg)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	in, err := pipeline.NewInput(colorImg, depthImg)
	if err != nil {
		writeError(c, err)
		return
	}

	sess := pipeline.NewSession(s.builder, s.cfg.ExportOptions())
	if _, err := sess.Rebuild(c.Request.Context(), in, params); err != nil {
		writeError(c, err)
		return
	}

	sc := s.store.Add(sess)
	c.JSON(http.StatusCreated, newSceneView(sc))
}

func (s *Server) estimate(ctx context.Context, img image.Image) (image.Image, error) {
	if s.estimator == nil {
		return nil, fmt.Errorf("%w: depth image is required when no estimator is configured", depth.ErrDecode)
	}
	return s.estimator.Estimate(ctx, img)
}

// formImage 缺文件时返回 http.ErrMissingFile
func formImage(c *gin.Context, field string) (image.Image, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", depth.ErrDecode, field, err)
	}
	return openFormFile(fh)
}

func openFormFile(fh *multipart.FileHeader) (image.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", depth.ErrDecode, fh.Filename, err)
	}
	defer func() {
		_ = f.Close()
	}()
	return util.ReadImage(f)
}

func (s *Server) scene(c *gin.Context) (*Scene, bool) {
	sc, ok := s.store.Get(c.Param("id"))
	if !ok {
		writeError(c, errSceneNotFound)
	}
	return sc, ok
}

func (s *Server) getScene(c *gin.Context) {
	sc, ok := s.scene(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newSceneView(sc))
}

func (s *Server) updateScene(c *gin.Context) {
	sc, ok := s.scene(c)
	if !ok {
		return
	}

	var form paramsForm
	if err := c.ShouldBindJSON(&form); err != nil {
		writeError(c, fmt.Errorf("%w: %w", depth.ErrInvalidParam, err))
		return
	}

	params := form.apply(sc.Session.Params())
	if _, err := sc.Session.Rebuild(c.Request.Context(), nil, params); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSceneView(sc))
}

func (s *Server) deleteScene(c *gin.Context) {
	if !s.store.Delete(c.Param("id")) {
		writeError(c, errSceneNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getLayer(c *gin.Context) {
	sc, ok := s.scene(c)
	if !ok {
		return
	}

	r := sc.Session.Result()
	if r == nil || r.Layers == nil {
		writeError(c, fmt.Errorf("%w: scene is not in parallax mode", depth.ErrExportNotReady))
		return
	}
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 || idx >= len(r.Layers.Layers) {
		writeError(c, fmt.Errorf("%w: layer index %q", depth.ErrInvalidParam, c.Param("index")))
		return
	}
	writePNG(c, r.Layers.Layers[idx].Texture)
}

func (s *Server) getAlphaMask(c *gin.Context) {
	sc, ok := s.scene(c)
	if !ok {
		return
	}

	r := sc.Session.Result()
	if r == nil || r.Mesh == nil {
		writeError(c, fmt.Errorf("%w: scene is not in smooth mode", depth.ErrExportNotReady))
		return
	}
	writePNG(c, r.Mesh.AlphaMask)
}

func (s *Server) exportScene(c *gin.Context) {
	sc, ok := s.scene(c)
	if !ok {
		return
	}

	a, err := sc.Session.Export(c.DefaultQuery("format", s.cfg.Export.Format))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, a.Filename))
	c.Data(http.StatusOK, a.MIMEType, a.Data)
}

func writePNG(c *gin.Context, buf *depth.PixelBuffer) {
	out := &bytes.Buffer{}
	if err := png.Encode(out, buf.Image()); err != nil {
		writeError(c, fmt.Errorf("%w: %w", depth.ErrSerialization, err))
		return
	}
	c.Data(http.StatusOK, "image/png", out.Bytes())
}

// writeError 错误类型 -> 状态码
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errSceneNotFound):
		status = http.StatusNotFound
	case errors.Is(err, depth.ErrExportNotReady):
		status = http.StatusConflict
	case errors.Is(err, depth.ErrDecode),
		errors.Is(err, depth.ErrInvalidParam),
		errors.Is(err, depth.ErrDimensionMismatch),
		errors.Is(err, http.ErrMissingFile):
		status = http.StatusBadRequest
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
