// Package server 给渲染端用的 HTTP 接口：上传、调参、取贴图、导出
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/chaos-io/depth2mesh/config"
	"github.com/chaos-io/depth2mesh/depth/estimator"
	"github.com/chaos-io/depth2mesh/pipeline"
)

type Server struct {
	cfg       config.Config
	engine    *gin.Engine
	store     *Store
	builder   *pipeline.Builder
	estimator *estimator.Handle
	cron      *cron.Cron
}

// New est 为 nil 时上传必须带深度图
func New(cfg config.Config, est *estimator.Handle) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		store:     NewStore(cfg.Server.SceneTTL),
		builder:   pipeline.NewBuilder(cfg.Cache.Results),
		estimator: est,
		cron:      cron.New(),
	}

	if _, err := s.cron.AddFunc(cfg.Server.EvictSchedule, s.evict); err != nil {
		return nil, fmt.Errorf("schedule eviction %q: %w", cfg.Server.EvictSchedule, err)
	}

	s.engine = gin.New()
	s.engine.MaxMultipartMemory = cfg.Server.MaxUploadMB << 20
	s.engine.Use(gin.Recovery(), requestLogger(), cors())
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)

	api := s.engine.Group("/api/scenes")
	api.POST("", s.createScene)
	api.GET("/:id", s.getScene)
	api.PATCH("/:id", s.updateScene)
	api.DELETE("/:id", s.deleteScene)
	api.GET("/:id/layers/:index", s.getLayer)
	api.GET("/:id/alpha-mask", s.getAlphaMask)
	api.GET("/:id/export", s.exportScene)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) evict() {
	if n := s.store.Evict(); n > 0 {
		slog.Info("evicted idle scenes", "count", n, "remaining", s.store.Len())
	}
}

// Run 阻塞直到 ctx 结束，然后优雅退出
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.cron.Start()
	defer func() {
		<-s.cron.Stop().Done()
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
