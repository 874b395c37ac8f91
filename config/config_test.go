package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/depth2mesh/depth/estimator"
	"github.com/chaos-io/depth2mesh/pipeline"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.NoError(t, c.Validate())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logLevel: debug
synthesis:
  mode: parallax
  layerCount: 8
estimator:
  backend: remote
  remoteUrl: http://127.0.0.1:9000/depth
server:
  addr: ":9999"
  sceneTTL: 2m
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, pipeline.ModeParallax, c.Synthesis.Mode)
	assert.Equal(t, 8, c.Synthesis.LayerCount)
	// 文件里没写的字段保持默认
	assert.Equal(t, 1.5, c.Synthesis.DisplacementScale)
	assert.Equal(t, pipeline.FormatGLB, c.Export.Format)
	assert.Equal(t, ":9999", c.Server.Addr)
	assert.Equal(t, 2*time.Minute, c.Server.SceneTTL)

	opts := c.EstimatorOptions()
	assert.Equal(t, estimator.BackendRemote, opts.Backend)
	assert.Equal(t, "http://127.0.0.1:9000/depth", opts.RemoteURL)
	assert.Equal(t, c.Cache.Estimates, opts.CacheSize)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("synthesis: [1, 2"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	c := Default()
	c.Resolve(Flags{
		Mode:              "parallax",
		DisplacementScale: 4,
		LayerCount:        6,
		Format:            "glb",
		OutputDir:         "/tmp/out",
		Backend:           "onnx",
		Addr:              ":1234",
		LogLevel:          "warn",
	})

	assert.Equal(t, pipeline.ModeParallax, c.Synthesis.Mode)
	assert.Equal(t, 4.0, c.Synthesis.DisplacementScale)
	assert.Equal(t, 6, c.Synthesis.LayerCount)
	assert.Equal(t, "/tmp/out", c.Export.OutputDir)
	assert.Equal(t, "onnx", c.Estimator.Backend)
	assert.Equal(t, ":1234", c.Server.Addr)
	assert.Equal(t, "warn", c.LogLevel)

	// 零值不覆盖
	before := c
	c.Resolve(Flags{})
	assert.Equal(t, before, c)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"默认配置", func(c *Config) {}, false},
		{"stl + 平滑", func(c *Config) { c.Export.Format = pipeline.FormatSTL }, false},
		{"stl + 视差", func(c *Config) {
			c.Export.Format = pipeline.FormatSTL
			c.Synthesis.Mode = pipeline.ModeParallax
		}, true},
		{"未知格式", func(c *Config) { c.Export.Format = "fbx" }, true},
		{"层数太少", func(c *Config) {
			c.Synthesis.Mode = pipeline.ModeParallax
			c.Synthesis.LayerCount = 1
		}, true},
		{"ttl 为 0", func(c *Config) { c.Server.SceneTTL = 0 }, true},
		{"未知日志级别", func(c *Config) { c.LogLevel = "loud" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(s)
		require.NoError(t, err)
		assert.Equal(t, want, got, s)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
