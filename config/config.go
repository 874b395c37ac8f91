package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaos-io/depth2mesh/depth/estimator"
	"github.com/chaos-io/depth2mesh/pipeline"
)

// Config 所有可配置项；文件里没写的字段保持默认值
type Config struct {
	LogLevel string `yaml:"logLevel"`

	Synthesis pipeline.Params `yaml:"synthesis"`

	Cache struct {
		Results   int `yaml:"results"`
		Estimates int `yaml:"estimates"`
	} `yaml:"cache"`

	Estimator struct {
		Backend              string  `yaml:"backend"`
		DetailLevel          float64 `yaml:"detailLevel"`
		Invert               bool    `yaml:"invert"`
		RemoteURL            string  `yaml:"remoteUrl"`
		ModelPath            string  `yaml:"modelPath"`
		ORTSharedLibraryPath string  `yaml:"ortSharedLibraryPath"`
		InputSize            int     `yaml:"inputSize"`
	} `yaml:"estimator"`

	Export struct {
		Format           string  `yaml:"format"`
		OutputDir        string  `yaml:"outputDir"`
		FilenamePrefix   string  `yaml:"filenamePrefix"`
		STLBaseThickness float64 `yaml:"stlBaseThickness"`
	} `yaml:"export"`

	Server struct {
		Addr          string        `yaml:"addr"`
		MaxUploadMB   int64         `yaml:"maxUploadMB"`
		SceneTTL      time.Duration `yaml:"sceneTTL"`
		EvictSchedule string        `yaml:"evictSchedule"`
	} `yaml:"server"`
}

// Default 默认配置
func Default() Config {
	var c Config
	c.LogLevel = "info"
	c.Synthesis = pipeline.DefaultParams()
	c.Cache.Results = 16
	c.Cache.Estimates = 8
	c.Estimator.Backend = estimator.BackendLuminance
	c.Estimator.DetailLevel = 1
	c.Estimator.InputSize = 518
	c.Export.Format = pipeline.FormatGLB
	c.Export.OutputDir = "./output"
	c.Export.FilenamePrefix = "depth-model"
	c.Server.Addr = ":8080"
	c.Server.MaxUploadMB = 32
	c.Server.SceneTTL = 30 * time.Minute
	c.Server.EvictSchedule = "@every 5m"
	return c
}

// Load 在默认值之上读 YAML；path 为空时直接返回默认值
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// Flags 命令行参数，非零值覆盖配置文件
type Flags struct {
	Mode              string
	DisplacementScale float64
	LayerCount        int
	DepthTolerance    float64
	Format            string
	OutputDir         string
	Backend           string
	Addr              string
	LogLevel          string
}

// Resolve 命令行优先于配置文件
func (c *Config) Resolve(f Flags) {
	if f.Mode != "" {
		c.Synthesis.Mode = pipeline.Mode(f.Mode)
	}
	if f.DisplacementScale > 0 {
		c.Synthesis.DisplacementScale = f.DisplacementScale
	}
	if f.LayerCount > 0 {
		c.Synthesis.LayerCount = f.LayerCount
	}
	if f.DepthTolerance > 0 {
		c.Synthesis.DepthTolerance = f.DepthTolerance
	}
	if f.Format != "" {
		c.Export.Format = f.Format
	}
	if f.OutputDir != "" {
		c.Export.OutputDir = f.OutputDir
	}
	if f.Backend != "" {
		c.Estimator.Backend = f.Backend
	}
	if f.Addr != "" {
		c.Server.Addr = f.Addr
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
}

// Validate 启动前检查
func (c *Config) Validate() error {
	var errs []error
	if err := c.Synthesis.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Export.Format {
	case pipeline.FormatGLB, pipeline.FormatSTL:
	default:
		errs = append(errs, fmt.Errorf("unknown export format %q", c.Export.Format))
	}
	if c.Export.Format == pipeline.FormatSTL && c.Synthesis.Mode == pipeline.ModeParallax {
		errs = append(errs, errors.New("stl export needs smooth mode"))
	}
	if c.Server.SceneTTL <= 0 {
		errs = append(errs, fmt.Errorf("scene ttl must be positive, got %s", c.Server.SceneTTL))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EstimatorOptions 转成估计器配置
func (c *Config) EstimatorOptions() estimator.Options {
	return estimator.Options{
		Backend:              c.Estimator.Backend,
		DetailLevel:          c.Estimator.DetailLevel,
		Invert:               c.Estimator.Invert,
		RemoteURL:            c.Estimator.RemoteURL,
		ModelPath:            c.Estimator.ModelPath,
		ORTSharedLibraryPath: c.Estimator.ORTSharedLibraryPath,
		InputSize:            c.Estimator.InputSize,
		CacheSize:            c.Cache.Estimates,
	}
}

// ExportOptions 转成导出配置
func (c *Config) ExportOptions() pipeline.ExportOptions {
	return pipeline.ExportOptions{
		FilenamePrefix:   c.Export.FilenamePrefix,
		STLBaseThickness: c.Export.STLBaseThickness,
	}
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
