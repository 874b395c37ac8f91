package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/HugoSmits86/nativewebp"
	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"

	"github.com/chaos-io/depth2mesh/config"
	"github.com/chaos-io/depth2mesh/depth"
	"github.com/chaos-io/depth2mesh/depth/estimator"
	"github.com/chaos-io/depth2mesh/pipeline"
	"github.com/chaos-io/depth2mesh/server"
	"github.com/chaos-io/depth2mesh/util"
)

const usage = `usage: depth2mesh <command> [flags]

commands:
  build   color + depth -> .glb / .stl
  layers  write parallax layer textures (png / webp)
  watch   rebuild whenever the input files change
  serve   run the HTTP API
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "build":
		err = runBuild(ctx, os.Args[2:])
	case "layers":
		err = runLayers(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		slog.Error("depth2mesh failed", "command", os.Args[1], "err", err)
		os.Exit(1)
	}
}

// options 各子命令共用的参数
type options struct {
	configPath string
	color      string
	depth      string
	flags      config.Flags
}

func newFlagSet(name string, withInput bool) (*flag.FlagSet, *options) {
	o := &options{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "YAML config file")
	if withInput {
		fs.StringVar(&o.color, "color", "", "color image path or URL (required)")
		fs.StringVar(&o.depth, "depth", "", "depth image path or URL; estimated from color when empty")
	}
	fs.StringVar(&o.flags.Mode, "mode", "", "smooth | parallax")
	fs.Float64Var(&o.flags.DisplacementScale, "scale", 0, "displacement scale")
	fs.IntVar(&o.flags.LayerCount, "layers", 0, "parallax layer count")
	fs.Float64Var(&o.flags.DepthTolerance, "tolerance", 0, "depth tolerance (accepted, currently unused)")
	fs.StringVar(&o.flags.Format, "format", "", "glb | stl")
	fs.StringVar(&o.flags.OutputDir, "out", "", "output directory")
	fs.StringVar(&o.flags.Backend, "backend", "", "depth estimator backend: luminance | remote | onnx")
	fs.StringVar(&o.flags.LogLevel, "log-level", "", "debug | info | warn | error")
	return fs, o
}

// setup 读配置、合并命令行、初始化日志
func setup(o *options) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg.Resolve(o.flags)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

func newEstimator(cfg config.Config) (*estimator.Handle, error) {
	factory, err := estimator.NewFactory(cfg.EstimatorOptions())
	if err != nil {
		return nil, err
	}
	return estimator.NewHandle(factory, cfg.Cache.Estimates), nil
}

// loadInput 没给深度图时用估计器生成
func loadInput(ctx context.Context, o *options, est *estimator.Handle) (*pipeline.Input, error) {
	if o.color == "" {
		return nil, fmt.Errorf("%w: -color is required", depth.ErrDecode)
	}
	defer util.Trace("load input")()

	colorImg, err := util.LoadImage(ctx, o.color)
	if err != nil {
		return nil, err
	}

	if o.depth != "" {
		depthImg, err := util.LoadImage(ctx, o.depth)
		if err != nil {
			return nil, err
		}
		return pipeline.NewInput(colorImg, depthImg)
	}

	slog.Info("no depth image given, estimating", "backend", fmt.Sprintf("%T", est))
	depthImg, err := est.Estimate(ctx, colorImg)
	if err != nil {
		return nil, err
	}
	return pipeline.NewInput(colorImg, depthImg)
}

func runBuild(ctx context.Context, args []string) error {
	fs, o := newFlagSet("build", true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := setup(o)
	if err != nil {
		return err
	}

	est, err := newEstimator(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = est.Close()
	}()

	in, err := loadInput(ctx, o, est)
	if err != nil {
		return err
	}

	sess := pipeline.NewSession(pipeline.NewBuilder(0), cfg.ExportOptions())
	_, err = buildAndExport(ctx, sess, in, cfg)
	return err
}

// buildAndExport 重建并把导出文件写到输出目录
func buildAndExport(ctx context.Context, sess *pipeline.Session, in *pipeline.Input, cfg config.Config) (string, error) {
	if _, err := sess.Rebuild(ctx, in, cfg.Synthesis); err != nil {
		return "", err
	}
	a, err := sess.Export(cfg.Export.Format)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(cfg.Export.OutputDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(cfg.Export.OutputDir, a.Filename)
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	slog.Info("model written", "path", path, "bytes", len(a.Data))
	return path, nil
}

func runLayers(ctx context.Context, args []string) error {
	fs, o := newFlagSet("layers", true)
	imageFormat := fs.String("image-format", "png", "png | webp")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *imageFormat != "png" && *imageFormat != "webp" {
		return fmt.Errorf("%w: unknown image format %q", depth.ErrInvalidParam, *imageFormat)
	}
	o.flags.Mode = string(pipeline.ModeParallax)

	cfg, err := setup(o)
	if err != nil {
		return err
	}
	est, err := newEstimator(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = est.Close()
	}()

	in, err := loadInput(ctx, o, est)
	if err != nil {
		return err
	}
	r, err := pipeline.NewBuilder(0).Build(ctx, in, cfg.Synthesis)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Export.OutputDir, os.ModePerm); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, l := range r.Layers.Layers {
		path := filepath.Join(cfg.Export.OutputDir, fmt.Sprintf("layer-%02d.%s", l.Index, *imageFormat))
		if err := writeLayer(path, l.Texture, *imageFormat); err != nil {
			return err
		}
		slog.Info("layer written", "path", path, "zOffset", l.ZOffset, "minDepth", l.MinDepth, "maxDepth", l.MaxDepth)
	}
	return nil
}

func writeLayer(path string, tex *depth.PixelBuffer, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	if format == "webp" {
		err = nativewebp.Encode(f, tex.Image(), nil)
	} else {
		err = png.Encode(f, tex.Image())
	}
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", depth.ErrSerialization, path, err)
	}
	return nil
}

// 编辑器保存时往往连续触发多次事件
const watchDebounce = 300 * time.Millisecond

func runWatch(ctx context.Context, args []string) error {
	fs, o := newFlagSet("watch", true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := setup(o)
	if err != nil {
		return err
	}
	if o.color == "" {
		return fmt.Errorf("%w: -color is required", depth.ErrDecode)
	}

	est, err := newEstimator(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = est.Close()
	}()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	// 监听所在目录：很多编辑器是写临时文件再 rename
	watched := map[string]bool{}
	for _, p := range []string{o.color, o.depth} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		watched[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
	}

	sess := pipeline.NewSession(pipeline.NewBuilder(cfg.Cache.Results), cfg.ExportOptions())
	rebuild := func() {
		in, err := loadInput(ctx, o, est)
		if err == nil {
			_, err = buildAndExport(ctx, sess, in, cfg)
		}
		if err != nil {
			slog.Error("rebuild failed", "err", err)
		}
	}
	rebuild()

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(event.Name)
			if !watched[abs] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				slog.Debug("input changed", "file", event.Name, "op", event.Op.String())
				timer.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "err", err)
		case <-timer.C:
			rebuild()
		}
	}
}

func runServe(ctx context.Context, args []string) error {
	fs, o := newFlagSet("serve", false)
	fs.StringVar(&o.flags.Addr, "addr", "", "listen address")
	noEstimator := fs.Bool("no-estimator", false, "require a depth image on every upload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := setup(o)
	if err != nil {
		return err
	}

	var est *estimator.Handle
	if !*noEstimator {
		est, err = newEstimator(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := est.Close(); err != nil {
				slog.Warn("close estimator", "err", err)
			}
		}()
	}

	if level, _ := config.ParseLevel(cfg.LogLevel); level > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv, err := server.New(cfg, est)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
