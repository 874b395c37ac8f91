package pipeline

import (
	"fmt"
	"math"

	"github.com/chaos-io/depth2mesh/depth"
)

type Mode string

const (
	ModeSmooth   Mode = "smooth"
	ModeParallax Mode = "parallax"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSmooth, "":
		return ModeSmooth, nil
	case ModeParallax:
		return ModeParallax, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", depth.ErrInvalidParam, s)
	}
}

// Params 合成参数
// DepthTolerance 只是占位：会被接收和回显，但不参与任何计算
type Params struct {
	Mode              Mode    `json:"mode" yaml:"mode"`
	DisplacementScale float64 `json:"displacementScale" yaml:"displacementScale"`
	LayerCount        int     `json:"layerCount" yaml:"layerCount"`
	DepthTolerance    float64 `json:"depthTolerance" yaml:"depthTolerance"`
}

func DefaultParams() Params {
	return Params{
		Mode:              ModeSmooth,
		DisplacementScale: 1.5,
		LayerCount:        5,
	}
}

func (p Params) Validate() error {
	if _, err := ParseMode(string(p.Mode)); err != nil {
		return err
	}
	if p.DisplacementScale < 0 || math.IsNaN(p.DisplacementScale) || math.IsInf(p.DisplacementScale, 0) {
		return fmt.Errorf("%w: displacement scale must be a finite value >= 0, got %v", depth.ErrInvalidParam, p.DisplacementScale)
	}
	if p.Mode == ModeParallax && p.LayerCount < depth.MinLayerCount {
		return fmt.Errorf("%w: layer count must be >= %d, got %d", depth.ErrInvalidParam, depth.MinLayerCount, p.LayerCount)
	}
	return nil
}
