package enhance

import (
	"fmt"
	"image"
)

// Stage names, in the fixed order they run.
const (
	StageDenoise = "denoise"
	StageGamma   = "gamma"
	StageCLAHE   = "clahe"
)

// Denoiser strengths and window sizes.
const (
	DenoiseH              float32 = 5
	DenoiseHColor         float32 = 5
	DenoiseTemplateWindow         = 7
	DenoiseSearchWindow           = 21
)

// Config is the enhancement configuration. It is passed by value and never
// mutated by the pipeline.
type Config struct {
	Denoise   bool    `yaml:"denoise"`
	UseGamma  bool    `yaml:"useGamma"`
	GammaVal  float64 `yaml:"gammaVal"`
	UseCLAHE  bool    `yaml:"useClahe"`
	ClipLimit float64 `yaml:"clipLimit"`
	TileGrid  [2]int  `yaml:"tileGrid"`
}

// DefaultConfig turns every stage on: gamma 0.5, clip limit 2.0 and an 8x8 tile grid.
func DefaultConfig() Config {
	return Config{
		Denoise:   true,
		UseGamma:  true,
		GammaVal:  0.5,
		UseCLAHE:  true,
		ClipLimit: 2.0,
		TileGrid:  [2]int{8, 8},
	}
}

// Passthrough disables every stage.
func Passthrough() Config {
	c := DefaultConfig()
	c.Denoise = false
	c.UseGamma = false
	c.UseCLAHE = false
	return c
}

func (c Config) Validate() error {
	if c.UseGamma && !(c.GammaVal > 0) {
		return fmt.Errorf("gamma must be > 0, got %v", c.GammaVal)
	}
	if c.UseCLAHE {
		if !(c.ClipLimit > 0) {
			return fmt.Errorf("clahe clip limit must be > 0, got %v", c.ClipLimit)
		}
		if c.TileGrid[0] <= 0 || c.TileGrid[1] <= 0 {
			return fmt.Errorf("clahe tile grid must be positive, got %dx%d", c.TileGrid[0], c.TileGrid[1])
		}
	}
	return nil
}

// Tiles returns the CLAHE tile grid as columns x rows.
func (c Config) Tiles() image.Point {
	return image.Pt(c.TileGrid[0], c.TileGrid[1])
}

// Stages lists the enabled stages in execution order.
func (c Config) Stages() []string {
	stages := make([]string, 0, 3)
	if c.Denoise {
		stages = append(stages, StageDenoise)
	}
	if c.UseGamma {
		stages = append(stages, StageGamma)
	}
	if c.UseCLAHE {
		stages = append(stages, StageCLAHE)
	}
	return stages
}
