package enhance

import (
	"errors"
	"fmt"
	"sync"

	iface "LowLightDet/interface"

	"gocv.io/x/gocv"
)

// Pipeline runs Denoise -> Gamma -> CLAHE in that fixed order, skipping the
// stages its Config disables. The gamma table and the CLAHE object are built
// once in NewPipeline and reused for every frame.
type Pipeline struct {
	mu     sync.Mutex
	cfg    Config
	lut    gocv.Mat
	hasLUT bool
	clahe  gocv.CLAHE
	hasEQ  bool
	closed bool
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg}
	if cfg.UseGamma {
		table, err := GammaTable(cfg.GammaVal)
		if err != nil {
			return nil, err
		}
		p.lut = newLUT(table)
		p.hasLUT = true
	}
	if cfg.UseCLAHE {
		p.clahe = gocv.NewCLAHEWithParams(cfg.ClipLimit, cfg.Tiles())
		p.hasEQ = true
	}
	return p, nil
}

func (p *Pipeline) Config() Config {
	return p.cfg
}

func (p *Pipeline) Stages() []string {
	return p.cfg.Stages()
}

// Enhance returns an enhanced copy of src. src is never modified and never
// aliased by the result, even when every stage is disabled.
func (p *Pipeline) Enhance(src gocv.Mat) (gocv.Mat, error) {
	if err := iface.CheckFrame(src); err != nil {
		return gocv.NewMat(), err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return gocv.NewMat(), errors.New("enhancement pipeline is closed")
	}

	cur := src.Clone()
	if p.cfg.Denoise {
		next, err := Denoise(cur)
		_ = cur.Close()
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("denoise: %w", err)
		}
		cur = next
	}
	if p.hasLUT {
		next, err := applyLUT(cur, p.lut)
		_ = cur.Close()
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("gamma: %w", err)
		}
		cur = next
	}
	if p.hasEQ {
		next, err := equalizeLuminance(cur, &p.clahe)
		_ = cur.Close()
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("clahe: %w", err)
		}
		cur = next
	}
	if cur.Rows() != src.Rows() || cur.Cols() != src.Cols() || cur.Type() != src.Type() {
		_ = cur.Close()
		return gocv.NewMat(), fmt.Errorf("enhancement changed frame shape from %dx%d to %dx%d",
			src.Cols(), src.Rows(), cur.Cols(), cur.Rows())
	}
	return cur, nil
}

func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.hasLUT {
		_ = p.lut.Close()
		p.hasLUT = false
	}
	if p.hasEQ {
		_ = p.clahe.Close()
		p.hasEQ = false
	}
	return nil
}

// Enhance is a one-shot helper that builds a Pipeline for cfg, runs it once
// and releases it.
func Enhance(src gocv.Mat, cfg Config) (gocv.Mat, error) {
	p, err := NewPipeline(cfg)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer p.Close()
	return p.Enhance(src)
}
