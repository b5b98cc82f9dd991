package engine

import (
	"fmt"
	"sync"

	iface "LowLightDet/interface"
	"LowLightDet/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004

// DefaultThreshold is the confidence floor used when callers have no opinion.
const DefaultThreshold float32 = 0.5

// Detector owns one loaded Backend. Construct it once per process and pass it
// to every caller; Detect serializes access to the backend.
type Detector struct {
	mu      sync.Mutex
	backend iface.Backend
	cfg     iface.EngineConfig
	state   int
	log     *zap.Logger
}

// NewDetector wraps an unloaded backend. Call Load before Detect.
func NewDetector(backend iface.Backend, log *zap.Logger) *Detector {
	if log == nil {
		log = logger.Log()
	}
	return &Detector{backend: backend, state: REGISTERED, log: log.Named("engine")}
}

// LoadDetector builds a gocv DNN backed Detector and loads the model.
// Any failure is ErrModelLoad and leaves no usable Detector behind.
func LoadDetector(cfg iface.EngineConfig, log *zap.Logger) (*Detector, error) {
	if log == nil {
		log = logger.Log()
	}
	d := NewDetector(NewNetBackend(log.Named("dnn")), log)
	if err := d.Load(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Detector) Load(cfg iface.EngineConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backend == nil {
		return fmt.Errorf("%w: no backend", iface.ErrModelLoad)
	}
	if len(cfg.Names) == 0 {
		cfg.Names = CocoNames
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	if err := d.backend.LoadModel(cfg); err != nil {
		d.log.Error("load model failed", zap.String("model", cfg.ModelPath), zap.Error(err))
		return fmt.Errorf("%w: %v", iface.ErrModelLoad, err)
	}
	d.cfg = cfg
	// the backend may have fallen back from CUDA
	d.cfg.UseGPU = d.backend.CheckConfig().UseGPU
	d.state = IDLE
	d.log.Info("model loaded",
		zap.String("model", cfg.ModelPath),
		zap.Int("classes", len(cfg.Names)),
		zap.Int("inputSize", cfg.InputSize),
		zap.Bool("gpu", d.cfg.UseGPU))
	return nil
}

func (d *Detector) State() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg := d.cfg
	cfg.Names = append([]string(nil), d.cfg.Names...)
	return cfg
}

func (d *Detector) SetInputSize(size int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if size <= 0 || d.backend == nil {
		return
	}
	d.backend.SetInputSize(size)
	d.cfg.InputSize = size
}

// Detect runs inference on img and returns an annotated copy together with the
// detections whose confidence is at least threshold. img is never modified.
func (d *Detector) Detect(img gocv.Mat, threshold float32) (gocv.Mat, []iface.Detection, error) {
	if threshold < 0 || threshold > 1 {
		return gocv.NewMat(), nil, fmt.Errorf("confidence threshold %v outside [0,1]", threshold)
	}
	if err := iface.CheckFrame(img); err != nil {
		return gocv.NewMat(), nil, err
	}

	d.mu.Lock()
	switch d.state {
	case UNREGISTERED:
		d.mu.Unlock()
		return gocv.NewMat(), nil, fmt.Errorf("detector not registered")
	case REGISTERED:
		d.mu.Unlock()
		return gocv.NewMat(), nil, fmt.Errorf("model not loaded")
	}
	d.state = BUSY
	raw, err := d.backend.Infer(img)
	d.state = IDLE
	names := d.cfg.Names
	d.mu.Unlock()
	if err != nil {
		return gocv.NewMat(), nil, fmt.Errorf("inference: %w", err)
	}

	dets := make([]iface.Detection, 0, len(raw))
	for _, det := range raw {
		if det.Confidence < threshold {
			continue
		}
		if det.Label == "" {
			det.Label = labelFor(names, det.ClassID)
		}
		dets = append(dets, det)
	}
	annotated := img.Clone()
	if err := Annotate(&annotated, dets); err != nil {
		_ = annotated.Close()
		return gocv.NewMat(), nil, fmt.Errorf("annotate: %w", err)
	}
	return annotated, dets, nil
}

// Counts tallies detections per label.
func Counts(dets []iface.Detection) map[string]int {
	out := make(map[string]int, len(dets))
	for _, det := range dets {
		out[det.Label]++
	}
	return out
}

func (d *Detector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backend != nil {
		d.backend.Destroy()
	}
	d.cfg = iface.EngineConfig{}
	d.state = UNREGISTERED
}
