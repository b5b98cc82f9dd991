package stream

import (
	"fmt"
	"time"

	"LowLightDet/compose"
	"LowLightDet/enhance"
	iface "LowLightDet/interface"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// FrameDetector is the part of engine.Detector the pipeline needs.
type FrameDetector interface {
	Detect(img gocv.Mat, threshold float32) (gocv.Mat, []iface.Detection, error)
}

// Result holds everything produced for one input frame. The caller owns the
// Mats and must Close the Result.
type Result struct {
	Enhanced   gocv.Mat
	Detected   gocv.Mat
	Composite  gocv.Mat
	Detections []iface.Detection
	Inference  time.Duration
}

func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	return multierr.Combine(r.Enhanced.Close(), r.Detected.Close(), r.Composite.Close())
}

// Processor runs enhance, detect and compose for one frame. It is shared by
// the single-image command, the stream driver and the network handlers.
type Processor struct {
	Pipeline  *enhance.Pipeline
	Detector  FrameDetector
	Threshold float32
}

// Process never modifies frame. The composite is original | enhanced | detected
// at full resolution.
func (p *Processor) Process(frame gocv.Mat) (*Result, error) {
	if err := iface.CheckFrame(frame); err != nil {
		return nil, err
	}
	enhanced, err := p.Pipeline.Enhance(frame)
	if err != nil {
		return nil, fmt.Errorf("enhance: %w", err)
	}
	start := time.Now()
	detected, dets, err := p.Detector.Detect(enhanced, p.Threshold)
	elapsed := time.Since(start)
	if err != nil {
		_ = enhanced.Close()
		return nil, fmt.Errorf("detect: %w", err)
	}
	composite, err := compose.SideBySide(frame, enhanced, detected)
	if err != nil {
		_ = multierr.Combine(enhanced.Close(), detected.Close())
		return nil, fmt.Errorf("compose: %w", err)
	}
	return &Result{
		Enhanced:   enhanced,
		Detected:   detected,
		Composite:  composite,
		Detections: dets,
		Inference:  elapsed,
	}, nil
}
