package stream

import (
	"fmt"
	"math"
)

// FallbackFPS is used when a source reports no usable frame rate.
const FallbackFPS = 30.0

// FrameRate is the rate an output stream is tagged with. Fallback is set when
// Reported was zero, negative or not a finite number.
type FrameRate struct {
	Value    float64
	Reported float64
	Fallback bool
}

func NewFrameRate(reported float64) FrameRate {
	if math.IsNaN(reported) || math.IsInf(reported, 0) || reported <= 0 {
		return FrameRate{Value: FallbackFPS, Reported: reported, Fallback: true}
	}
	return FrameRate{Value: reported, Reported: reported}
}

func (r FrameRate) String() string {
	if r.Fallback {
		return fmt.Sprintf("%.2f (fallback, source reported %v)", r.Value, r.Reported)
	}
	return fmt.Sprintf("%.2f", r.Value)
}
