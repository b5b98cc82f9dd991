package iface

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

var (
	// ErrInvalidInput marks an empty, malformed or zero-sized frame.
	ErrInvalidInput = errors.New("invalid input frame")
	// ErrModelLoad marks a missing or corrupt model artifact.
	ErrModelLoad = errors.New("model load failure")
	// ErrSourceUnavailable marks a video or camera source that cannot be opened.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrSinkUnavailable marks an output sink that cannot be opened.
	ErrSinkUnavailable = errors.New("sink unavailable")
)

// CheckFrame reports ErrInvalidInput unless m is a non-empty 8-bit 3-channel frame.
func CheckFrame(m gocv.Mat) error {
	if m.Empty() || m.Rows() <= 0 || m.Cols() <= 0 {
		return ErrInvalidInput
	}
	if m.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("%w: expected 8-bit 3-channel frame, got type %v", ErrInvalidInput, m.Type())
	}
	return nil
}
