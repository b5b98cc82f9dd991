package engine

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	iface "LowLightDet/interface"
	"LowLightDet/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const DefaultInputSize = 640

// letterboxFill is the grey ultralytics pads letterboxed input with.
var letterboxFill = color.RGBA{R: 114, G: 114, B: 114}

// NetBackend runs a YOLOv8 ONNX export through the OpenCV DNN module.
type NetBackend struct {
	cfg    iface.EngineConfig
	net    gocv.Net
	loaded bool
	log    *zap.Logger
}

func NewNetBackend(log *zap.Logger) *NetBackend {
	if log == nil {
		log = logger.Log()
	}
	return &NetBackend{log: log}
}

// targetSetter is the part of gocv.Net that picks where inference runs.
type targetSetter interface {
	SetPreferableBackend(backend gocv.NetBackendType) error
	SetPreferableTarget(target gocv.NetTargetType) error
}

// selectTarget asks for CUDA when useGPU is set and drops back to the CPU if
// OpenCV refuses it. It reports whether CUDA is in use.
func selectTarget(n targetSetter, useGPU bool, log *zap.Logger) bool {
	if useGPU {
		err := n.SetPreferableBackend(gocv.NetBackendCUDA)
		if err == nil {
			err = n.SetPreferableTarget(gocv.NetTargetCUDA)
		}
		if err == nil {
			return true
		}
		log.Warn("CUDA unavailable, running inference on CPU", zap.Error(err))
	}
	if err := n.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		log.Warn("set default dnn backend", zap.Error(err))
	}
	if err := n.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		log.Warn("set cpu dnn target", zap.Error(err))
	}
	return false
}

func (b *NetBackend) LoadModel(cfg iface.EngineConfig) error {
	if b.log == nil {
		b.log = logger.Log()
	}
	if cfg.ModelPath == "" {
		return fmt.Errorf("%w: model path cannot be empty", iface.ErrModelLoad)
	}
	if ext := strings.ToLower(filepath.Ext(cfg.ModelPath)); ext != ".onnx" {
		return fmt.Errorf("%w: only .onnx models are supported, got %q", iface.ErrModelLoad, ext)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return fmt.Errorf("%w: %v", iface.ErrModelLoad, err)
	}
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		_ = net.Close()
		return fmt.Errorf("%w: could not parse %s", iface.ErrModelLoad, cfg.ModelPath)
	}
	cfg.UseGPU = selectTarget(&net, cfg.UseGPU, b.log)
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	if b.loaded {
		_ = b.net.Close()
	}
	b.cfg = cfg
	b.net = net
	b.loaded = true
	return nil
}

// letterboxFrame resizes img into a size x size square keeping aspect ratio
// and pads the rest with letterboxFill.
func letterboxFrame(img gocv.Mat, lb letterbox, size int) (gocv.Mat, error) {
	w, h := lb.W, lb.H
	resized := gocv.NewMat()
	defer resized.Close()
	if err := gocv.Resize(img, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationLinear); err != nil {
		return gocv.NewMat(), fmt.Errorf("letterbox resize: %w", err)
	}
	top, left := int(lb.PadY), int(lb.PadX)
	padded := gocv.NewMat()
	if err := gocv.CopyMakeBorder(resized, &padded, top, size-h-top, left, size-w-left, gocv.BorderConstant, letterboxFill); err != nil {
		_ = padded.Close()
		return gocv.NewMat(), fmt.Errorf("letterbox pad: %w", err)
	}
	return padded, nil
}

func (b *NetBackend) Infer(img gocv.Mat) ([]iface.Detection, error) {
	if !b.loaded {
		return nil, errors.New("model not loaded")
	}
	size := b.cfg.InputSize
	lb := newLetterbox(img.Cols(), img.Rows(), size)
	input, err := letterboxFrame(img, lb, size)
	if err != nil {
		return nil, err
	}
	defer input.Close()

	blob := gocv.BlobFromImage(input, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	b.net.SetInput(blob, "")
	out := b.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output tensor: %w", err)
	}
	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	return decodeYOLOv8(data, dims[1], dims[2], lb, bounds, b.cfg.Conf, b.cfg.Iou), nil
}

func (b *NetBackend) Destroy() {
	if b.loaded {
		_ = b.net.Close()
	}
	b.loaded = false
	b.cfg = iface.EngineConfig{}
}

func (b *NetBackend) CheckConfig() iface.EngineConfig {
	return b.cfg
}

func (b *NetBackend) SetInputSize(size int) {
	if size > 0 {
		b.cfg.InputSize = size
	}
}
