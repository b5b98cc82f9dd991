package iface

import (
	"image"

	"gocv.io/x/gocv"
)

// BBox is an axis-aligned box in pixel coordinates of the frame it was computed on.
type BBox struct {
	XMin int `json:"xMin"`
	YMin int `json:"yMin"`
	XMax int `json:"xMax"`
	YMax int `json:"yMax"`
}

// Rect converts the box to an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax)
}

// Center returns the box midpoint.
func (b BBox) Center() image.Point {
	return image.Pt((b.XMin+b.XMax)/2, (b.YMin+b.YMax)/2)
}

// BBoxFromRect is the inverse of BBox.Rect.
func BBoxFromRect(r image.Rectangle) BBox {
	r = r.Canon()
	return BBox{XMin: r.Min.X, YMin: r.Min.Y, XMax: r.Max.X, YMax: r.Max.Y}
}

// Detection is one object found by a Backend.
type Detection struct {
	ClassID    int     `json:"classId"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	Box        BBox    `json:"box"`
}

type EngineConfig struct {
	ModelPath string
	Names     []string
	Conf      float32
	Iou       float32
	InputSize int
	UseGPU    bool
}

// Backend is the loaded model. Infer is not required to be reentrant; the
// engine serializes calls.
type Backend interface {
	LoadModel(cfg EngineConfig) error
	Infer(image gocv.Mat) ([]Detection, error)
	Destroy()
	CheckConfig() EngineConfig
	SetInputSize(size int)
}
