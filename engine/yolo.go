package engine

import (
	"image"

	iface "LowLightDet/interface"

	"gocv.io/x/gocv"
)

// letterbox maps a frame into a square network input: the frame is scaled by
// Scale to W x H and centred with PadX, PadY pixels of padding.
type letterbox struct {
	Scale      float64
	W, H       int
	PadX, PadY float64
}

func newLetterbox(w, h, size int) letterbox {
	if w <= 0 || h <= 0 || size <= 0 {
		return letterbox{Scale: 1, W: w, H: h}
	}
	r := min(float64(size)/float64(w), float64(size)/float64(h))
	nw := min(size, max(1, int(float64(w)*r+0.5)))
	nh := min(size, max(1, int(float64(h)*r+0.5)))
	return letterbox{
		Scale: r,
		W:     nw,
		H:     nh,
		PadX:  float64((size - nw) / 2),
		PadY:  float64((size - nh) / 2),
	}
}

// toFrame maps a point in network-input pixels back to the frame.
func (l letterbox) toFrame(x, y float64) (float64, float64) {
	return (x - l.PadX) / l.Scale, (y - l.PadY) / l.Scale
}

// decodeYOLOv8 turns a [4+classes, anchors] output tensor into detections in
// frame coordinates. Each anchor column holds cx, cy, w, h followed by one
// score per class, in letterboxed network-input pixels.
func decodeYOLOv8(data []float32, attrs, anchors int, lb letterbox, bounds image.Rectangle, conf, iou float32) []iface.Detection {
	if attrs <= 4 || anchors <= 0 || len(data) < attrs*anchors {
		return nil
	}
	var (
		rects   []image.Rectangle
		scores  []float32
		classes []int
	)
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 4; c < attrs; c++ {
			if s := data[c*anchors+i]; s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if best < 0 || bestScore < conf {
			continue
		}
		cx := float64(data[i])
		cy := float64(data[anchors+i])
		w := float64(data[2*anchors+i])
		h := float64(data[3*anchors+i])
		x0, y0 := lb.toFrame(cx-w/2, cy-h/2)
		x1, y1 := lb.toFrame(cx+w/2, cy+h/2)
		r := image.Rect(int(x0), int(y0), int(x1), int(y1)).Intersect(bounds)
		if r.Empty() {
			continue
		}
		rects = append(rects, r)
		scores = append(scores, bestScore)
		classes = append(classes, best)
	}
	if len(rects) == 0 {
		return nil
	}
	keep := gocv.NMSBoxes(rects, scores, conf, iou)
	dets := make([]iface.Detection, 0, len(keep))
	for _, k := range keep {
		dets = append(dets, iface.Detection{
			ClassID:    classes[k],
			Confidence: scores[k],
			Box:        iface.BBoxFromRect(rects[k]),
		})
	}
	return dets
}
