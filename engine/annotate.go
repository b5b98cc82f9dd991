package engine

import (
	"fmt"
	"image"
	"image/color"
	"math"

	iface "LowLightDet/interface"

	"github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"
)

const (
	boxThickness = 2
	fontScale    = 0.5
	fontThick    = 1
)

// ClassColor spreads class ids around the hue wheel by the golden angle so
// neighbouring ids stay distinguishable.
func ClassColor(classID int) color.RGBA {
	hue := math.Mod(float64(classID)*137.508, 360)
	if hue < 0 {
		hue += 360
	}
	r, g, b := colorful.Hsv(hue, 0.8, 0.95).RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Annotate draws each detection's box, label and confidence onto img in place.
func Annotate(img *gocv.Mat, dets []iface.Detection) error {
	for i, det := range dets {
		c := ClassColor(det.ClassID)
		r := det.Box.Rect()
		if err := gocv.Rectangle(img, r, c, boxThickness); err != nil {
			return fmt.Errorf("draw box %d: %w", i, err)
		}

		text := fmt.Sprintf("%s %.2f", det.Label, det.Confidence)
		size := gocv.GetTextSize(text, gocv.FontHersheySimplex, fontScale, fontThick)
		top := r.Min.Y - size.Y - 4
		if top < 0 {
			top = r.Min.Y
		}
		bg := image.Rect(r.Min.X, top, r.Min.X+size.X+4, top+size.Y+4)
		if err := gocv.Rectangle(img, bg, c, -1); err != nil {
			return fmt.Errorf("draw label background %d: %w", i, err)
		}
		if err := gocv.PutText(img, text, image.Pt(r.Min.X+2, top+size.Y+1), gocv.FontHersheySimplex, fontScale, color.RGBA{A: 255}, fontThick); err != nil {
			return fmt.Errorf("draw label %d: %w", i, err)
		}
	}
	return nil
}
