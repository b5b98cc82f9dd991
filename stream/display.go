package stream

import (
	"image"

	"gocv.io/x/gocv"
)

// Display shows composites to a user. Show reports true when the user asked
// to stop.
type Display interface {
	Show(frame gocv.Mat) (stop bool)
	Close() error
}

// WindowTitle is the title of the preview window.
const WindowTitle = "Low-Light Detection Pipeline (Press 'q' to quit)"

// Window is a highgui preview that downscales every frame before showing it.
type Window struct {
	win   *gocv.Window
	scale float64
	delay int
}

// NewWindow opens a preview window. delay is the WaitKey timeout in ms; 0
// blocks until a key is pressed.
func NewWindow(title string, scale float64, delay int) *Window {
	if scale <= 0 {
		scale = 1
	}
	return &Window{win: gocv.NewWindow(title), scale: scale, delay: delay}
}

func (w *Window) Show(frame gocv.Mat) bool {
	if frame.Empty() {
		return false
	}
	if w.scale == 1 {
		w.win.IMShow(frame)
	} else {
		small := gocv.NewMat()
		size := image.Pt(int(float64(frame.Cols())*w.scale), int(float64(frame.Rows())*w.scale))
		if err := gocv.Resize(frame, &small, size, 0, 0, gocv.InterpolationArea); err != nil || small.Empty() {
			// too small to scale; show it as is
			w.win.IMShow(frame)
		} else {
			w.win.IMShow(small)
		}
		_ = small.Close()
	}
	key := w.win.WaitKey(w.delay)
	return key&0xFF == 'q'
}

func (w *Window) Close() error {
	return w.win.Close()
}
