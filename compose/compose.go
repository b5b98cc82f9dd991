// Package compose lays frames out side by side for display and encoding.
package compose

import (
	"errors"
	"fmt"
	"image"

	iface "LowLightDet/interface"

	"gocv.io/x/gocv"
)

// DisplayScale is the downscale applied to composites shown in a window.
const DisplayScale = 0.5

// Layout reports the composite size Compose would produce for frames of the
// given sizes, before and after scaling.
func Layout(scale float64, sizes ...image.Point) (image.Point, error) {
	if len(sizes) < 2 {
		return image.Point{}, errors.New("compose needs at least two frames")
	}
	if scale <= 0 {
		return image.Point{}, fmt.Errorf("scale must be > 0, got %v", scale)
	}
	minH := sizes[0].Y
	for _, s := range sizes {
		if s.X <= 0 || s.Y <= 0 {
			return image.Point{}, iface.ErrInvalidInput
		}
		if s.Y < minH {
			minH = s.Y
		}
	}
	w := 0
	for i, s := range sizes {
		nw := normalizedWidth(s, minH)
		if nw < 1 {
			return image.Point{}, fmt.Errorf("%w: frame %d is %dx%d, narrower than 1px at height %d",
				iface.ErrInvalidInput, i, s.X, s.Y, minH)
		}
		w += nw
	}
	if scale == 1 {
		return image.Pt(w, minH), nil
	}
	out := image.Pt(int(float64(w)*scale), int(float64(minH)*scale))
	if out.X < 1 || out.Y < 1 {
		return image.Point{}, fmt.Errorf("%w: scale %v shrinks %dx%d to %dx%d",
			iface.ErrInvalidInput, scale, w, minH, out.X, out.Y)
	}
	return out, nil
}

func normalizedWidth(s image.Point, h int) int {
	if s.Y == h {
		return s.X
	}
	return s.X * h / s.Y
}

// Compose resizes every frame to the smallest input height, keeping aspect
// ratio, concatenates them left to right in argument order and scales the
// result. Inputs are not modified.
func Compose(scale float64, frames ...gocv.Mat) (gocv.Mat, error) {
	sizes := make([]image.Point, len(frames))
	for i, f := range frames {
		if err := iface.CheckFrame(f); err != nil {
			return gocv.NewMat(), fmt.Errorf("frame %d: %w", i, err)
		}
		sizes[i] = image.Pt(f.Cols(), f.Rows())
	}
	target, err := Layout(scale, sizes...)
	if err != nil {
		return gocv.NewMat(), err
	}
	minH := sizes[0].Y
	for _, s := range sizes {
		minH = min(minH, s.Y)
	}

	parts := make([]gocv.Mat, len(frames))
	defer func() {
		for _, p := range parts {
			_ = p.Close()
		}
	}()
	for i, f := range frames {
		parts[i] = gocv.NewMat()
		if sizes[i].Y == minH {
			if err := f.CopyTo(&parts[i]); err != nil {
				return gocv.NewMat(), fmt.Errorf("copy frame %d: %w", i, err)
			}
			continue
		}
		size := image.Pt(normalizedWidth(sizes[i], minH), minH)
		if err := gocv.Resize(f, &parts[i], size, 0, 0, gocv.InterpolationLinear); err != nil {
			return gocv.NewMat(), fmt.Errorf("resize frame %d: %w", i, err)
		}
	}

	out := parts[0].Clone()
	for i, p := range parts[1:] {
		next := gocv.NewMat()
		err := gocv.Hconcat(out, p, &next)
		_ = out.Close()
		if err != nil {
			_ = next.Close()
			return gocv.NewMat(), fmt.Errorf("concat frame %d: %w", i+1, err)
		}
		out = next
	}
	if scale != 1 {
		scaled := gocv.NewMat()
		err := gocv.Resize(out, &scaled, target, 0, 0, gocv.InterpolationArea)
		_ = out.Close()
		if err != nil {
			_ = scaled.Close()
			return gocv.NewMat(), fmt.Errorf("scale composite: %w", err)
		}
		out = scaled
	}
	if out.Empty() || out.Cols() != target.X || out.Rows() != target.Y {
		got := image.Pt(out.Cols(), out.Rows())
		_ = out.Close()
		return gocv.NewMat(), fmt.Errorf("composite is %v, expected %v", got, target)
	}
	return out, nil
}

// SideBySide is the original | enhanced | detected layout at full size.
func SideBySide(original, enhanced, detected gocv.Mat) (gocv.Mat, error) {
	return Compose(1, original, enhanced, detected)
}
