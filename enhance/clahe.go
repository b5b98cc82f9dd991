package enhance

import (
	"fmt"
	"image"

	iface "LowLightDet/interface"

	"gocv.io/x/gocv"
)

// equalizeLuminance converts src to Lab, runs clahe over the L channel only
// and converts back. a and b are merged back untouched so hues do not shift.
func equalizeLuminance(src gocv.Mat, clahe *gocv.CLAHE) (gocv.Mat, error) {
	lab := gocv.NewMat()
	defer lab.Close()
	if err := gocv.CvtColor(src, &lab, gocv.ColorBGRToLab); err != nil {
		return gocv.NewMat(), fmt.Errorf("to lab: %w", err)
	}

	channels := gocv.Split(lab)
	defer func() {
		for _, c := range channels {
			_ = c.Close()
		}
	}()

	if len(channels) != 3 {
		return gocv.NewMat(), fmt.Errorf("lab split gave %d channels", len(channels))
	}

	l := gocv.NewMat()
	if err := clahe.Apply(channels[0], &l); err != nil {
		_ = l.Close()
		return gocv.NewMat(), fmt.Errorf("clahe: %w", err)
	}
	_ = channels[0].Close()
	channels[0] = l

	merged := gocv.NewMat()
	defer merged.Close()
	if err := gocv.Merge(channels, &merged); err != nil {
		return gocv.NewMat(), fmt.Errorf("merge lab: %w", err)
	}

	dst := gocv.NewMat()
	if err := gocv.CvtColor(merged, &dst, gocv.ColorLabToBGR); err != nil {
		_ = dst.Close()
		return gocv.NewMat(), fmt.Errorf("from lab: %w", err)
	}
	return dst, nil
}

// ApplyCLAHE runs contrast limited adaptive histogram equalization on the
// luminance of src. tiles is the grid size as columns x rows.
func ApplyCLAHE(src gocv.Mat, clipLimit float64, tiles image.Point) (gocv.Mat, error) {
	if err := iface.CheckFrame(src); err != nil {
		return gocv.NewMat(), err
	}
	if !(clipLimit > 0) || tiles.X <= 0 || tiles.Y <= 0 {
		return gocv.NewMat(), fmt.Errorf("invalid clahe parameters: clip %v, tiles %v", clipLimit, tiles)
	}
	clahe := gocv.NewCLAHEWithParams(clipLimit, tiles)
	defer clahe.Close()
	return equalizeLuminance(src, &clahe)
}
