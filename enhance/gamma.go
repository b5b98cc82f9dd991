package enhance

import (
	"fmt"
	"math"

	iface "LowLightDet/interface"

	"gocv.io/x/gocv"
)

// GammaTable builds the 256-entry remapping table[i] = ((i/255)^(1/gamma))*255,
// clamped to [0,255] and truncated to 8 bits. gamma < 1 brightens.
func GammaTable(gamma float64) ([256]uint8, error) {
	var table [256]uint8
	if !(gamma > 0) || math.IsInf(gamma, 0) {
		return table, fmt.Errorf("gamma must be a finite value > 0, got %v", gamma)
	}
	inv := 1.0 / gamma
	for i := range table {
		v := math.Pow(float64(i)/255.0, inv) * 255.0
		// 1e-9 absorbs float error so that gamma 1.0 maps i onto itself
		v = math.Floor(v + 1e-9)
		table[i] = uint8(math.Max(0, math.Min(255, v)))
	}
	return table, nil
}

func newLUT(table [256]uint8) gocv.Mat {
	lut := gocv.NewMatWithSize(1, 256, gocv.MatTypeCV8U)
	for i, v := range table {
		lut.SetUCharAt(0, i, v)
	}
	return lut
}

// applyLUT remaps every channel of src through lut into a new Mat.
func applyLUT(src, lut gocv.Mat) (gocv.Mat, error) {
	dst := gocv.NewMat()
	if err := gocv.LUT(src, lut, &dst); err != nil {
		_ = dst.Close()
		return gocv.NewMat(), fmt.Errorf("apply lut: %w", err)
	}
	return dst, nil
}

// ApplyGamma applies gamma correction through a lookup table.
func ApplyGamma(src gocv.Mat, gamma float64) (gocv.Mat, error) {
	if err := iface.CheckFrame(src); err != nil {
		return gocv.NewMat(), err
	}
	table, err := GammaTable(gamma)
	if err != nil {
		return gocv.NewMat(), err
	}
	lut := newLUT(table)
	defer lut.Close()
	return applyLUT(src, lut)
}
