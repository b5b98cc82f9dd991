package enhance

import (
	iface "LowLightDet/interface"

	"gocv.io/x/gocv"
)

// Denoise removes sensor speckle with a joint-channel non-local means filter.
// The result is a new Mat owned by the caller; src is left untouched.
func Denoise(src gocv.Mat) (gocv.Mat, error) {
	if err := iface.CheckFrame(src); err != nil {
		return gocv.NewMat(), err
	}
	dst := gocv.NewMat()
	if err := gocv.FastNlMeansDenoisingColoredWithParams(src, &dst, DenoiseH, DenoiseHColor, DenoiseTemplateWindow, DenoiseSearchWindow); err != nil {
		_ = dst.Close()
		return gocv.NewMat(), err
	}
	return dst, nil
}
