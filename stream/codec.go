package stream

import (
	"encoding/base64"
	"fmt"
	"strings"

	iface "LowLightDet/interface"

	"gocv.io/x/gocv"
)

// DecodeImage decodes an encoded image (jpg, png, webp, ...) into a BGR frame.
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: empty image data", iface.ErrInvalidInput)
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", iface.ErrInvalidInput, err)
	}
	if mat.Empty() {
		_ = mat.Close()
		return gocv.NewMat(), fmt.Errorf("%w: decoded image is empty or unsupported format", iface.ErrInvalidInput)
	}
	return mat, nil
}

// DecodeBase64Image accepts raw base64 or a data:image/...;base64, URL.
func DecodeBase64Image(b64 string) (gocv.Mat, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", iface.ErrInvalidInput, err)
	}
	return DecodeImage(data)
}

// EncodeJPEG encodes img as JPEG bytes.
func EncodeJPEG(img gocv.Mat) ([]byte, error) {
	if err := iface.CheckFrame(img); err != nil {
		return nil, err
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
