package stream

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	iface "LowLightDet/interface"

	"gocv.io/x/gocv"
)

// Source yields frames in order. Read returns false at end of stream.
type Source interface {
	Read(dst *gocv.Mat) bool
	FPS() float64
	// Size is the frame size the source advertises, or zeros when unknown.
	Size() (width, height int)
	Close() error
}

// Sink consumes composite frames.
type Sink interface {
	Write(frame gocv.Mat) error
	Close() error
}

// SinkOpener opens a sink for frames of width x height at rate.
type SinkOpener func(rate FrameRate, width, height int) (Sink, error)

// WebcamSpec selects the default camera.
const WebcamSpec = "0"

type captureSource struct {
	cap  *gocv.VideoCapture
	name string
}

// OpenCapture opens a video file, or a camera when spec is a device index.
func OpenCapture(spec string) (Source, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if id, convErr := strconv.Atoi(spec); convErr == nil {
		vc, err = gocv.OpenVideoCapture(id)
	} else {
		if _, statErr := os.Stat(spec); statErr != nil {
			return nil, fmt.Errorf("%w: %v", iface.ErrSourceUnavailable, statErr)
		}
		vc, err = gocv.OpenVideoCapture(spec)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", iface.ErrSourceUnavailable, spec, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("%w: could not open %s", iface.ErrSourceUnavailable, spec)
	}
	return &captureSource{cap: vc, name: spec}, nil
}

func (c *captureSource) Read(dst *gocv.Mat) bool { return c.cap.Read(dst) }
func (c *captureSource) FPS() float64            { return c.cap.Get(gocv.VideoCaptureFPS) }
func (c *captureSource) Size() (int, int) {
	return int(c.cap.Get(gocv.VideoCaptureFrameWidth)), int(c.cap.Get(gocv.VideoCaptureFrameHeight))
}
func (c *captureSource) Close() error { return c.cap.Close() }

type videoSink struct {
	w *gocv.VideoWriter
}

func (s *videoSink) Write(frame gocv.Mat) error { return s.w.Write(frame) }
func (s *videoSink) Close() error               { return s.w.Close() }

// Codec is the fourcc used for file output.
const Codec = "mp4v"

// VideoFileSink returns an opener writing an mp4v file at path, creating the
// parent directory.
func VideoFileSink(path string) SinkOpener {
	return func(rate FrameRate, width, height int) (Sink, error) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", iface.ErrSinkUnavailable, err)
		}
		vw, err := gocv.VideoWriterFile(path, Codec, rate.Value, width, height, true)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", iface.ErrSinkUnavailable, path, err)
		}
		if !vw.IsOpened() {
			_ = vw.Close()
			return nil, fmt.Errorf("%w: could not open %s", iface.ErrSinkUnavailable, path)
		}
		return &videoSink{w: vw}, nil
	}
}

// OutputPath names the result file for input inside dir. The webcam gets
// result_webcam.mp4.
func OutputPath(dir, input string) string {
	base := filepath.Base(strings.TrimRight(input, `/\`))
	if input == WebcamSpec {
		base = "webcam.mp4"
	}
	return filepath.Join(dir, "result_"+base)
}

// LoadImage reads a color image from disk.
func LoadImage(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		_ = img.Close()
		return gocv.NewMat(), fmt.Errorf("%w: could not read image %s", iface.ErrInvalidInput, path)
	}
	return img, nil
}

// SaveImage writes img to path, creating parent directories.
func SaveImage(path string, img gocv.Mat) error {
	if err := iface.CheckFrame(img); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if !gocv.IMWrite(path, img) {
		return fmt.Errorf("could not write %s", path)
	}
	return nil
}
