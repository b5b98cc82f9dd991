package engine

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"

	iface "LowLightDet/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gocv.io/x/gocv"
)

type MockBackend struct {
	mu       sync.Mutex
	cfg      iface.EngineConfig
	dets     []iface.Detection
	err      error
	loadErr  error
	calls    int
	inFlight int
	overlap  bool
	destroys int
	cpuOnly  bool
}

func (m *MockBackend) LoadModel(cfg iface.EngineConfig) error {
	if m.loadErr != nil {
		return m.loadErr
	}
	if m.cpuOnly {
		cfg.UseGPU = false
	}
	m.cfg = cfg
	return nil
}

func (m *MockBackend) Infer(img gocv.Mat) ([]iface.Detection, error) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > 1 {
		m.overlap = true
	}
	m.calls++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()
	return append([]iface.Detection(nil), m.dets...), m.err
}

func (m *MockBackend) Destroy()                        { m.destroys++ }
func (m *MockBackend) CheckConfig() iface.EngineConfig { return m.cfg }
func (m *MockBackend) SetInputSize(size int)           { m.cfg.InputSize = size }

func grayFrame(t *testing.T, w, h int) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), h, w, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func loadedDetector(t *testing.T, backend *MockBackend) *Detector {
	t.Helper()
	d := NewDetector(backend, zap.NewNop())
	require.NoError(t, d.Load(iface.EngineConfig{
		ModelPath: "model/test_model.onnx",
		Names:     []string{"person", "car", "bicycle"},
		Conf:      0.25,
		Iou:       0.45,
	}))
	return d
}

func TestDetector_All(t *testing.T) {
	backend := &MockBackend{dets: []iface.Detection{
		{ClassID: 0, Confidence: 0.9, Box: iface.BBox{XMin: 10, YMin: 10, XMax: 60, YMax: 80}},
		{ClassID: 1, Confidence: 0.5, Box: iface.BBox{XMin: 100, YMin: 20, XMax: 150, YMax: 70}},
		{ClassID: 2, Confidence: 0.3, Box: iface.BBox{XMin: 5, YMin: 90, XMax: 40, YMax: 110}},
	}}
	d := NewDetector(backend, zap.NewNop())

	t.Run("Test NotLoaded", func(t *testing.T) {
		assert.Equal(t, REGISTERED, d.State())
		img := grayFrame(t, 200, 120)
		_, _, err := d.Detect(img, DefaultThreshold)
		assert.Error(t, err)
	})

	t.Run("Test Load", func(t *testing.T) {
		require.NoError(t, d.Load(iface.EngineConfig{
			ModelPath: "model/test_model.onnx",
			Names:     []string{"person", "car", "bicycle"},
			Conf:      0.25,
			Iou:       0.45,
		}))
		assert.Equal(t, IDLE, d.State())
	})

	t.Run("Test CheckConfig", func(t *testing.T) {
		cfg := d.CheckConfig()
		assert.Equal(t, "model/test_model.onnx", cfg.ModelPath)
		assert.Equal(t, float32(0.25), cfg.Conf)
		assert.Equal(t, float32(0.45), cfg.Iou)
		assert.Equal(t, DefaultInputSize, cfg.InputSize)
		assert.False(t, cfg.UseGPU)
		assert.Equal(t, []string{"person", "car", "bicycle"}, cfg.Names)
	})

	t.Run("Test SetInputSize", func(t *testing.T) {
		d.SetInputSize(1280)
		assert.Equal(t, 1280, d.CheckConfig().InputSize)
		assert.Equal(t, 1280, backend.cfg.InputSize)
		d.SetInputSize(0)
		assert.Equal(t, 1280, d.CheckConfig().InputSize)
	})

	t.Run("Test Detect", func(t *testing.T) {
		img := grayFrame(t, 200, 120)
		annotated, dets, err := d.Detect(img, DefaultThreshold)
		require.NoError(t, err)
		defer annotated.Close()

		require.Len(t, dets, 2)
		assert.Equal(t, "person", dets[0].Label)
		assert.Equal(t, "car", dets[1].Label)
		assert.Equal(t, float32(0.5), dets[1].Confidence)
		assert.Equal(t, img.Rows(), annotated.Rows())
		assert.Equal(t, img.Cols(), annotated.Cols())
		assert.NotEqual(t, img.ToBytes(), annotated.ToBytes())
		assert.Equal(t, uint8(128), img.GetUCharAt(15, 30), "input must not be drawn on")
	})

	t.Run("Test Threshold", func(t *testing.T) {
		img := grayFrame(t, 200, 120)
		annotated, dets, err := d.Detect(img, 0)
		require.NoError(t, err)
		annotated.Close()
		assert.Len(t, dets, 3)

		_, _, err = d.Detect(img, 1.5)
		assert.Error(t, err)
	})

	t.Run("Test Destroy", func(t *testing.T) {
		d.Destroy()
		assert.Equal(t, UNREGISTERED, d.State())
		assert.Equal(t, 1, backend.destroys)
		_, _, err := d.Detect(grayFrame(t, 10, 10), DefaultThreshold)
		assert.Error(t, err)
	})
}

func TestDetector_NoObjectsIsIdentity(t *testing.T) {
	d := loadedDetector(t, &MockBackend{})
	img := grayFrame(t, 64, 48)

	annotated, dets, err := d.Detect(img, DefaultThreshold)
	require.NoError(t, err)
	defer annotated.Close()

	assert.Empty(t, dets)
	assert.NotEqual(t, img.Ptr(), annotated.Ptr())
	assert.Equal(t, img.ToBytes(), annotated.ToBytes())
}

func TestDetector_InvalidInput(t *testing.T) {
	backend := &MockBackend{}
	d := loadedDetector(t, backend)

	empty := gocv.NewMat()
	defer empty.Close()
	_, _, err := d.Detect(empty, DefaultThreshold)
	assert.ErrorIs(t, err, iface.ErrInvalidInput)

	gray := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8U)
	defer gray.Close()
	_, _, err = d.Detect(gray, DefaultThreshold)
	assert.ErrorIs(t, err, iface.ErrInvalidInput)

	assert.Equal(t, 0, backend.calls)
}

func TestDetector_InferError(t *testing.T) {
	d := loadedDetector(t, &MockBackend{err: errors.New("boom")})
	_, _, err := d.Detect(grayFrame(t, 20, 20), DefaultThreshold)
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, IDLE, d.State())
}

func TestDetector_LoadFailure(t *testing.T) {
	d := NewDetector(&MockBackend{loadErr: errors.New("corrupt")}, zap.NewNop())
	err := d.Load(iface.EngineConfig{ModelPath: "x.onnx"})
	assert.ErrorIs(t, err, iface.ErrModelLoad)
	assert.Equal(t, REGISTERED, d.State())
}

func TestDetector_SerializesInference(t *testing.T) {
	backend := &MockBackend{}
	d := loadedDetector(t, backend)
	img := grayFrame(t, 32, 32)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _, err := d.Detect(img, DefaultThreshold)
			if err == nil {
				out.Close()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, backend.calls)
	assert.False(t, backend.overlap)
}

func TestLoadDetector_MissingModel(t *testing.T) {
	_, err := LoadDetector(iface.EngineConfig{ModelPath: filepath.Join(t.TempDir(), "missing.onnx")}, zap.NewNop())
	assert.ErrorIs(t, err, iface.ErrModelLoad)

	_, err = LoadDetector(iface.EngineConfig{}, zap.NewNop())
	assert.ErrorIs(t, err, iface.ErrModelLoad)
}

func TestLoadDetector_CorruptModel(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.onnx")
	require.NoError(t, os.WriteFile(bad, []byte("not a model"), 0o644))

	_, err := LoadDetector(iface.EngineConfig{ModelPath: bad}, zap.NewNop())
	assert.ErrorIs(t, err, iface.ErrModelLoad)

	wrongExt := filepath.Join(dir, "model.param")
	require.NoError(t, os.WriteFile(wrongExt, []byte("x"), 0o644))
	_, err = LoadDetector(iface.EngineConfig{ModelPath: wrongExt}, zap.NewNop())
	assert.ErrorIs(t, err, iface.ErrModelLoad)
}

func TestCounts(t *testing.T) {
	counts := Counts([]iface.Detection{{Label: "car"}, {Label: "person"}, {Label: "car"}})
	assert.Equal(t, map[string]int{"car": 2, "person": 1}, counts)
	assert.Empty(t, Counts(nil))
}

func TestDecodeYOLOv8(t *testing.T) {
	// 3 anchors, 2 classes: rows are cx, cy, w, h, score0, score1.
	const anchors = 3
	data := []float32{
		100, 102, 500, // cx
		100, 100, 500, // cy
		40, 40, 20, // w
		40, 40, 20, // h
		0.9, 0.8, 0.1, // class 0
		0.05, 0.1, 0.2, // class 1
	}
	bounds := image.Rect(0, 0, 320, 320)
	// network input is twice the frame size, no padding
	dets := decodeYOLOv8(data, 6, anchors, letterbox{Scale: 2}, bounds, 0.25, 0.45)

	// anchor 1 overlaps anchor 0 and is suppressed, anchor 2 is below conf.
	require.Len(t, dets, 1)
	assert.Equal(t, 0, dets[0].ClassID)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Equal(t, iface.BBox{XMin: 40, YMin: 40, XMax: 60, YMax: 60}, dets[0].Box)

	assert.Nil(t, decodeYOLOv8(data, 4, anchors, letterbox{Scale: 1}, bounds, 0.25, 0.45))
	assert.Nil(t, decodeYOLOv8(data[:5], 6, anchors, letterbox{Scale: 1}, bounds, 0.25, 0.45))
}

func TestLetterbox(t *testing.T) {
	// 16:9 frame into a 640 square: scaled to 640x360, 140px bars top and bottom.
	lb := newLetterbox(1280, 720, 640)
	assert.InDelta(t, 0.5, lb.Scale, 1e-9)
	assert.Equal(t, 640, lb.W)
	assert.Equal(t, 360, lb.H)
	assert.Equal(t, 0.0, lb.PadX)
	assert.Equal(t, 140.0, lb.PadY)

	x, y := lb.toFrame(320, 320)
	assert.InDelta(t, 640, x, 1e-9)
	assert.InDelta(t, 360, y, 1e-9)

	// portrait frames pad left and right
	lb = newLetterbox(360, 640, 320)
	assert.Equal(t, 180, lb.W)
	assert.Equal(t, 320, lb.H)
	assert.Equal(t, 70.0, lb.PadX)
	assert.Equal(t, 0.0, lb.PadY)
}

func TestDecodeYOLOv8_Letterboxed(t *testing.T) {
	// one anchor centred in a 640 input, 40x40, for a 1280x720 frame
	data := []float32{320, 320, 40, 40, 0.8}
	lb := newLetterbox(1280, 720, 640)
	dets := decodeYOLOv8(data, 5, 1, lb, image.Rect(0, 0, 1280, 720), 0.25, 0.45)
	require.Len(t, dets, 1)
	assert.Equal(t, iface.BBox{XMin: 600, YMin: 320, XMax: 680, YMax: 400}, dets[0].Box)

	// a box entirely inside the padding maps outside the frame and is dropped
	data = []float32{320, 40, 40, 40, 0.8}
	assert.Empty(t, decodeYOLOv8(data, 5, 1, lb, image.Rect(0, 0, 1280, 720), 0.25, 0.45))
}

type fakeTarget struct {
	cudaErr  error
	backends []gocv.NetBackendType
	targets  []gocv.NetTargetType
}

func (f *fakeTarget) SetPreferableBackend(b gocv.NetBackendType) error {
	f.backends = append(f.backends, b)
	if b == gocv.NetBackendCUDA {
		return f.cudaErr
	}
	return nil
}

func (f *fakeTarget) SetPreferableTarget(tg gocv.NetTargetType) error {
	f.targets = append(f.targets, tg)
	return nil
}

func TestSelectTarget(t *testing.T) {
	t.Run("CPU", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		f := &fakeTarget{}
		assert.False(t, selectTarget(f, false, zap.New(core)))
		assert.Equal(t, []gocv.NetBackendType{gocv.NetBackendDefault}, f.backends)
		assert.Equal(t, []gocv.NetTargetType{gocv.NetTargetCPU}, f.targets)
		assert.Zero(t, logs.Len())
	})
	t.Run("CUDA", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		f := &fakeTarget{}
		assert.True(t, selectTarget(f, true, zap.New(core)))
		assert.Equal(t, []gocv.NetTargetType{gocv.NetTargetCUDA}, f.targets)
		assert.Zero(t, logs.Len())
	})
	t.Run("CUDAFallsBackWithWarning", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		f := &fakeTarget{cudaErr: errors.New("no CUDA-capable device")}
		assert.False(t, selectTarget(f, true, zap.New(core)))
		assert.Equal(t, []gocv.NetBackendType{gocv.NetBackendCUDA, gocv.NetBackendDefault}, f.backends)
		assert.Equal(t, []gocv.NetTargetType{gocv.NetTargetCPU}, f.targets)
		require.Equal(t, 1, logs.Len())
		assert.Contains(t, logs.All()[0].Message, "CUDA unavailable")
	})
}

func TestDetector_LoadReportsBackendGPU(t *testing.T) {
	backend := &MockBackend{cpuOnly: true}
	d := NewDetector(backend, zap.NewNop())
	require.NoError(t, d.Load(iface.EngineConfig{ModelPath: "model/test_model.onnx", UseGPU: true}))
	assert.False(t, d.CheckConfig().UseGPU)
}

func TestReadNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.txt")
	require.NoError(t, os.WriteFile(path, []byte("person\r\ncar\n\nbicycle\n"), 0o644))
	names, err := ReadNames(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "car", "bicycle"}, names)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	_, err = ReadNames(empty)
	assert.Error(t, err)

	assert.Len(t, CocoNames, 80)
	assert.Equal(t, "class 99", labelFor(CocoNames, 99))
}

func TestClassColor(t *testing.T) {
	a, b := ClassColor(0), ClassColor(1)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ClassColor(0))
	assert.Equal(t, uint8(255), a.A)
}
