package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"LowLightDet/config"
	"LowLightDet/enhance"
	iface "LowLightDet/interface"
	"LowLightDet/monitor"
	"LowLightDet/notify"
	"LowLightDet/stream"
	"LowLightDet/worker"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type boxDetector struct{}

func (boxDetector) Detect(img gocv.Mat, _ float32) (gocv.Mat, []iface.Detection, error) {
	return img.Clone(), []iface.Detection{{ClassID: 2, Label: "car", Confidence: 0.8, Box: iface.BBox{XMin: 1, YMin: 1, XMax: 8, YMax: 8}}}, nil
}

func newTestServer(t *testing.T, notifier *notify.Notifier) (*Server, *monitor.Monitor, config.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	cfg := config.Default().Server
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.ProcessedDir = filepath.Join(dir, "processed")

	p, err := enhance.NewPipeline(enhance.Passthrough())
	require.NoError(t, err)
	pool := worker.New(1, zap.NewNop())
	t.Cleanup(func() {
		pool.Close()
		_ = p.Close()
	})
	mon := monitor.New()
	s, err := New(cfg, &stream.Processor{Pipeline: p, Detector: boxDetector{}, Threshold: 0.5}, pool,
		Options{Monitor: mon, Notifier: notifier, Log: zap.NewNop()})
	require.NoError(t, err)
	return s, mon, cfg
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(20, 30, 40, 0), 32, 48, gocv.MatTypeCV8UC3)
	defer img.Close()
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	require.NoError(t, err)
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, w.WriteField("other", "value"))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func doUpload(t *testing.T, h http.Handler, field, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, field, filename, data)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUpload(t *testing.T) {
	var (
		mu  sync.Mutex
		got []notify.Report
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rep notify.Report
		_ = json.NewDecoder(r.Body).Decode(&rep)
		mu.Lock()
		got = append(got, rep)
		mu.Unlock()
	}))
	defer hook.Close()

	s, mon, cfg := newTestServer(t, notify.New(hook.URL, time.Second))
	h := s.Handler()

	rec := doUpload(t, h, "file", "night.PNG", pngBytes(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.OriginalURL, "/images/uploads/"))
	assert.True(t, strings.HasSuffix(resp.OriginalURL, ".png"))
	name := strings.TrimPrefix(resp.OriginalURL, "/images/uploads/")
	assert.Equal(t, "/images/processed/enhanced_"+name, resp.EnhancedURL)
	assert.Equal(t, "/images/processed/detected_"+name, resp.DetectedURL)
	require.Len(t, resp.Detections, 1)
	assert.Equal(t, "car", resp.Detections[0].Label)

	assert.FileExists(t, filepath.Join(cfg.UploadDir, name))
	assert.FileExists(t, filepath.Join(cfg.ProcessedDir, "enhanced_"+name))
	assert.FileExists(t, filepath.Join(cfg.ProcessedDir, "detected_"+name))

	for _, url := range []string{resp.OriginalURL, resp.EnhancedURL, resp.DetectedURL} {
		r := httptest.NewRecorder()
		h.ServeHTTP(r, httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusOK, r.Code, url)
		assert.NotEmpty(t, r.Body.Bytes())
	}
	series, err := testutil.GatherAndCount(mon.Registry(), "lowlight_uploads_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series, "no rejected uploads recorded")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, notify.KindUpload, got[0].Kind)
	assert.Equal(t, map[string]int{"car": 1}, got[0].Counts)
	mu.Unlock()
}

func TestUpload_Rejections(t *testing.T) {
	s, _, cfg := newTestServer(t, nil)
	h := s.Handler()

	cases := []struct {
		name, field, filename string
		data                  []byte
		want                  string
	}{
		{"missing part", "", "", nil, "No file part"},
		{"bad extension", "file", "notes.txt", []byte("hello"), "File type not allowed"},
		{"no extension", "file", "image", pngBytes(t), "File type not allowed"},
		{"undecodable", "file", "broken.jpg", []byte("definitely not a jpeg"), "Invalid image file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doUpload(t, h, tc.field, tc.filename, tc.data)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"`+tc.want+`"}`, rec.Body.String())
		})
	}
	entries, err := os.ReadDir(cfg.ProcessedDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestServeMissingFile(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/processed/nope.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebsocketStream(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	frame := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	var reply FrameReply
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Empty(t, reply.Error)
	assert.Equal(t, 0, reply.Frame)
	require.Len(t, reply.Detections, 1)

	jpg, err := base64.StdEncoding.DecodeString(reply.Composite)
	require.NoError(t, err)
	composite, err := stream.DecodeImage(jpg)
	require.NoError(t, err)
	assert.Equal(t, 144, composite.Cols())
	assert.Equal(t, 32, composite.Rows())
	composite.Close()

	// a corrupt frame is reported and the session stays open
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("!!!")))
	reply = FrameReply{}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Contains(t, reply.Error, "invalid image")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	reply = FrameReply{}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Empty(t, reply.Error)
	assert.Equal(t, 1, reply.Frame)
}

func TestServe_Shutdown(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
