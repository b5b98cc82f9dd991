package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	iface "LowLightDet/interface"
	"LowLightDet/notify"
	"LowLightDet/stream"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type UploadResponse struct {
	OriginalURL string            `json:"original_url"`
	EnhancedURL string            `json:"enhanced_url"`
	DetectedURL string            `json:"detected_url"`
	Detections  []iface.Detection `json:"detections"`
}

func (s *Server) reject(c *gin.Context, status int, msg string) {
	if s.mon != nil {
		s.mon.Upload(false)
	}
	c.JSON(status, gin.H{"error": msg})
}

func (s *Server) upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		s.reject(c, http.StatusBadRequest, "No file part")
		return
	}
	if file.Filename == "" {
		s.reject(c, http.StatusBadRequest, "No selected file")
		return
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(file.Filename), "."))
	if ext == "" || !s.cfg.Allowed(ext) {
		s.reject(c, http.StatusBadRequest, "File type not allowed")
		return
	}

	name := uuid.NewString() + "." + ext
	originalPath := filepath.Join(s.cfg.UploadDir, name)
	if err := c.SaveUploadedFile(file, originalPath); err != nil {
		s.log.Error("save upload", zap.Error(err))
		s.reject(c, http.StatusInternalServerError, "Failed to save file")
		return
	}
	img, err := stream.LoadImage(originalPath)
	if err != nil {
		_ = os.Remove(originalPath)
		s.reject(c, http.StatusBadRequest, "Invalid image file")
		return
	}
	defer img.Close()

	res, err := s.process(c.Request.Context(), img)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, iface.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		s.log.Error("process upload", zap.String("file", name), zap.Error(err))
		s.reject(c, status, err.Error())
		return
	}
	defer res.Close()

	enhancedName := "enhanced_" + name
	detectedName := "detected_" + name
	if err := stream.SaveImage(filepath.Join(s.cfg.ProcessedDir, enhancedName), res.Enhanced); err != nil {
		s.reject(c, http.StatusInternalServerError, err.Error())
		return
	}
	if err := stream.SaveImage(filepath.Join(s.cfg.ProcessedDir, detectedName), res.Detected); err != nil {
		s.reject(c, http.StatusInternalServerError, err.Error())
		return
	}
	if s.mon != nil {
		s.mon.Upload(true)
		s.mon.FrameProcessed(res.Inference, len(res.Detections))
	}
	if s.notifier.Enabled() {
		report := notify.NewReport(notify.KindUpload, file.Filename, 1, res.Detections, nil)
		go s.notifier.SafeSend(context.Background(), report)
	}
	s.log.Info("upload processed", zap.String("file", name), zap.Int("detections", len(res.Detections)))

	dets := res.Detections
	if dets == nil {
		dets = []iface.Detection{}
	}
	c.JSON(http.StatusOK, UploadResponse{
		OriginalURL: "/images/uploads/" + name,
		EnhancedURL: "/images/processed/" + enhancedName,
		DetectedURL: "/images/processed/" + detectedName,
		Detections:  dets,
	})
}

func (s *Server) serveFrom(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := filepath.Base(c.Param("filename"))
		path := filepath.Join(dir, name)
		if st, err := os.Stat(path); err != nil || st.IsDir() {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		c.File(path)
	}
}
