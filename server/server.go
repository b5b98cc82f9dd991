// Package server exposes the pipeline over HTTP: image upload, processed file
// serving and a websocket endpoint for live frames.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"LowLightDet/config"
	"LowLightDet/logger"
	"LowLightDet/monitor"
	"LowLightDet/notify"
	"LowLightDet/stream"
	"LowLightDet/worker"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type Server struct {
	cfg      config.Server
	proc     *stream.Processor
	pool     *worker.Pool
	mon      *monitor.Monitor
	notifier *notify.Notifier
	log      *zap.Logger
	engine   *gin.Engine
}

// Options carries the optional collaborators. Monitor and Notifier may be nil.
type Options struct {
	Monitor  *monitor.Monitor
	Notifier *notify.Notifier
	Log      *zap.Logger
}

// New prepares the upload directories and routes. proc and pool are shared
// with the other front ends of the process.
func New(cfg config.Server, proc *stream.Processor, pool *worker.Pool, opts Options) (*Server, error) {
	for _, dir := range []string{cfg.UploadDir, cfg.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	log := opts.Log
	if log == nil {
		log = logger.Log()
	}
	s := &Server{
		cfg:      cfg,
		proc:     proc,
		pool:     pool,
		mon:      opts.Monitor,
		notifier: opts.Notifier,
		log:      log.Named("http"),
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	if s.cfg.MaxUploadMB > 0 {
		r.MaxMultipartMemory = int64(s.cfg.MaxUploadMB) << 20
	}
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.POST("/upload", s.upload)
	r.GET("/images/uploads/:filename", s.serveFrom(s.cfg.UploadDir))
	r.GET("/images/processed/:filename", s.serveFrom(s.cfg.ProcessedDir))
	r.GET("/ws/stream", s.wsStream)
	return r
}

// Handler is the gin router behind a permissive CORS policy, so a browser
// frontend on another port can call it.
func (s *Server) Handler() http.Handler {
	return cors.AllowAll().Handler(s.engine)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// process runs the shared Processor on a pool worker.
func (s *Server) process(ctx context.Context, img gocv.Mat) (*stream.Result, error) {
	var res *stream.Result
	err := s.pool.Do(ctx, func() error {
		var perr error
		res, perr = s.proc.Process(img)
		return perr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Serve runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("http listening", zap.String("addr", ln.Addr().String()))
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
