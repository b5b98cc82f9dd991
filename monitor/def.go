package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"time"

	"LowLightDet/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const sampleInterval = 500 * time.Millisecond

// Monitor owns a private Prometheus registry with pipeline counters and
// process gauges. It satisfies stream.Recorder.
type Monitor struct {
	registry *prometheus.Registry
	proc     *process.Process

	memUsage   prometheus.Gauge
	cpuUsage   prometheus.Gauge
	frames     prometheus.Counter
	skipped    *prometheus.CounterVec
	detections prometheus.Counter
	inference  prometheus.Histogram
	uploads    *prometheus.CounterVec
	GRPCTotal  *prometheus.CounterVec
}

func New() *Monitor {
	m := &Monitor{
		registry: prometheus.NewRegistry(),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lowlight_frames_processed_total",
			Help: "Frames that went through enhance, detect and compose",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lowlight_frames_skipped_total",
			Help: "Frames dropped from a stream, by stage",
		}, []string{"stage"}),
		detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lowlight_detections_total",
			Help: "Detections above the confidence threshold",
		}),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lowlight_inference_seconds",
			Help:    "Detector latency per frame",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lowlight_uploads_total",
			Help: "HTTP uploads by result",
		}, []string{"result"}),
		GRPCTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total number of gRPC requests processed",
		}, []string{"method"}),
	}
	m.registry.MustRegister(m.memUsage, m.cpuUsage, m.frames, m.skipped, m.detections, m.inference, m.uploads, m.GRPCTotal)
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.proc = p
	}
	return m
}

func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Monitor) FrameProcessed(inference time.Duration, detections int) {
	m.frames.Inc()
	m.detections.Add(float64(detections))
	m.inference.Observe(inference.Seconds())
}

func (m *Monitor) FrameSkipped(stage string) {
	m.skipped.WithLabelValues(stage).Inc()
}

func (m *Monitor) Upload(ok bool) {
	if ok {
		m.uploads.WithLabelValues("ok").Inc()
		return
	}
	m.uploads.WithLabelValues("rejected").Inc()
}

func (m *Monitor) GRPCRequest(method string) {
	m.GRPCTotal.WithLabelValues(method).Inc()
}

// CheckProcessInfo refreshes the memory and CPU gauges for this process.
func (m *Monitor) CheckProcessInfo() {
	if m.proc == nil {
		return
	}
	if memInfo, err := m.proc.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpu, err := m.proc.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpu*100) / 100)
	}
}

// StartMon serves /metrics on port and samples process stats until ctx is done.
func (m *Monitor) StartMon(ctx context.Context, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("monitor listen: %w", err)
	}
	return m.Serve(ctx, ln)
}

func (m *Monitor) Serve(ctx context.Context, ln net.Listener) error {
	log := logger.Log().Named("monitor")
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Info("metrics listening", zap.String("addr", ln.Addr().String()))

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	m.CheckProcessInfo()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("metrics shutdown", zap.Error(err))
			}
			return nil
		case err, ok := <-errCh:
			if ok {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		case <-ticker.C:
			m.CheckProcessInfo()
		}
	}
}
