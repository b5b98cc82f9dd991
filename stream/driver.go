package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	iface "LowLightDet/interface"
	"LowLightDet/logger"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ErrStop may be returned from an Each callback to end the stream early
// without reporting an error.
var ErrStop = errors.New("stop stream")

// DefaultProgressEvery is how often, in frames, progress is logged.
const DefaultProgressEvery = 10

// Recorder receives per-frame observations, typically Prometheus metrics.
type Recorder interface {
	FrameProcessed(inference time.Duration, detections int)
	FrameSkipped(reason string)
}

// Stats summarizes one stream run.
type Stats struct {
	Rate       FrameRate
	Frames     int
	Skipped    int
	Detections int
	Counts     map[string]int
	Cancelled  bool
}

// Driver feeds frames from a Source through a Processor one at a time, in
// source order.
type Driver struct {
	Proc          *Processor
	Display       Display
	Recorder      Recorder
	Log           *zap.Logger
	ProgressEvery int
}

func (d *Driver) logger() *zap.Logger {
	if d.Log != nil {
		return d.Log
	}
	return logger.Log().Named("stream")
}

// Each processes every frame of src and hands the result to fn. The Result is
// closed after fn returns. Corrupt frames are skipped and counted. src is
// closed before Each returns, including on cancellation.
func (d *Driver) Each(ctx context.Context, src Source, fn func(index int, res *Result) error) (st Stats, err error) {
	if src == nil {
		return st, iface.ErrSourceUnavailable
	}
	defer func() {
		err = multierr.Append(err, src.Close())
	}()
	log := d.logger()
	st.Rate = NewFrameRate(src.FPS())
	st.Counts = map[string]int{}
	if st.Rate.Fallback {
		log.Warn("source frame rate unusable, falling back", zap.Float64("reported", st.Rate.Reported), zap.Float64("fps", st.Rate.Value))
	}
	every := d.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}

	frame := gocv.NewMat()
	defer frame.Close()
	read := 0
	for {
		if ctx.Err() != nil {
			st.Cancelled = true
			log.Info("stream cancelled", zap.Int("frames", st.Frames))
			return st, nil
		}
		if !src.Read(&frame) {
			break
		}
		read++
		if read%every == 0 {
			log.Info("processing frame", zap.Int("frame", read))
		}
		res, perr := d.Proc.Process(frame)
		if perr != nil {
			st.Skipped++
			d.skip(log, read, "process", perr)
			continue
		}
		st.Detections += len(res.Detections)
		for _, det := range res.Detections {
			st.Counts[det.Label]++
		}
		if d.Recorder != nil {
			d.Recorder.FrameProcessed(res.Inference, len(res.Detections))
		}
		ferr := fn(st.Frames, res)
		_ = res.Close()
		if errors.Is(ferr, errSkipFrame) {
			st.Skipped++
			d.skip(log, read, "emit", ferr)
			continue
		}
		st.Frames++
		if errors.Is(ferr, ErrStop) {
			st.Cancelled = true
			log.Info("stream stopped by user", zap.Int("frames", st.Frames))
			return st, nil
		}
		if ferr != nil {
			return st, ferr
		}
	}
	log.Info("stream finished",
		zap.Int("frames", st.Frames),
		zap.Int("skipped", st.Skipped),
		zap.Int("detections", st.Detections),
		zap.Float64("fps", st.Rate.Value))
	return st, nil
}

var errSkipFrame = errors.New("frame skipped")

func (d *Driver) skip(log *zap.Logger, frame int, reason string, err error) {
	log.Warn("skipping frame", zap.Int("frame", frame), zap.String("stage", reason), zap.Error(err))
	if d.Recorder != nil {
		d.Recorder.FrameSkipped(reason)
	}
}

// Run writes every composite to a sink opened through open, and to Display
// when one is set. The sink is sized 3*width x height from the source when it
// advertises a size, otherwise from the first composite. Composites that do
// not match the sink size are skipped. Source and sink are always closed.
func (d *Driver) Run(ctx context.Context, src Source, open SinkOpener) (st Stats, err error) {
	if src == nil {
		return st, iface.ErrSourceUnavailable
	}
	var (
		sink       Sink
		sinkW      int
		sinkH      int
		rate       = NewFrameRate(src.FPS())
		srcW, srcH = src.Size()
	)
	defer func() {
		if sink != nil {
			err = multierr.Append(err, sink.Close())
		}
		if d.Display != nil {
			err = multierr.Append(err, d.Display.Close())
		}
	}()
	if srcW > 0 && srcH > 0 {
		sinkW, sinkH = 3*srcW, srcH
		sink, err = open(rate, sinkW, sinkH)
		if err != nil {
			sink = nil
			return st, multierr.Append(fmt.Errorf("%w: %v", iface.ErrSinkUnavailable, err), src.Close())
		}
	}

	return d.Each(ctx, src, func(_ int, res *Result) error {
		c := res.Composite
		if sink == nil {
			sinkW, sinkH = c.Cols(), c.Rows()
			s, oerr := open(rate, sinkW, sinkH)
			if oerr != nil {
				return fmt.Errorf("%w: %v", iface.ErrSinkUnavailable, oerr)
			}
			sink = s
		}
		if c.Cols() != sinkW || c.Rows() != sinkH {
			return fmt.Errorf("%w: composite %dx%d does not match sink %dx%d", errSkipFrame, c.Cols(), c.Rows(), sinkW, sinkH)
		}
		if werr := sink.Write(c); werr != nil {
			return werr
		}
		if d.Display != nil && d.Display.Show(c) {
			return ErrStop
		}
		return nil
	})
}
