package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	rpc "LowLightDet/gRPC"
	"LowLightDet/notify"
	"LowLightDet/server"
	"LowLightDet/stream"
	"LowLightDet/worker"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func firstArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("%s expects exactly one argument: %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return c.Args().First(), nil
}

func imageAction(c *cli.Context) (err error) {
	path, err := firstArg(c)
	if err != nil {
		return err
	}
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rt.Close()) }()
	ctx, cancel := signalContext(c)
	defer cancel()
	rt.startMonitor(ctx)

	rt.log.Info("processing image", zap.String("path", path))
	img, err := stream.LoadImage(path)
	if err != nil {
		return err
	}
	defer img.Close()

	res, err := rt.proc.Process(img)
	if err != nil {
		return err
	}
	defer res.Close()
	if rt.mon != nil {
		rt.mon.FrameProcessed(res.Inference, len(res.Detections))
	}
	for _, d := range res.Detections {
		rt.log.Info("detection", zap.String("label", d.Label), zap.Float32("confidence", d.Confidence), zap.Any("box", d.Box))
	}

	if rt.cfg.Output.Show {
		rt.log.Info("press any key in the window to close and save")
		win := stream.NewWindow("Low-Light Detection", rt.cfg.Output.DisplayScale, 0)
		win.Show(res.Composite)
		_ = win.Close()
	}

	out := stream.OutputPath(rt.cfg.Output.Dir, path)
	if err := stream.SaveImage(out, res.Composite); err != nil {
		return err
	}
	rt.log.Info("saved output", zap.String("path", out))
	rt.notifier.SafeSend(ctx, notify.NewReport(notify.KindImage, path, 1, res.Detections, nil))
	return nil
}

func videoAction(c *cli.Context) (err error) {
	spec, err := firstArg(c)
	if err != nil {
		return err
	}
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rt.Close()) }()
	ctx, cancel := signalContext(c)
	defer cancel()
	rt.startMonitor(ctx)

	rt.log.Info("processing video", zap.String("source", spec))
	src, err := stream.OpenCapture(spec)
	if err != nil {
		return err
	}
	driver := &stream.Driver{
		Proc:     rt.proc,
		Recorder: rt.recorder(),
		Log:      rt.log.Named("stream"),
	}
	if rt.cfg.Output.Show {
		driver.Display = stream.NewWindow(stream.WindowTitle, rt.cfg.Output.DisplayScale, 1)
	}
	out := stream.OutputPath(rt.cfg.Output.Dir, spec)
	st, err := driver.Run(ctx, src, stream.VideoFileSink(out))
	if err != nil {
		return err
	}
	if st.Cancelled {
		rt.log.Info("interrupted by user")
	}
	rt.log.Info("video processing complete",
		zap.String("output", out),
		zap.Int("frames", st.Frames),
		zap.Int("skipped", st.Skipped),
		zap.Stringer("fps", st.Rate))
	rt.notifier.SafeSend(context.Background(), notify.NewReport(notify.KindVideo, spec, st.Frames, nil, st.Counts))
	return nil
}

func serveAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rt.Close()) }()
	ctx, cancel := signalContext(c)
	defer cancel()
	rt.startMonitor(ctx)

	pool := worker.New(rt.cfg.Server.WorkersNum, rt.log)
	defer pool.Close()

	httpSrv, err := server.New(rt.cfg.Server, rt.proc, pool, server.Options{
		Monitor:  rt.mon,
		Notifier: rt.notifier,
		Log:      rt.log,
	})
	if err != nil {
		return err
	}
	rpcSrv := rpc.NewServer(rt.proc, pool, rt.detector, rt.mon, rt.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpSrv.ListenAndServe(gctx, rt.cfg.Server.Host, rt.cfg.Server.HTTPPort)
	})
	g.Go(func() error {
		return rpcSrv.ListenAndServe(gctx, rt.cfg.Server.Host, rt.cfg.Server.RPCPort)
	})
	rt.log.Info("serving",
		zap.Int("httpPort", rt.cfg.Server.HTTPPort),
		zap.Int("grpcPort", rt.cfg.Server.RPCPort),
		zap.Int("workers", rt.cfg.Server.WorkersNum))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	rt.log.Info("safely exited")
	return nil
}
