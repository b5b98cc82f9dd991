package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"LowLightDet/config"
	"LowLightDet/engine"
	"LowLightDet/enhance"
	"LowLightDet/logger"
	"LowLightDet/monitor"
	"LowLightDet/notify"
	"LowLightDet/stream"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// pipelineRuntime is everything a command needs, built once per process.
type pipelineRuntime struct {
	cfg      config.Config
	log      *zap.Logger
	detector *engine.Detector
	pipeline *enhance.Pipeline
	proc     *stream.Processor
	mon      *monitor.Monitor
	notifier *notify.Notifier
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return cfg, err
	}
	if c.IsSet(flagLogLevel) {
		cfg.Log.Level = c.String(flagLogLevel)
	}
	if c.Bool(flagDev) {
		cfg.Log.Development = true
	}
	if c.IsSet(flagModel) {
		cfg.Detector.ModelPath = c.String(flagModel)
	}
	if c.IsSet(flagConf) {
		cfg.Detector.Conf = float32(c.Float64(flagConf))
	}
	if c.Bool(flagGPU) {
		cfg.Detector.UseGPU = true
	}
	if c.IsSet(flagGamma) {
		cfg.Enhancement.GammaVal = c.Float64(flagGamma)
	}
	if c.Bool(flagNoGamma) {
		cfg.Enhancement.UseGamma = false
	}
	if c.Bool(flagNoCLAHE) {
		cfg.Enhancement.UseCLAHE = false
	}
	if c.Bool(flagNoDenoise) {
		cfg.Enhancement.Denoise = false
	}
	if c.Bool(flagMetrics) {
		cfg.Monitor.Enabled = true
	}
	if c.IsSet(flagNotifyURL) {
		cfg.Notify.URL = c.String(flagNotifyURL)
	}
	if c.IsSet(flagOutputDir) {
		cfg.Output.Dir = c.String(flagOutputDir)
	}
	if c.Bool(flagNoShow) {
		cfg.Output.Show = false
	}
	if c.IsSet(flagHost) {
		cfg.Server.Host = c.String(flagHost)
	}
	if c.IsSet(flagPort) {
		cfg.Server.HTTPPort = c.Int(flagPort)
	}
	if c.IsSet(flagRPCPort) {
		cfg.Server.RPCPort = c.Int(flagRPCPort)
	}
	if c.IsSet(flagWorkers) {
		cfg.Server.WorkersNum = c.Int(flagWorkers)
	}
	return cfg, cfg.Validate()
}

// newRuntime loads the model before anything else happens; a model that
// cannot be loaded stops the command.
func newRuntime(c *cli.Context) (*pipelineRuntime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return nil, err
	}
	log := logger.Log()
	log.Info("starting",
		zap.String("command", c.Command.Name),
		zap.Int("cpus", runtime.NumCPU()),
		zap.Strings("stages", cfg.Enhancement.Stages()))

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	detector, err := engine.LoadDetector(engineCfg, log)
	if err != nil {
		return nil, err
	}
	pipeline, err := enhance.NewPipeline(cfg.Enhancement)
	if err != nil {
		detector.Destroy()
		return nil, err
	}
	rt := &pipelineRuntime{
		cfg:      cfg,
		log:      log,
		detector: detector,
		pipeline: pipeline,
		proc:     &stream.Processor{Pipeline: pipeline, Detector: detector, Threshold: cfg.Detector.Conf},
		notifier: notify.New(cfg.Notify.URL, msDuration(cfg.Notify.TimeoutMs)),
	}
	if cfg.Monitor.Enabled {
		rt.mon = monitor.New()
	}
	return rt, nil
}

// startMonitor serves metrics in the background when enabled.
func (rt *pipelineRuntime) startMonitor(ctx context.Context) {
	if rt.mon == nil {
		return
	}
	go func() {
		if err := rt.mon.StartMon(ctx, rt.cfg.Monitor.Port); err != nil && !errors.Is(err, context.Canceled) {
			rt.log.Error("monitor stopped", zap.Error(err))
		}
	}()
}

// recorder avoids handing the driver a typed-nil *monitor.Monitor.
func (rt *pipelineRuntime) recorder() stream.Recorder {
	if rt.mon == nil {
		return nil
	}
	return rt.mon
}

func (rt *pipelineRuntime) Close() error {
	rt.detector.Destroy()
	if err := rt.pipeline.Close(); err != nil {
		return fmt.Errorf("close pipeline: %w", err)
	}
	return nil
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
