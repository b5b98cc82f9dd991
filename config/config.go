// Package config loads the YAML configuration shared by every command.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"LowLightDet/enhance"
	"LowLightDet/engine"
	iface "LowLightDet/interface"

	"gopkg.in/yaml.v3"
)

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Detector struct {
	ModelPath string   `yaml:"modelPath"`
	NamesFile string   `yaml:"namesFile"`
	Names     []string `yaml:"names"`
	Conf      float32  `yaml:"conf"`
	Iou       float32  `yaml:"iou"`
	InputSize int      `yaml:"inputSize"`
	UseGPU    bool     `yaml:"useGPU"`
}

type Output struct {
	Dir          string  `yaml:"dir"`
	DisplayScale float64 `yaml:"displayScale"`
	Show         bool    `yaml:"show"`
}

type Server struct {
	Host              string   `yaml:"host"`
	HTTPPort          int      `yaml:"httpPort"`
	RPCPort           int      `yaml:"RPCPort"`
	UploadDir         string   `yaml:"uploadDir"`
	ProcessedDir      string   `yaml:"processedDir"`
	AllowedExtensions []string `yaml:"allowedExtensions"`
	WorkersNum        int      `yaml:"workersNum"`
	MaxUploadMB       int      `yaml:"maxUploadMB"`
}

type Monitor struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type Notify struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

type Config struct {
	Log         Log            `yaml:"log"`
	Enhancement enhance.Config `yaml:"enhancement"`
	Detector    Detector       `yaml:"detector"`
	Output      Output         `yaml:"output"`
	Server      Server         `yaml:"server"`
	Monitor     Monitor        `yaml:"monitor"`
	Notify      Notify         `yaml:"notify"`
}

func Default() Config {
	return Config{
		Log:         Log{Level: "info"},
		Enhancement: enhance.DefaultConfig(),
		Detector: Detector{
			ModelPath: "models/yolov8n.onnx",
			Conf:      engine.DefaultThreshold,
			Iou:       0.45,
			InputSize: engine.DefaultInputSize,
		},
		Output: Output{Dir: "outputs", DisplayScale: 0.5, Show: true},
		Server: Server{
			HTTPPort:          5001,
			RPCPort:           50051,
			UploadDir:         "outputs/web_uploads",
			ProcessedDir:      "outputs/web_processed",
			AllowedExtensions: []string{"png", "jpg", "jpeg", "webp"},
			WorkersNum:        1,
			MaxUploadMB:       32,
		},
		Monitor: Monitor{Port: 9090},
		Notify:  Notify{TimeoutMs: 3000},
	}
}

// Load reads path on top of Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if err := c.Enhancement.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Detector.Conf < 0 || c.Detector.Conf > 1 {
		errs = append(errs, fmt.Errorf("detector.conf must be in [0,1], got %v", c.Detector.Conf))
	}
	if c.Detector.Iou < 0 || c.Detector.Iou > 1 {
		errs = append(errs, fmt.Errorf("detector.iou must be in [0,1], got %v", c.Detector.Iou))
	}
	if c.Detector.InputSize <= 0 || c.Detector.InputSize%32 != 0 {
		errs = append(errs, fmt.Errorf("detector.inputSize must be a positive multiple of 32, got %d", c.Detector.InputSize))
	}
	if c.Output.DisplayScale <= 0 {
		errs = append(errs, fmt.Errorf("output.displayScale must be > 0, got %v", c.Output.DisplayScale))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug|info|warn|error", c.Log.Level))
	}
	if c.Server.WorkersNum <= 0 {
		errs = append(errs, fmt.Errorf("server.workersNum must be > 0, got %d", c.Server.WorkersNum))
	}
	return errors.Join(errs...)
}

// EngineConfig resolves the detector section into what the engine loads.
func (c Config) EngineConfig() (iface.EngineConfig, error) {
	names := c.Detector.Names
	if c.Detector.NamesFile != "" {
		n, err := engine.ReadNames(c.Detector.NamesFile)
		if err != nil {
			return iface.EngineConfig{}, fmt.Errorf("%w: %v", iface.ErrModelLoad, err)
		}
		names = n
	}
	if len(names) == 0 {
		names = engine.CocoNames
	}
	return iface.EngineConfig{
		ModelPath: c.Detector.ModelPath,
		Names:     names,
		Conf:      c.Detector.Conf,
		Iou:       c.Detector.Iou,
		InputSize: c.Detector.InputSize,
		UseGPU:    c.Detector.UseGPU,
	}, nil
}

// Allowed reports whether ext (with or without the dot) is an accepted upload type.
func (s Server) Allowed(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range s.AllowedExtensions {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}
