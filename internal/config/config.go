// Package config loads and validates the slamviz runtime configuration.
//
// The file format is YAML (JSON files are accepted too, being valid YAML).
// Fields omitted from the file keep the values from Default, so partial
// configs are safe.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Generation strategies.
const (
	StrategyUniform = "uniform"
	StrategyScene   = "scene"
)

// Point cloud timestamp policies.
const (
	StampPose = "pose"
	StampZero = "zero"
)

// DefaultPort is the Foxglove WebSocket port.
const DefaultPort = 8765

// maxFileSize bounds config files.
const maxFileSize = 1 * 1024 * 1024

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Generator GeneratorConfig `yaml:"generator"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Recorder  RecorderConfig  `yaml:"recorder"`
}

// LogConfig selects the structured logger output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ServerConfig configures the bundled transport.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Name string `yaml:"name"`

	// GRPCAddr enables the gRPC front-end when non-empty (e.g. "localhost:50051").
	GRPCAddr string `yaml:"grpc_addr"`

	// SendBuffer is the per-client outbound queue length.
	SendBuffer int `yaml:"send_buffer"`

	// MaxClients caps concurrent clients across front-ends (0 = unlimited).
	MaxClients int `yaml:"max_clients"`
}

// GeneratorConfig configures the trajectory generator.
type GeneratorConfig struct {
	Strategy             string        `yaml:"strategy"`
	Interval             time.Duration `yaml:"interval"`
	Seed                 int64         `yaml:"seed"` // 0 seeds from the clock
	NormalizeOrientation bool          `yaml:"normalize_orientation"`

	// Trajectory overrides the strategy's preset when set.
	Trajectory *TrajectoryConfig `yaml:"trajectory,omitempty"`

	Uniform UniformConfig `yaml:"uniform"`
	Scene   SceneConfig   `yaml:"scene"`
}

// TrajectoryConfig holds the parametric trajectory constants.
type TrajectoryConfig struct {
	Radius       float64 `yaml:"radius"`
	AngularRate  float64 `yaml:"angular_rate"`
	BaseHeight   float64 `yaml:"base_height"`
	Amplitude    float64 `yaml:"amplitude"`
	VerticalRate float64 `yaml:"vertical_rate"`
	YawRate      float64 `yaml:"yaw_rate"`
}

// UniformConfig configures the uniform-volume point strategy.
type UniformConfig struct {
	Count      int     `yaml:"count"`
	HalfExtent float64 `yaml:"half_extent"`
}

// SceneConfig configures the structured-scene point strategy.
type SceneConfig struct {
	FloorPoints     int `yaml:"floor_points"`
	CeilingPoints   int `yaml:"ceiling_points"`
	WallPoints      int `yaml:"wall_points"` // per wall, four walls
	FurniturePoints int `yaml:"furniture_points"`
	SpherePoints    int `yaml:"sphere_points"`
}

// BridgeConfig configures the broadcast scheduler.
type BridgeConfig struct {
	Interval            time.Duration `yaml:"interval"`
	MapFrame            string        `yaml:"map_frame"`
	BaseFrame           string        `yaml:"base_frame"`
	PointCloudTimestamp string        `yaml:"pointcloud_timestamp"` // pose or zero
}

// RecorderConfig configures the optional pose history database.
type RecorderConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       DefaultPort,
			Name:       "SLAM Foxglove Bridge",
			SendBuffer: 64,
		},
		Generator: GeneratorConfig{
			Strategy:             StrategyUniform,
			Interval:             100 * time.Millisecond,
			NormalizeOrientation: true,
			Uniform:              UniformConfig{Count: 500, HalfExtent: 10},
			Scene: SceneConfig{
				FloorPoints:     400,
				CeilingPoints:   400,
				WallPoints:      150,
				FurniturePoints: 200,
				SpherePoints:    200,
			},
		},
		Bridge: BridgeConfig{
			Interval:            100 * time.Millisecond,
			MapFrame:            "map",
			BaseFrame:           "base_link",
			PointCloudTimestamp: StampPose,
		},
		Recorder: RecorderConfig{
			Path:     "trajectory.db",
			Interval: time.Second,
		},
	}
}

// Load reads a config file on top of Default and validates the result.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	switch ext := filepath.Ext(cleanPath); ext {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("config file must have .yaml, .yml or .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes on top of Default and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port must be between 0 and 65535, got %d", ErrInvalid, c.Server.Port)
	}
	if c.Server.SendBuffer <= 0 {
		return fmt.Errorf("%w: server.send_buffer must be positive, got %d", ErrInvalid, c.Server.SendBuffer)
	}
	if c.Server.MaxClients < 0 {
		return fmt.Errorf("%w: server.max_clients must be non-negative, got %d", ErrInvalid, c.Server.MaxClients)
	}

	switch c.Generator.Strategy {
	case StrategyUniform:
		if c.Generator.Uniform.Count <= 0 {
			return fmt.Errorf("%w: generator.uniform.count must be positive, got %d", ErrInvalid, c.Generator.Uniform.Count)
		}
		if c.Generator.Uniform.HalfExtent <= 0 {
			return fmt.Errorf("%w: generator.uniform.half_extent must be positive, got %f", ErrInvalid, c.Generator.Uniform.HalfExtent)
		}
	case StrategyScene:
		s := c.Generator.Scene
		if s.FloorPoints < 0 || s.CeilingPoints < 0 || s.WallPoints < 0 || s.FurniturePoints < 0 || s.SpherePoints < 0 {
			return fmt.Errorf("%w: generator.scene point counts must be non-negative", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: generator.strategy must be %q or %q, got %q", ErrInvalid, StrategyUniform, StrategyScene, c.Generator.Strategy)
	}
	if c.Generator.Interval <= 0 {
		return fmt.Errorf("%w: generator.interval must be positive, got %s", ErrInvalid, c.Generator.Interval)
	}
	if t := c.Generator.Trajectory; t != nil && t.Radius < 0 {
		return fmt.Errorf("%w: generator.trajectory.radius must be non-negative, got %f", ErrInvalid, t.Radius)
	}

	if c.Bridge.Interval <= 0 {
		return fmt.Errorf("%w: bridge.interval must be positive, got %s", ErrInvalid, c.Bridge.Interval)
	}
	if c.Bridge.MapFrame == "" || c.Bridge.BaseFrame == "" {
		return fmt.Errorf("%w: bridge.map_frame and bridge.base_frame are required", ErrInvalid)
	}
	switch c.Bridge.PointCloudTimestamp {
	case StampPose, StampZero:
	default:
		return fmt.Errorf("%w: bridge.pointcloud_timestamp must be %q or %q, got %q", ErrInvalid, StampPose, StampZero, c.Bridge.PointCloudTimestamp)
	}

	if c.Recorder.Enabled {
		if c.Recorder.Path == "" {
			return fmt.Errorf("%w: recorder.path is required when the recorder is enabled", ErrInvalid)
		}
		if c.Recorder.Interval <= 0 {
			return fmt.Errorf("%w: recorder.interval must be positive, got %s", ErrInvalid, c.Recorder.Interval)
		}
	}

	return nil
}

// ListenAddr returns the host:port the transport binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ScenePointCount is the exact number of points the scene strategy emits.
func (s SceneConfig) ScenePointCount() int {
	return s.FloorPoints + s.CeilingPoints + 4*s.WallPoints + s.FurniturePoints + s.SpherePoints
}
