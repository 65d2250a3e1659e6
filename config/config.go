// Package config loads the YAML configuration files of the client, server
// and scheduler binaries.
//
// Values are resolved in order: built-in defaults, the YAML file, then
// RENDERCAST_* environment variables (optionally read from a .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/rendercast/av"
	"github.com/opd-ai/rendercast/limits"
	"github.com/opd-ai/rendercast/transport"
)

// ErrInvalid indicates a configuration value outside its allowed range.
var ErrInvalid = errors.New("invalid configuration")

// Seconds is a duration written as fractional seconds in YAML.
type Seconds float64

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// NetworkConfig holds socket options shared by client and server.
type NetworkConfig struct {
	InboundQueueSize int `yaml:"inbound_queue_size"`
	DSCP             int `yaml:"dscp"`
}

// BasicConfig is the client's stream shape.
type BasicConfig struct {
	Width       int `yaml:"width"`
	Height      int `yaml:"height"`
	GameVersion int `yaml:"game_version"`
	MTU         int `yaml:"mtu"`
	FrameRate   int `yaml:"frame_rate"`
	BufferSize  int `yaml:"buffer_size"`
}

// DelayControlConfig tunes the adaptive display delay.
type DelayControlConfig struct {
	HistoryLength          int     `yaml:"history_length"`
	SessionHistoryLength   int     `yaml:"session_history_length"`
	DelayAdjustPeriod      int     `yaml:"delay_adjust_period"`
	LengthenDelayThreshold float64 `yaml:"lengthen_delay_threshold"`
	ShortenDelayThreshold  float64 `yaml:"shorten_delay_threshold"`
	DelayIncrementMs       int     `yaml:"delay_increment_ms"`
	SatisfyingDelayMs      int     `yaml:"satisfying_delay_ms"`
}

// ServerFindingConfig tunes discovery and session health.
type ServerFindingConfig struct {
	ScheduleServerHost          string  `yaml:"schedule_server_host"`
	RequestPeriod               Seconds `yaml:"request_period"`
	RequestTimeoutMs            int     `yaml:"request_timeout_ms"`
	TargetServerCount           int     `yaml:"target_server_count"`
	ServerOnTimeRateRequirement float64 `yaml:"server_on_time_rate_requirement"`
	TimeToKillServer            Seconds `yaml:"time_to_kill_server"`
}

// TestingConfig holds diagnostics settings.
type TestingConfig struct {
	StatsPeriod Seconds `yaml:"stats_period"`
}

// ClientConfig is the rrclient configuration file.
type ClientConfig struct {
	Basic         BasicConfig         `yaml:"basic"`
	DelayControl  DelayControlConfig  `yaml:"delay_control"`
	ServerFinding ServerFindingConfig `yaml:"server_finding"`
	Testing       TestingConfig       `yaml:"testing"`
	Network       NetworkConfig       `yaml:"network"`
	MetricsAddr   string              `yaml:"metrics_addr"`
}

// DefaultClientConfig returns the shipped client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Basic: BasicConfig{
			Width:       640,
			Height:      480,
			GameVersion: 1,
			MTU:         limits.DefaultMTU,
			FrameRate:   30,
			BufferSize:  5,
		},
		DelayControl: DelayControlConfig{
			HistoryLength:          32,
			SessionHistoryLength:   32,
			DelayAdjustPeriod:      10,
			LengthenDelayThreshold: 0.9,
			ShortenDelayThreshold:  0.98,
			DelayIncrementMs:       5,
			SatisfyingDelayMs:      50,
		},
		ServerFinding: ServerFindingConfig{
			ScheduleServerHost:          "127.0.0.1:50051",
			RequestPeriod:               1,
			RequestTimeoutMs:            500,
			TargetServerCount:           1,
			ServerOnTimeRateRequirement: 0.6,
			TimeToKillServer:            3,
		},
		Testing: TestingConfig{StatsPeriod: 1},
		Network: NetworkConfig{InboundQueueSize: transport.DefaultInboundQueueSize},
	}
}

// Validate checks ranges. An inverted hysteresis band is logged, not rejected.
func (c ClientConfig) Validate() error {
	if c.Basic.Width <= 0 || c.Basic.Height <= 0 || c.Basic.Width > 65535 || c.Basic.Height > 65535 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalid, c.Basic.Width, c.Basic.Height)
	}
	if err := limits.ValidateMTU(c.Basic.MTU); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.DelayConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.DelayControl.SessionHistoryLength < 1 || c.DelayControl.SessionHistoryLength > av.MaxHistoryLength {
		return fmt.Errorf("%w: session_history_length %d", ErrInvalid, c.DelayControl.SessionHistoryLength)
	}
	if c.ServerFinding.TargetServerCount < 1 {
		return fmt.Errorf("%w: target_server_count %d", ErrInvalid, c.ServerFinding.TargetServerCount)
	}
	if c.ServerFinding.RequestPeriod <= 0 || c.ServerFinding.RequestTimeoutMs <= 0 {
		return fmt.Errorf("%w: request_period and request_timeout_ms must be positive", ErrInvalid)
	}
	if c.Testing.StatsPeriod <= 0 {
		return fmt.Errorf("%w: stats_period %v", ErrInvalid, c.Testing.StatsPeriod)
	}
	if c.DelayControl.ShortenDelayThreshold <= c.DelayControl.LengthenDelayThreshold {
		logrus.WithFields(logrus.Fields{
			"function": "ClientConfig.Validate",
			"lengthen": c.DelayControl.LengthenDelayThreshold,
			"shorten":  c.DelayControl.ShortenDelayThreshold,
		}).Warn("Shorten threshold is not above lengthen threshold; delay will oscillate")
	}
	return nil
}

// DelayConfig converts the delay settings for av.NewDelayController.
func (c ClientConfig) DelayConfig() av.DelayConfig {
	return av.DelayConfig{
		FrameRate:         c.Basic.FrameRate,
		RingCapacity:      c.Basic.BufferSize,
		HistoryLength:     c.DelayControl.HistoryLength,
		AdjustPeriod:      c.DelayControl.DelayAdjustPeriod,
		LengthenThreshold: c.DelayControl.LengthenDelayThreshold,
		ShortenThreshold:  c.DelayControl.ShortenDelayThreshold,
		Increment:         time.Duration(c.DelayControl.DelayIncrementMs) * time.Millisecond,
		SatisfyingDelay:   time.Duration(c.DelayControl.SatisfyingDelayMs) * time.Millisecond,
	}
}

// SessionConfig converts the network settings for transport.Dial.
func (c ClientConfig) SessionConfig() transport.SessionConfig {
	cfg := transport.DefaultSessionConfig()
	cfg.MTU = c.Basic.MTU
	if c.Network.InboundQueueSize > 0 {
		cfg.InboundQueueSize = c.Network.InboundQueueSize
	}
	cfg.QoS = transport.QoS{DSCP: c.Network.DSCP}
	return cfg
}

// ServerConfig is the rrserver configuration file.
type ServerConfig struct {
	ScheduleListenAddr string        `yaml:"schedule_listen_addr"`
	FrameRate          int           `yaml:"frame_rate"`
	GOP                int           `yaml:"gop"`
	CompressionLevel   int           `yaml:"compression_level"`
	MTU                int           `yaml:"mtu"`
	ClientPort         int           `yaml:"client_port"`
	TimeToEndSession   Seconds       `yaml:"time_to_end_session"`
	LogPeriod          Seconds       `yaml:"log_period"`
	EncodeQueueSize    int           `yaml:"encode_queue_size"`
	ObjectDatabase     string        `yaml:"object_database"`
	Network            NetworkConfig `yaml:"network"`
}

// DefaultServerConfig returns the shipped server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ScheduleListenAddr: ":50052",
		FrameRate:          30,
		GOP:                30,
		CompressionLevel:   1,
		MTU:                limits.DefaultMTU,
		ClientPort:         9000,
		TimeToEndSession:   5,
		LogPeriod:          5,
		EncodeQueueSize:    3,
		Network:            NetworkConfig{InboundQueueSize: transport.DefaultRequestQueueSize},
	}
}

// Validate checks ranges.
func (c ServerConfig) Validate() error {
	if c.FrameRate <= 0 {
		return fmt.Errorf("%w: frame_rate %d", ErrInvalid, c.FrameRate)
	}
	if c.GOP < 1 {
		return fmt.Errorf("%w: gop %d", ErrInvalid, c.GOP)
	}
	if c.CompressionLevel < -2 || c.CompressionLevel > 9 {
		return fmt.Errorf("%w: compression_level %d", ErrInvalid, c.CompressionLevel)
	}
	if err := limits.ValidateMTU(c.MTU); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.ClientPort < 0 || c.ClientPort > 65535 {
		return fmt.Errorf("%w: client_port %d", ErrInvalid, c.ClientPort)
	}
	if c.TimeToEndSession <= 0 || c.LogPeriod <= 0 {
		return fmt.Errorf("%w: time_to_end_session and log_period must be positive", ErrInvalid)
	}
	if c.EncodeQueueSize < 1 {
		return fmt.Errorf("%w: encode_queue_size %d", ErrInvalid, c.EncodeQueueSize)
	}
	return nil
}

// ListenerConfig converts the network settings for transport.Listen.
func (c ServerConfig) ListenerConfig() transport.ListenerConfig {
	cfg := transport.DefaultListenerConfig()
	cfg.MTU = c.MTU
	if c.Network.InboundQueueSize > 0 {
		cfg.RequestQueueSize = c.Network.InboundQueueSize
	}
	cfg.QoS = transport.QoS{DSCP: c.Network.DSCP}
	return cfg
}

// SchedulerConfig is the rrscheduler configuration file.
type SchedulerConfig struct {
	ListenAddr           string `yaml:"listen_addr"`
	ServersFile          string `yaml:"servers_file"`
	OpenSessionTimeoutMs int    `yaml:"open_session_timeout_ms"`
}

// DefaultSchedulerConfig returns the shipped scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ListenAddr:           ":50051",
		ServersFile:          "servers.csv",
		OpenSessionTimeoutMs: 2000,
	}
}

// Validate checks ranges.
func (c SchedulerConfig) Validate() error {
	if c.ListenAddr == "" || c.ServersFile == "" {
		return fmt.Errorf("%w: listen_addr and servers_file are required", ErrInvalid)
	}
	if c.OpenSessionTimeoutMs <= 0 {
		return fmt.Errorf("%w: open_session_timeout_ms %d", ErrInvalid, c.OpenSessionTimeoutMs)
	}
	return nil
}

// validator is implemented by every configuration type.
type validator interface {
	Validate() error
}

// LoadClient reads the client configuration at path.
func LoadClient(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	err := load(path, &cfg, clientEnv(&cfg))
	return cfg, err
}

// LoadServer reads the server configuration at path.
func LoadServer(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	err := load(path, &cfg, serverEnv(&cfg))
	return cfg, err
}

// LoadScheduler reads the scheduler configuration at path.
func LoadScheduler(path string) (SchedulerConfig, error) {
	cfg := DefaultSchedulerConfig()
	err := load(path, &cfg, schedulerEnv(&cfg))
	return cfg, err
}

// load decodes path over the defaults already in dst, applies environment
// overrides and validates. A missing file keeps the defaults.
func load(path string, dst validator, env []binding) error {
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logrus.WithFields(logrus.Fields{
				"function": "config.load",
				"path":     path,
			}).Info("No config file found, using defaults")
		case err != nil:
			return fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, dst); err != nil {
				return fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(env); err != nil {
		return err
	}

	return dst.Validate()
}
