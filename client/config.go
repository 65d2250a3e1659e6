package client

import (
	"fmt"
	"time"

	"github.com/opd-ai/rendercast/av"
	"github.com/opd-ai/rendercast/av/video"
	"github.com/opd-ai/rendercast/config"
	"github.com/opd-ai/rendercast/transport"
)

// Config holds the client's runtime parameters.
type Config struct {
	Resolution  video.Resolution
	GameVersion int32

	// Delay drives the frame ring size, send rate and display delay.
	Delay av.DelayConfig

	// SessionHistoryLength is the window of a session's on-time rate.
	SessionHistoryLength int

	Transport transport.SessionConfig

	RequestPeriod     time.Duration // Discovery attempt interval
	RequestTimeout    time.Duration // Deadline of one discovery attempt
	TargetServerCount int           // Sessions the client tries to keep open

	// A session whose on-time rate stays below OnTimeRateRequirement for
	// TimeToKill is evicted.
	OnTimeRateRequirement float64
	TimeToKill            time.Duration

	// HealthCheckPeriod is the control loop tick. Zero uses the send interval.
	HealthCheckPeriod time.Duration

	StatsPeriod time.Duration
}

// DefaultConfig returns the defaults of the shipped client configuration.
func DefaultConfig() Config {
	return FromFile(config.DefaultClientConfig())
}

// FromFile converts a loaded configuration file.
func FromFile(fc config.ClientConfig) Config {
	return Config{
		Resolution:            video.Resolution{Width: fc.Basic.Width, Height: fc.Basic.Height},
		GameVersion:           int32(fc.Basic.GameVersion),
		Delay:                 fc.DelayConfig(),
		SessionHistoryLength:  fc.DelayControl.SessionHistoryLength,
		Transport:             fc.SessionConfig(),
		RequestPeriod:         fc.ServerFinding.RequestPeriod.Duration(),
		RequestTimeout:        time.Duration(fc.ServerFinding.RequestTimeoutMs) * time.Millisecond,
		TargetServerCount:     fc.ServerFinding.TargetServerCount,
		OnTimeRateRequirement: fc.ServerFinding.ServerOnTimeRateRequirement,
		TimeToKill:            fc.ServerFinding.TimeToKillServer.Duration(),
		StatsPeriod:           fc.Testing.StatsPeriod.Duration(),
	}
}

func (c *Config) validate() error {
	if err := c.Resolution.Validate(); err != nil {
		return err
	}
	if err := c.Delay.Validate(); err != nil {
		return err
	}
	if c.SessionHistoryLength < 1 || c.SessionHistoryLength > av.MaxHistoryLength {
		return fmt.Errorf("%w: session history %d", av.ErrInvalidHistoryLength, c.SessionHistoryLength)
	}
	if c.RequestPeriod <= 0 || c.RequestTimeout <= 0 || c.StatsPeriod <= 0 {
		return fmt.Errorf("%w: request period, request timeout and stats period must be positive", ErrInvalidConfig)
	}
	if c.TargetServerCount < 1 {
		return fmt.Errorf("%w: target server count %d", ErrInvalidConfig, c.TargetServerCount)
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = c.Delay.TickInterval()
	}
	return nil
}
