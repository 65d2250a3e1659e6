package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/opd-ai/rendercast/config"
	"github.com/opd-ai/rendercast/scene"
	"github.com/opd-ai/rendercast/transport"
)

// Config holds the render server's runtime parameters.
type Config struct {
	// ListenAddr is the UDP address frame requests arrive on.
	ListenAddr string
	// ControlAddr is the HTTP address of the session control API. Empty
	// disables the control server in Run; Router is still usable.
	ControlAddr string

	// FrameRate sets the dispatch tick used for idle checks.
	FrameRate int
	// TimeToEndSession stops a session that received no valid request for
	// this long.
	TimeToEndSession time.Duration
	LogPeriod        time.Duration

	// EncodeQueueSize bounds rendered frames waiting for the encoder.
	EncodeQueueSize int

	Listener transport.ListenerConfig

	Registry *scene.Registry
	Database scene.Database
}

// DefaultConfig returns the defaults of the shipped server configuration.
func DefaultConfig() Config {
	cfg, _ := FromFile(config.DefaultServerConfig())
	return cfg
}

// FromFile converts a loaded configuration file, loading the object
// database it names.
func FromFile(fc config.ServerConfig) (Config, error) {
	cfg := Config{
		ListenAddr:       ":" + strconv.Itoa(fc.ClientPort),
		ControlAddr:      fc.ScheduleListenAddr,
		FrameRate:        fc.FrameRate,
		TimeToEndSession: fc.TimeToEndSession.Duration(),
		LogPeriod:        fc.LogPeriod.Duration(),
		EncodeQueueSize:  fc.EncodeQueueSize,
		Listener:         fc.ListenerConfig(),
		Registry:         scene.DefaultRegistry(),
		Database:         scene.NewMapDatabase(),
	}
	if fc.ObjectDatabase != "" {
		db, err := scene.LoadDatabase(fc.ObjectDatabase)
		if err != nil {
			return cfg, err
		}
		cfg.Database = db
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.FrameRate <= 0 {
		return fmt.Errorf("%w: frame rate %d", ErrInvalidConfig, c.FrameRate)
	}
	if c.TimeToEndSession <= 0 || c.LogPeriod <= 0 {
		return fmt.Errorf("%w: session timeout and log period must be positive", ErrInvalidConfig)
	}
	if c.EncodeQueueSize < 1 {
		return fmt.Errorf("%w: encode queue size %d", ErrInvalidConfig, c.EncodeQueueSize)
	}
	if c.Registry == nil {
		c.Registry = scene.DefaultRegistry()
	}
	if c.Database == nil {
		c.Database = scene.NewMapDatabase()
	}
	return nil
}

// tick returns the dispatch tick interval.
func (c *Config) tick() time.Duration {
	return time.Second / time.Duration(c.FrameRate)
}

// targetBuffers is the size of each session's render target ring: one
// target being rendered, one being encoded and one per queued encode job.
func (c *Config) targetBuffers() int {
	return c.EncodeQueueSize + 2
}
