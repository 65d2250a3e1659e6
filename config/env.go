package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "RENDERCAST_"

// LoadDotEnv reads .env files into the process environment without
// overriding variables that are already set. With no paths, ".env" is used.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// binding ties one environment variable to a configuration field.
// target is *int, *float64, *string or *Seconds.
type binding struct {
	key    string
	target interface{}
}

func applyEnv(bindings []binding) error {
	for _, b := range bindings {
		key := EnvPrefix + b.key
		raw, ok := os.LookupEnv(key)
		if !ok || raw == "" {
			continue
		}
		var err error
		switch t := b.target.(type) {
		case *int:
			*t, err = strconv.Atoi(raw)
		case *float64:
			*t, err = strconv.ParseFloat(raw, 64)
		case *Seconds:
			var f float64
			f, err = strconv.ParseFloat(raw, 64)
			*t = Seconds(f)
		case *string:
			*t = raw
		default:
			err = fmt.Errorf("unsupported target %T", t)
		}
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, raw, err)
		}
	}
	return nil
}

func networkEnv(n *NetworkConfig) []binding {
	return []binding{
		{"INBOUND_QUEUE_SIZE", &n.InboundQueueSize},
		{"DSCP", &n.DSCP},
	}
}

func clientEnv(c *ClientConfig) []binding {
	return append([]binding{
		{"WIDTH", &c.Basic.Width},
		{"HEIGHT", &c.Basic.Height},
		{"GAME_VERSION", &c.Basic.GameVersion},
		{"MTU", &c.Basic.MTU},
		{"FRAME_RATE", &c.Basic.FrameRate},
		{"BUFFER_SIZE", &c.Basic.BufferSize},
		{"HISTORY_LENGTH", &c.DelayControl.HistoryLength},
		{"SESSION_HISTORY_LENGTH", &c.DelayControl.SessionHistoryLength},
		{"DELAY_ADJUST_PERIOD", &c.DelayControl.DelayAdjustPeriod},
		{"LENGTHEN_DELAY_THRESHOLD", &c.DelayControl.LengthenDelayThreshold},
		{"SHORTEN_DELAY_THRESHOLD", &c.DelayControl.ShortenDelayThreshold},
		{"DELAY_INCREMENT_MS", &c.DelayControl.DelayIncrementMs},
		{"SATISFYING_DELAY_MS", &c.DelayControl.SatisfyingDelayMs},
		{"SCHEDULE_SERVER_HOST", &c.ServerFinding.ScheduleServerHost},
		{"REQUEST_PERIOD", &c.ServerFinding.RequestPeriod},
		{"REQUEST_TIMEOUT_MS", &c.ServerFinding.RequestTimeoutMs},
		{"TARGET_SERVER_COUNT", &c.ServerFinding.TargetServerCount},
		{"SERVER_ON_TIME_RATE_REQUIREMENT", &c.ServerFinding.ServerOnTimeRateRequirement},
		{"TIME_TO_KILL_SERVER", &c.ServerFinding.TimeToKillServer},
		{"STATS_PERIOD", &c.Testing.StatsPeriod},
		{"METRICS_ADDR", &c.MetricsAddr},
	}, networkEnv(&c.Network)...)
}

func serverEnv(c *ServerConfig) []binding {
	return append([]binding{
		{"SCHEDULE_LISTEN_ADDR", &c.ScheduleListenAddr},
		{"FRAME_RATE", &c.FrameRate},
		{"GOP", &c.GOP},
		{"COMPRESSION_LEVEL", &c.CompressionLevel},
		{"MTU", &c.MTU},
		{"CLIENT_PORT", &c.ClientPort},
		{"TIME_TO_END_SESSION", &c.TimeToEndSession},
		{"LOG_PERIOD", &c.LogPeriod},
		{"ENCODE_QUEUE_SIZE", &c.EncodeQueueSize},
		{"OBJECT_DATABASE", &c.ObjectDatabase},
	}, networkEnv(&c.Network)...)
}

func schedulerEnv(c *SchedulerConfig) []binding {
	return []binding{
		{"LISTEN_ADDR", &c.ListenAddr},
		{"SERVERS_FILE", &c.ServersFile},
		{"OPEN_SESSION_TIMEOUT_MS", &c.OpenSessionTimeoutMs},
	}
}
