package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AgentConfig holds the point-of-sale agent configuration.
type AgentConfig struct {
	ServerURL      string        `envconfig:"AGENT_SERVER_URL" default:"http://localhost:8080"`
	APIKey         string        `envconfig:"AGENT_API_KEY" default:""`
	ClientID       string        `envconfig:"AGENT_CLIENT_ID" default:""` // generated and stored in the queue DB when empty
	QueuePath      string        `envconfig:"AGENT_QUEUE_PATH" default:"./data/posagent.db"`
	SyncInterval   time.Duration `envconfig:"AGENT_SYNC_INTERVAL" default:"30s"`
	SyncJitter     time.Duration `envconfig:"AGENT_SYNC_JITTER" default:"10s"`
	ProbeInterval  time.Duration `envconfig:"AGENT_PROBE_INTERVAL" default:"5s"`
	RequestTimeout time.Duration `envconfig:"AGENT_REQUEST_TIMEOUT" default:"10s"`
	RequestsPerSec float64       `envconfig:"AGENT_REQUESTS_PER_SEC" default:"20"`
	BatchSize      int           `envconfig:"AGENT_BATCH_SIZE" default:"0"` // 0 drains everything pending
	StatusAddr     string        `envconfig:"AGENT_STATUS_ADDR" default:"127.0.0.1:8090"`

	// Optional Redis channel that receives every status change.
	RedisAddr    string `envconfig:"AGENT_REDIS_ADDR" default:""`
	RedisChannel string `envconfig:"AGENT_REDIS_CHANNEL" default:"retailsync:agent:status"`

	Log LogConfig
}

// LoadAgent reads the agent configuration from environment variables.
func LoadAgent() (*AgentConfig, error) {
	var cfg AgentConfig

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load agent config: %w", err)
	}
	if cfg.SyncInterval <= 0 {
		return nil, fmt.Errorf("invalid config: AGENT_SYNC_INTERVAL must be positive")
	}
	if cfg.SyncJitter < 0 {
		return nil, fmt.Errorf("invalid config: AGENT_SYNC_JITTER cannot be negative")
	}

	return &cfg, nil
}
