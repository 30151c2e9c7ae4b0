// Package config loads syntrod's settings from the environment.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// Config carries everything syntrod needs. Defaults match the wire
// protocol's calibrated values; see the gossip package.
type Config struct {
	NodeID string `env:"NODE_ID"`

	MulticastGroup string `env:"MULTICAST_GROUP" envDefault:"224.1.1.1:5007"`
	MulticastTTL   int    `env:"MULTICAST_TTL" envDefault:"2"`

	BroadcastInterval time.Duration `env:"BROADCAST_INTERVAL" envDefault:"250ms"`
	ConsensusInterval time.Duration `env:"CONSENSUS_INTERVAL" envDefault:"250ms"`
	PruneInterval     time.Duration `env:"PRUNE_INTERVAL" envDefault:"1s"`
	FreshnessWindow   time.Duration `env:"FRESHNESS_WINDOW" envDefault:"250ms"`
	PeerTimeout       time.Duration `env:"PEER_TIMEOUT" envDefault:"2s"`
	MaxPeers          int           `env:"MAX_PEERS" envDefault:"1024"`

	MinQuorum        int           `env:"MIN_QUORUM" envDefault:"2"`
	EMAAlpha         float64       `env:"EMA_ALPHA" envDefault:"0.15"`
	OutlierThreshold float64       `env:"OUTLIER_THRESHOLD" envDefault:"0.2"`
	RecencyHalfLife  time.Duration `env:"RECENCY_HALF_LIFE" envDefault:"1s"`
	HistoryLen       int           `env:"HISTORY_LEN" envDefault:"100"`

	StatusAddr string `env:"STATUS_ADDR" envDefault:":8080"`

	// EtcdEndpoints enables presence registration when non-empty.
	EtcdEndpoints []string `env:"ETCD_ENDPOINTS"`
	RegistryTTL   int64    `env:"REGISTRY_TTL_SECONDS" envDefault:"10"`

	// SimulateSignal drives the node with a jittered local signal when
	// no analytics provider is attached.
	SimulateSignal bool `env:"SIM_SIGNAL" envDefault:"false"`
}

// Load parses the environment, applies defaults and validates.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()[:8]
	}
}

func (c *Config) validate() error {
	if _, _, err := net.SplitHostPort(c.MulticastGroup); err != nil {
		return fmt.Errorf("multicast group %q must be host:port: %w", c.MulticastGroup, err)
	}
	if c.MulticastTTL < 1 {
		return fmt.Errorf("multicast ttl must be >= 1, got %d", c.MulticastTTL)
	}
	if c.FreshnessWindow <= 0 {
		return fmt.Errorf("freshness window must be positive, got %s", c.FreshnessWindow)
	}
	if c.PeerTimeout < c.FreshnessWindow {
		return fmt.Errorf("peer timeout %s must not be shorter than the freshness window %s",
			c.PeerTimeout, c.FreshnessWindow)
	}
	if c.MinQuorum < 1 {
		return fmt.Errorf("min quorum must be >= 1, got %d", c.MinQuorum)
	}
	if c.EMAAlpha <= 0 || c.EMAAlpha > 1 {
		return fmt.Errorf("ema alpha must be in (0,1], got %v", c.EMAAlpha)
	}
	if c.OutlierThreshold <= 0 || c.OutlierThreshold > 1 {
		return fmt.Errorf("outlier threshold must be in (0,1], got %v", c.OutlierThreshold)
	}
	if c.HistoryLen < 1 {
		return fmt.Errorf("history length must be >= 1, got %d", c.HistoryLen)
	}
	if len(c.EtcdEndpoints) > 0 && c.RegistryTTL < 1 {
		return fmt.Errorf("registry ttl must be >= 1s, got %d", c.RegistryTTL)
	}
	return nil
}
