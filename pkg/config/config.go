// Copyright 2025 Certen Protocol
//
// Node configuration. Environment variables carry the per-process
// runtime knobs (ports, timeouts, ratios); the channel/rep-set itself
// is parsed here from a YAML file into pkg/peer's Rep type, per §6. The env-var helpers
// below are unchanged from the teacher's config package.

package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/certen/independant-validator/pkg/peer"
	"github.com/certen/independant-validator/pkg/types"
)

// Config holds the runtime configuration for one validator node.
type Config struct {
	// Identity
	ValidatorID    string
	PrivateKeyPath string // path to the raw secp256k1 private key file
	DataDir        string

	// Channel / rep-set
	ChannelName string
	ChannelFile string // path to a channel-manage-data YAML file (see ChannelDoc)
	RepsRESTURL string // if set, reps are refreshed from a getReps-style REST endpoint instead

	// Consensus round parameters
	BlockVotingRatio  float64
	LeaderVotingRatio float64
	RoundTimeout      time.Duration

	// Server
	ListenAddr  string
	MetricsAddr string

	LogLevel string
}

// Load reads configuration from environment variables. Call Validate()
// afterward before starting the node.
func Load() (*Config, error) {
	cfg := &Config{
		ValidatorID:    getEnv("VALIDATOR_ID", ""),
		PrivateKeyPath: getEnv("PRIVATE_KEY_PATH", ""),
		DataDir:        getEnv("DATA_DIR", "./data"),

		ChannelName: getEnv("CHANNEL_NAME", "loopchain_default"),
		ChannelFile: getEnv("CHANNEL_FILE", ""),
		RepsRESTURL: getEnv("REPS_REST_URL", ""),

		BlockVotingRatio:  getEnvFloat("BLOCK_VOTING_RATIO", 0.67),
		LeaderVotingRatio: getEnvFloat("LEADER_VOTING_RATIO", 0.51),
		RoundTimeout:      getEnvDuration("ROUND_TIMEOUT", 10*time.Second),

		ListenAddr:  getEnv("LISTEN_ADDR", "0.0.0.0:7100"),
		MetricsAddr: getEnv("METRICS_ADDR", "0.0.0.0:9090"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string

	if c.ValidatorID == "" {
		errs = append(errs, "VALIDATOR_ID is required but not set")
	}
	if c.PrivateKeyPath == "" {
		errs = append(errs, "PRIVATE_KEY_PATH is required but not set")
	}
	if c.ChannelFile == "" && c.RepsRESTURL == "" {
		errs = append(errs, "one of CHANNEL_FILE or REPS_REST_URL is required")
	}
	if c.BlockVotingRatio <= 0 || c.BlockVotingRatio > 1 {
		errs = append(errs, "BLOCK_VOTING_RATIO must be in (0, 1]")
	}
	if c.LeaderVotingRatio <= 0 || c.LeaderVotingRatio > 1 {
		errs = append(errs, "LEADER_VOTING_RATIO must be in (0, 1]")
	}

	if len(errs) > 0 {
		msg := "configuration validation failed:"
		for _, e := range errs {
			msg += "\n  - " + e
		}
		return errors.New(msg)
	}
	return nil
}

// ChannelDoc mirrors the channel-manage-data shape pkg/peer.LoadChannelFile
// accepts as JSON, but parsed from YAML: channel name -> ordered peer list.
type ChannelDoc map[string]struct {
	Peers []ChannelPeer `yaml:"peers"`
}

// ChannelPeer is one YAML rep entry, using the file-spelling field names
// (id/peer_target) per §6.
type ChannelPeer struct {
	ID         string `yaml:"id"`
	PeerTarget string `yaml:"peer_target"`
	Order      int    `yaml:"order"`
}

// LoadReps resolves the configured rep set: from the YAML channel file
// when ChannelFile is set, else left to the caller to fetch via
// RepsRESTURL and pass the response through peer.LoadRESTResponse.
func (c *Config) LoadReps() ([]peer.Rep, error) {
	if c.ChannelFile == "" {
		return nil, fmt.Errorf("config: no ChannelFile configured, fetch reps via RepsRESTURL instead")
	}

	raw, err := os.ReadFile(c.ChannelFile)
	if err != nil {
		return nil, fmt.Errorf("config: read channel file: %w", err)
	}

	var doc ChannelDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse channel file: %w", err)
	}
	channel, ok := doc[c.ChannelName]
	if !ok {
		return nil, fmt.Errorf("config: channel %q not found in %s", c.ChannelName, c.ChannelFile)
	}

	reps := make([]peer.Rep, 0, len(channel.Peers))
	for _, p := range channel.Peers {
		if p.ID == "" || p.PeerTarget == "" {
			return nil, fmt.Errorf("config: channel %q entry missing id/peer_target", c.ChannelName)
		}
		addr, err := types.AddressFromString(p.ID)
		if err != nil {
			return nil, fmt.Errorf("config: channel %q invalid id %q: %w", c.ChannelName, p.ID, err)
		}
		reps = append(reps, peer.Rep{ID: addr, P2PEndpoint: p.PeerTarget, Order: p.Order})
	}
	sort.SliceStable(reps, func(i, j int) bool { return reps[i].Order < reps[j].Order })
	return reps, nil
}

// Helper functions for environment variable parsing, unchanged from the
// teacher's convention.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
