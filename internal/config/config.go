// Package config loads process settings from the environment:
// identity via SELF_ID/SELF_ADDR (both required), plus the full
// SWIM/Lifeguard tuning surface, each with a default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ryandielhenn/swimhealth/internal/swim"
)

// Config is everything a swimnode process needs to boot: its own
// identity, the swim tuning knobs, and the etcd seed-discovery
// settings.
type Config struct {
	SelfID   string
	SelfAddr string

	ReplicationFactor int

	Swim swim.Config

	EtcdEndpoints []string
	EtcdNamespace string
	EtcdLeaseTTL  time.Duration
}

// FromEnv reads every setting from its environment variable. SELF_ID
// and SELF_ADDR are required and return an error when unset; every
// other setting falls back to its default (DefaultConfig's values for
// the swim knobs) where unset or unparsable.
func FromEnv() (Config, error) {
	cfg := Config{
		SelfID:            os.Getenv("SELF_ID"),
		SelfAddr:          os.Getenv("SELF_ADDR"),
		ReplicationFactor: envInt("REPLICATION_FACTOR", 2),
		Swim:              swim.DefaultConfig(),
		EtcdEndpoints:     envList("ETCD_ENDPOINTS", []string{"http://etcd:2379"}),
		EtcdNamespace:     envString("ETCD_NAMESPACE", "/swimhealth/nodes"),
		EtcdLeaseTTL:      envDuration("ETCD_LEASE_TTL", 10*time.Second),
	}
	if cfg.SelfID == "" {
		return cfg, fmt.Errorf("config: SELF_ID is required")
	}
	if cfg.SelfAddr == "" {
		return cfg, fmt.Errorf("config: SELF_ADDR is required")
	}

	cfg.Swim.ProbeInterval = envDuration("SWIM_PROBE_INTERVAL", cfg.Swim.ProbeInterval)
	cfg.Swim.PingTimeout = envDuration("SWIM_PING_TIMEOUT", cfg.Swim.PingTimeout)
	cfg.Swim.IndirectProbeCount = envInt("SWIM_INDIRECT_PROBE_COUNT", cfg.Swim.IndirectProbeCount)
	cfg.Swim.IndirectPingTimeoutMultiplier = envFloat("SWIM_INDIRECT_PING_TIMEOUT_MULTIPLIER", cfg.Swim.IndirectPingTimeoutMultiplier)
	cfg.Swim.ExtensionUnreachability = envBool("SWIM_EXTENSION_UNREACHABILITY", cfg.Swim.ExtensionUnreachability)

	cfg.Swim.Lifeguard.MaxLocalHealthMultiplier = envInt("SWIM_LHM_MAX", cfg.Swim.Lifeguard.MaxLocalHealthMultiplier)
	cfg.Swim.Lifeguard.SuspicionTimeoutMin = envDuration("SWIM_SUSPICION_TIMEOUT_MIN", cfg.Swim.Lifeguard.SuspicionTimeoutMin)
	cfg.Swim.Lifeguard.SuspicionTimeoutMax = envDuration("SWIM_SUSPICION_TIMEOUT_MAX", cfg.Swim.Lifeguard.SuspicionTimeoutMax)
	cfg.Swim.Lifeguard.MaxIndependentSuspicions = envInt("SWIM_SUSPICION_MAX_K", cfg.Swim.Lifeguard.MaxIndependentSuspicions)

	cfg.Swim.Gossip.MaxMessagesPerGossip = envInt("SWIM_GOSSIP_MAX_MESSAGES", cfg.Swim.Gossip.MaxMessagesPerGossip)
	cfg.Swim.Gossip.RetransmitMult = envInt("SWIM_GOSSIP_RETRANSMIT_MULT", cfg.Swim.Gossip.RetransmitMult)

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
