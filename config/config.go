package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Features toggles individual pipeline stages. A disabled stage becomes a
// no-op pass-through, never a silent behavior change elsewhere.
type Features struct {
	CostSafety    bool `koanf:"cost_safety"`    // Budget Gate
	HITL          bool `koanf:"hitl"`           // Approval Gate
	RAGInLoop     bool `koanf:"rag_in_loop"`    // per-turn Context Retriever
	SpeakerPolicy bool `koanf:"speaker_policy"` // Selection Policy narrowing
}

// ServerConfig holds the HTTP surface configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// BudgetConfig holds Budget Gate parameters.
type BudgetConfig struct {
	DailyCeilingUSD float64 `koanf:"daily_ceiling_usd"`
	PricingPath     string  `koanf:"pricing_path"` // optional price table YAML
}

// StreamConfig holds streaming transport timings.
type StreamConfig struct {
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ReapInterval      time.Duration `koanf:"reap_interval"`
	EventBufferSize   int           `koanf:"event_buffer_size"`
}

// RetrievalConfig bounds per-turn memory injection. An empty MemoryPath
// keeps the vector store in memory.
type RetrievalConfig struct {
	Limit      int    `koanf:"limit"`
	MemoryPath string `koanf:"memory_path"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

// AgentsConfig points at the declarative participant definitions.
type AgentsConfig struct {
	DefinitionsPath string `koanf:"definitions_path"`
}

// Config is the complete daemon configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Features  Features        `koanf:"features"`
	Budget    BudgetConfig    `koanf:"budget"`
	Stream    StreamConfig    `koanf:"stream"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Logging   LoggingConfig   `koanf:"logging"`
	Agents    AgentsConfig    `koanf:"agents"`
}

// defaultYAML encodes the built-in defaults; loaded first so file and env
// only need to override what they change.
const defaultYAML = `
server:
  host: localhost
  port: 8484
  shutdown_timeout: 10s
features:
  cost_safety: true
  hitl: true
  rag_in_loop: true
  speaker_policy: true
budget:
  daily_ceiling_usd: 25.0
  pricing_path: ""
stream:
  heartbeat_interval: 15s
  idle_timeout: 5m
  reap_interval: 30s
  event_buffer_size: 64
retrieval:
  limit: 5
  memory_path: ""
logging:
  level: info
  format: json
agents:
  definitions_path: ""
`

// flagEnvVars maps the bare pipeline toggle variables onto config keys.
var flagEnvVars = map[string]string{
	"COST_SAFETY":    "features.cost_safety",
	"HITL":           "features.hitl",
	"RAG_IN_LOOP":    "features.rag_in_loop",
	"SPEAKER_POLICY": "features.speaker_policy",
}

// Load reads configuration from defaults, an optional YAML file and the
// environment. An empty configPath skips the file layer entirely.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	// PARLEY_SERVER_PORT -> server.port, PARLEY_BUDGET_DAILY_CEILING_USD ->
	// budget.daily_ceiling_usd: split on the first underscore after the
	// prefix, section first, field keeps its underscores.
	if err := k.Load(env.Provider("PARLEY_", ".", func(s string) string {
		trimmed := strings.ToLower(strings.TrimPrefix(s, "PARLEY_"))
		parts := strings.SplitN(trimmed, "_", 2)
		if len(parts) == 1 {
			return trimmed
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyFlagEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlagEnv overlays the four bare pipeline toggles. Unset or malformed
// values leave the current setting untouched.
func applyFlagEnv(cfg *Config) {
	for name, key := range flagEnvVars {
		raw, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		val, err := strconv.ParseBool(raw)
		if err != nil {
			continue
		}
		switch key {
		case "features.cost_safety":
			cfg.Features.CostSafety = val
		case "features.hitl":
			cfg.Features.HITL = val
		case "features.rag_in_loop":
			cfg.Features.RAGInLoop = val
		case "features.speaker_policy":
			cfg.Features.SpeakerPolicy = val
		}
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Budget.DailyCeilingUSD < 0 {
		return fmt.Errorf("daily budget ceiling must be non-negative, got %f", c.Budget.DailyCeilingUSD)
	}
	if c.Stream.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.Stream.HeartbeatInterval)
	}
	if c.Stream.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %s", c.Stream.IdleTimeout)
	}
	if c.Retrieval.Limit <= 0 {
		return fmt.Errorf("retrieval limit must be positive, got %d", c.Retrieval.Limit)
	}
	return nil
}
