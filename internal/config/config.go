// Package config loads engine settings from defaults, an optional YAML file
// and BRIDGETRACE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rawblock/bridgetrace/internal/logger"
	"github.com/rawblock/bridgetrace/internal/risk"
)

// EnvPrefix prefixes every environment override, e.g. BRIDGETRACE_SERVER_PORT.
const EnvPrefix = "BRIDGETRACE"

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Risk     risk.Config    `mapstructure:"risk"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Log      logger.Config  `mapstructure:"log"`
	Shadow   ShadowConfig   `mapstructure:"shadow"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	APIPrefix       string        `mapstructure:"api_prefix"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig lists accepted credentials. Authentication is enforced only
// when at least one key or token is configured.
type AuthConfig struct {
	APIKeys      []string `mapstructure:"api_keys"`
	BearerTokens []string `mapstructure:"bearer_tokens"`
}

func (a AuthConfig) Enabled() bool {
	return len(a.APIKeys) > 0 || len(a.BearerTokens) > 0
}

type QuotaConfig struct {
	TenantPerMinute int    `mapstructure:"tenant_per_minute"`
	IPPerMinute     int    `mapstructure:"ip_per_minute"`
	IPBurst         int    `mapstructure:"ip_burst"`
	DefaultTenant   string `mapstructure:"default_tenant"`
}

type GraphConfig struct {
	// Source is reference, json or neo4j.
	Source   string      `mapstructure:"source"`
	JSONPath string      `mapstructure:"json_path"`
	Network  string      `mapstructure:"network"`
	Neo4j    Neo4jConfig `mapstructure:"neo4j"`
}

type Neo4jConfig struct {
	URI            string `mapstructure:"uri"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"database"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type PostgresConfig struct {
	URL        string `mapstructure:"url"`
	InitSchema bool   `mapstructure:"init_schema"`
}

type CacheConfig struct {
	// Backend is memory or badger.
	Backend    string        `mapstructure:"backend"`
	Path       string        `mapstructure:"path"`
	GCInterval time.Duration `mapstructure:"gc_interval"`
}

type AuditConfig struct {
	// Path of the LevelDB directory. Empty keeps the log in memory.
	Path string `mapstructure:"path"`
}

type TracingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Service string `mapstructure:"service"`
}

type ShadowConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Experiment string  `mapstructure:"experiment"`
	Decay      float64 `mapstructure:"decay"`
	MinSignal  float64 `mapstructure:"min_signal"`
	Tolerance  float64 `mapstructure:"tolerance"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5339)
	v.SetDefault("server.api_prefix", "/api/v2")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("auth.api_keys", []string{})
	v.SetDefault("auth.bearer_tokens", []string{})

	v.SetDefault("quota.tenant_per_minute", 120)
	v.SetDefault("quota.ip_per_minute", 600)
	v.SetDefault("quota.ip_burst", 60)
	v.SetDefault("quota.default_tenant", "anonymous")

	r := risk.DefaultConfig()
	v.SetDefault("risk.decay", r.Decay)
	v.SetDefault("risk.min_signal", r.MinSignal)
	v.SetDefault("risk.max_expansions", r.MaxExpansions)
	v.SetDefault("risk.score_hops", r.ScoreHops)
	v.SetDefault("risk.map_hops", r.MapHops)
	v.SetDefault("risk.simulation_hops", r.SimulationHops)
	v.SetDefault("risk.high_threshold", r.HighThreshold)
	v.SetDefault("risk.medium_threshold", r.MediumThreshold)
	v.SetDefault("risk.behavioral_component", r.BehavioralComponent)
	v.SetDefault("risk.propagation_weight", r.PropagationWeight)
	v.SetDefault("risk.score_cap", r.ScoreCap)
	v.SetDefault("risk.temporal_floor", r.TemporalFloor)
	v.SetDefault("risk.temporal_horizon_days", r.TemporalHorizonDays)
	v.SetDefault("risk.dense_threshold", r.DenseThreshold)
	v.SetDefault("risk.sparse_threshold", r.SparseThreshold)
	v.SetDefault("risk.density_cutoff", r.DensityCutoff)
	v.SetDefault("risk.default_risk_transfer", r.DefaultRiskTransfer)
	v.SetDefault("risk.min_days", r.MinDays)
	v.SetDefault("risk.max_days", r.MaxDays)

	v.SetDefault("graph.source", "reference")
	v.SetDefault("graph.json_path", "")
	v.SetDefault("graph.network", "mainnet")
	v.SetDefault("graph.neo4j.uri", "")
	v.SetDefault("graph.neo4j.username", "")
	v.SetDefault("graph.neo4j.password", "")
	v.SetDefault("graph.neo4j.database", "neo4j")
	v.SetDefault("graph.neo4j.max_connections", 10)

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.init_schema", true)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.path", "data/cache")
	v.SetDefault("cache.gc_interval", 5*time.Minute)

	v.SetDefault("audit.path", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service", "bridgetrace")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")

	v.SetDefault("shadow.enabled", false)
	v.SetDefault("shadow.experiment", "")
	v.SetDefault("shadow.decay", 0.85)
	v.SetDefault("shadow.min_signal", r.MinSignal)
	v.SetDefault("shadow.tolerance", 0.0001)
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that decoding cannot.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d", ErrInvalid, c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.APIPrefix, "/") {
		return fmt.Errorf("%w: server.api_prefix %q must start with /", ErrInvalid, c.Server.APIPrefix)
	}
	switch c.Graph.Source {
	case "reference":
	case "json":
		if c.Graph.JSONPath == "" {
			return fmt.Errorf("%w: graph.json_path is required for the json source", ErrInvalid)
		}
	case "neo4j":
		if c.Graph.Neo4j.URI == "" {
			return fmt.Errorf("%w: graph.neo4j.uri is required for the neo4j source", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: graph.source %q", ErrInvalid, c.Graph.Source)
	}
	switch c.Cache.Backend {
	case "memory", "badger":
	default:
		return fmt.Errorf("%w: cache.backend %q", ErrInvalid, c.Cache.Backend)
	}
	if c.Quota.TenantPerMinute <= 0 || c.Quota.IPPerMinute <= 0 || c.Quota.IPBurst <= 0 {
		return fmt.Errorf("%w: quota limits must be positive", ErrInvalid)
	}
	return nil
}
