package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Recognized rule scopes, in evaluation priority order.
var ValidScopes = []string{"burst", "endpoint", "api_key", "user", "ip", "global"}

type Config struct {
	Server    ServerConfig    `json:"server"`
	Redis     RedisConfig     `json:"redis"`
	Postgres  PostgresConfig  `json:"postgres"`
	Auth      AuthConfig      `json:"auth"`
	Counter   CounterConfig   `json:"counter"`
	Rules     []RuleConfig    `json:"rules"`
	Tiers     []TierConfig    `json:"tiers"`
	Penalty   PenaltyConfig   `json:"penalty"`
	Behavior  BehaviorConfig  `json:"behavior"`
	Retention RetentionConfig `json:"retention"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

func (r *RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type PostgresConfig struct {
	DSN string `json:"-"`
}

type AuthConfig struct {
	JWTSecret   string `json:"-"`
	ExpiryHours int    `json:"expiry_hours"`
}

type CounterConfig struct {
	TimeoutMs          int `json:"timeout_ms"`
	HealthIntervalSecs int `json:"health_interval_seconds"`
	SweepIntervalSecs  int `json:"sweep_interval_seconds"`
	BreakerMaxFailures int `json:"breaker_max_failures"`
	BreakerOpenSecs    int `json:"breaker_open_seconds"`
}

func (c *CounterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c *CounterConfig) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSecs) * time.Second
}

func (c *CounterConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

type RuleConfig struct {
	Name          string `json:"name"`
	Scope         string `json:"scope"`
	WindowSeconds int    `json:"window_seconds"`
	MaxRequests   int64  `json:"max_requests"`
	Category      string `json:"category"`
}

type TierConfig struct {
	Name                   string `json:"name"`
	RequestsPerDay         int64  `json:"requests_per_day"`
	RequestsPerMonth       int64  `json:"requests_per_month"`
	BytesPerDay            int64  `json:"bytes_per_day"`
	BytesPerMonth          int64  `json:"bytes_per_month"`
	ComputeSecondsPerDay   int64  `json:"compute_seconds_per_day"`
	ComputeSecondsPerMonth int64  `json:"compute_seconds_per_month"`
}

type PenaltyConfig struct {
	BaseSeconds   int `json:"base_seconds"`
	MaxSeconds    int `json:"max_seconds"`
	WindowSeconds int `json:"window_seconds"`
}

type BehaviorConfig struct {
	Enabled       bool    `json:"enabled"`
	MaxMultiplier float64 `json:"max_multiplier"`
	SampleSize    int     `json:"sample_size"`
}

type RetentionConfig struct {
	IncidentDays int `json:"incident_days"`
	CleanupHours int `json:"cleanup_hours"`
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("malformed config file: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyEnv pulls secrets and connection settings from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		c.Redis.Port = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == "" {
		c.Redis.Port = "6379"
	}
	if c.Auth.ExpiryHours <= 0 {
		c.Auth.ExpiryHours = 24
	}
	if c.Counter.TimeoutMs <= 0 {
		c.Counter.TimeoutMs = 50
	}
	if c.Counter.HealthIntervalSecs <= 0 {
		c.Counter.HealthIntervalSecs = 5
	}
	if c.Counter.SweepIntervalSecs <= 0 {
		c.Counter.SweepIntervalSecs = 60
	}
	if c.Counter.BreakerMaxFailures <= 0 {
		c.Counter.BreakerMaxFailures = 5
	}
	if c.Counter.BreakerOpenSecs <= 0 {
		c.Counter.BreakerOpenSecs = 10
	}
	if c.Penalty.BaseSeconds <= 0 {
		c.Penalty.BaseSeconds = 300
	}
	if c.Penalty.MaxSeconds <= 0 {
		c.Penalty.MaxSeconds = 3600
	}
	if c.Penalty.WindowSeconds <= 0 {
		c.Penalty.WindowSeconds = 7200
	}
	if c.Behavior.MaxMultiplier <= 1.0 {
		c.Behavior.MaxMultiplier = 4.0
	}
	if c.Behavior.SampleSize <= 0 {
		c.Behavior.SampleSize = 32
	}
	if c.Retention.IncidentDays <= 0 {
		c.Retention.IncidentDays = 30
	}
	if c.Retention.CleanupHours <= 0 {
		c.Retention.CleanupHours = 6
	}
}

// Validate fails closed: the engine must not start serving traffic on
// a malformed rule set or tier table.
func (c *Config) Validate() error {
	if len(c.Rules) == 0 {
		return fmt.Errorf("config: at least one rate rule is required")
	}

	seen := make(map[string]bool)
	for i, rule := range c.Rules {
		if rule.Name == "" {
			return fmt.Errorf("config: rule %d has no name", i)
		}
		if seen[rule.Name] {
			return fmt.Errorf("config: duplicate rule name %q", rule.Name)
		}
		seen[rule.Name] = true

		if !validScope(rule.Scope) {
			return fmt.Errorf("config: rule %q has unknown scope %q", rule.Name, rule.Scope)
		}
		if rule.WindowSeconds <= 0 {
			return fmt.Errorf("config: rule %q has non-positive window", rule.Name)
		}
		if rule.MaxRequests <= 0 {
			return fmt.Errorf("config: rule %q has non-positive max_requests", rule.Name)
		}
	}

	if len(c.Tiers) == 0 {
		return fmt.Errorf("config: at least one tier is required")
	}
	tierSeen := make(map[string]bool)
	for _, tier := range c.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("config: tier with empty name")
		}
		if tierSeen[tier.Name] {
			return fmt.Errorf("config: duplicate tier %q", tier.Name)
		}
		tierSeen[tier.Name] = true
		if tier.RequestsPerDay <= 0 || tier.RequestsPerMonth <= 0 {
			return fmt.Errorf("config: tier %q must set daily and monthly request limits", tier.Name)
		}
	}

	if c.Postgres.DSN == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}

	return nil
}

func validScope(scope string) bool {
	for _, s := range ValidScopes {
		if s == scope {
			return true
		}
	}
	return false
}
