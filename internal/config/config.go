// Package config provides configuration management for the consolidator.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/limiquantix/consolidator/internal/domain"
)

// Config holds all configuration for the application.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Etcd          EtcdConfig          `mapstructure:"etcd"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`
	Simulation    SimulationConfig    `mapstructure:"simulation"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	DRS           DRSConfig           `mapstructure:"drs"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	CORS          CORSConfig          `mapstructure:"cors"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimit is the number of API requests allowed per client per minute
	// when Redis is enabled. Zero disables limiting.
	RateLimit int64 `mapstructure:"rate_limit"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCAddress returns the gRPC health server address, or "" when disabled.
func (c ServerConfig) GRPCAddress() string {
	if c.GRPCPort <= 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate expects.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// EtcdConfig holds etcd configuration.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

// ConsolidationConfig selects and tunes the allocation policy.
type ConsolidationConfig struct {
	// Policy is "double-threshold" or "single-threshold".
	Policy         string  `mapstructure:"policy"`
	UpperThreshold float64 `mapstructure:"upper_threshold"`
	LowerThreshold float64 `mapstructure:"lower_threshold"`
	// GroupNum is the number of host groups migrations are confined to.
	GroupNum int `mapstructure:"group_num"`
}

// Validate checks the thresholds.
func (c ConsolidationConfig) Validate() error {
	if c.UpperThreshold <= 0 || c.UpperThreshold > 1 {
		return fmt.Errorf("%w: upper threshold must be within (0,1], got %v", domain.ErrInvalidArgument, c.UpperThreshold)
	}
	if c.LowerThreshold < 0 || c.LowerThreshold >= c.UpperThreshold {
		return fmt.Errorf("%w: lower threshold must be within [0,upper), got %v", domain.ErrInvalidArgument, c.LowerThreshold)
	}
	return nil
}

// SchedulerConfig holds initial VM placement configuration.
type SchedulerConfig struct {
	// PlacementStrategy is "policy" (place with the consolidation policy),
	// "spread", "pack" or "balance".
	PlacementStrategy string `mapstructure:"placement_strategy"`
	// ReservedMemoryMiB is kept free on every host for the hypervisor.
	ReservedMemoryMiB int64 `mapstructure:"reserved_memory_mib"`
}

// Validate checks the placement strategy.
func (c SchedulerConfig) Validate() error {
	switch c.PlacementStrategy {
	case "", "policy", "spread", "pack", "balance":
	default:
		return fmt.Errorf("%w: unknown placement strategy %q", domain.ErrInvalidArgument, c.PlacementStrategy)
	}
	if c.ReservedMemoryMiB < 0 {
		return fmt.Errorf("%w: reserved memory must not be negative", domain.ErrInvalidArgument)
	}
	return nil
}

// SimulationConfig describes the simulated datacenter.
type SimulationConfig struct {
	// ScenarioFile, when set, replaces the generated pool below.
	ScenarioFile string `mapstructure:"scenario_file"`
	// TraceDir holds PlanetLab-style utilization traces, one file per VM.
	TraceDir string `mapstructure:"trace_dir"`

	Seed     int64   `mapstructure:"seed"`
	Duration float64 `mapstructure:"duration"` // simulated seconds
	Interval float64 `mapstructure:"interval"` // simulated seconds between cycles

	Hosts int         `mapstructure:"hosts"`
	VMs   int         `mapstructure:"vms"`
	Power PowerConfig `mapstructure:"power"`

	// MigrationInterval is the recommended minimum time between two
	// migrations of the same VM.
	MigrationInterval float64 `mapstructure:"migration_interval"`
}

// PowerConfig describes the host power model.
type PowerConfig struct {
	Model          string  `mapstructure:"model"`
	MaxPower       float64 `mapstructure:"max_power"`
	StaticFraction float64 `mapstructure:"static_fraction"`
}

// Validate checks the simulation settings.
func (c SimulationConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: simulation interval must be positive", domain.ErrInvalidArgument)
	}
	if c.Duration < 0 {
		return fmt.Errorf("%w: simulation duration must not be negative", domain.ErrInvalidArgument)
	}
	if c.ScenarioFile == "" && c.Hosts <= 0 {
		return fmt.Errorf("%w: at least one host is required", domain.ErrInvalidArgument)
	}
	return nil
}

// DRSConfig holds the live consolidation loop configuration.
type DRSConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Interval is the wall-clock time between cycles; each cycle advances the
	// environment by one simulation interval.
	Interval    time.Duration `mapstructure:"interval"`
	Environment string        `mapstructure:"environment"`
	// Lock serialises cycles across replicas through etcd.
	Lock bool `mapstructure:"lock"`
	// Retention bounds how long stored migration records are kept.
	Retention time.Duration `mapstructure:"retention"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// Validate checks the sections that have hard constraints.
func (c *Config) Validate() error {
	if err := c.Consolidation.Validate(); err != nil {
		return fmt.Errorf("consolidation: %w", err)
	}
	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if c.DRS.Enabled && c.DRS.Interval <= 0 {
		return fmt.Errorf("drs: %w: interval must be positive", domain.ErrInvalidArgument)
	}
	return nil
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("CONSOLIDATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 0)

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "consolidator")
	v.SetDefault("database.user", "consolidator")
	v.SetDefault("database.password", "consolidator")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// etcd
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "change-me-in-production")
	v.SetDefault("auth.token_expiry", "24h")

	// Consolidation
	v.SetDefault("consolidation.policy", "double-threshold")
	v.SetDefault("consolidation.upper_threshold", 0.8)
	v.SetDefault("consolidation.lower_threshold", 0.2)
	v.SetDefault("consolidation.group_num", 1)

	// Simulation
	v.SetDefault("simulation.seed", 1)
	v.SetDefault("simulation.duration", 86400.0)
	v.SetDefault("simulation.interval", 300.0)
	v.SetDefault("simulation.hosts", 10)
	v.SetDefault("simulation.vms", 20)
	v.SetDefault("simulation.power.model", "linear")
	v.SetDefault("simulation.power.max_power", 250.0)
	v.SetDefault("simulation.power.static_fraction", 0.7)
	v.SetDefault("simulation.migration_interval", 1800.0)

	// Scheduler
	v.SetDefault("scheduler.placement_strategy", "policy")
	v.SetDefault("scheduler.reserved_memory_mib", 0)

	// DRS
	v.SetDefault("drs.enabled", true)
	v.SetDefault("drs.interval", "10s")
	v.SetDefault("drs.environment", "default")
	v.SetDefault("drs.lock", false)
	v.SetDefault("drs.retention", "168h")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", true)
}
