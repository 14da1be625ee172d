package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Database      DatabasesConfig     `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Device        DeviceConfig        `yaml:"device"`
	Deployment    DeploymentConfig    `yaml:"deployment"`
	Impersonation ImpersonationConfig `yaml:"impersonation"`
	Redis         RedisConfig         `yaml:"redis"`
	NATS          NATSConfig          `yaml:"nats"`
	Push          PushConfig          `yaml:"push"`
	WorkerPool    WorkerPoolConfig    `yaml:"worker_pool"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	CacheTTLSeconds int      `yaml:"cache_ttl_seconds"`
	AllowedOrigins  []string `yaml:"allowed_origins"`

	CacheTTL time.Duration `yaml:"-"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Debug  bool   `yaml:"debug"`
	Output string `yaml:"output"`
}

// DatabasesConfig holds one connection per store.
type DatabasesConfig struct {
	Operational DatabaseConfig `yaml:"operational"`
	Identity    DatabaseConfig `yaml:"identity"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres | mysql | sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// AuthConfig holds the bearer token settings.
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`

	TokenTTL time.Duration `yaml:"-"`
}

// DeviceConfig is the policy advertised to players and enforced on their sessions.
type DeviceConfig struct {
	APIURL                   string `yaml:"api_url"`
	HeartbeatIntervalSeconds int    `yaml:"heartbeat_interval_seconds"`
	HeartbeatGraceSeconds    int    `yaml:"heartbeat_grace_seconds"`
	RetryAttempts            int    `yaml:"retry_attempts"`
	RetryDelaySeconds        int    `yaml:"retry_delay_seconds"`
	HandshakeTimeoutSeconds  int    `yaml:"handshake_timeout_seconds"`

	HeartbeatGrace   time.Duration `yaml:"-"`
	HandshakeTimeout time.Duration `yaml:"-"`
}

// DeploymentConfig holds the acknowledgment deadline settings.
type DeploymentConfig struct {
	AckTimeoutSeconds    int `yaml:"ack_timeout_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`

	AckTimeout    time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`
}

// ImpersonationConfig holds the "view as" session settings.
type ImpersonationConfig struct {
	Store      string `yaml:"store"` // memory | redis
	TTLMinutes int    `yaml:"ttl_minutes"`

	TTL time.Duration `yaml:"-"`
}

// RedisConfig holds the Redis connection used by the shared session store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NATSConfig enables cross-instance relay of dashboard events.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// ReconcileConfig controls the periodic consistency checks.
type ReconcileConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`

	Interval time.Duration `yaml:"-"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset values and derives the duration fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 3001
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Database.Operational.Driver == "" {
		cfg.Database.Operational.Driver = "postgres"
	}
	if cfg.Database.Identity.Driver == "" {
		cfg.Database.Identity.Driver = "postgres"
	}

	if cfg.Auth.TokenTTLMinutes <= 0 {
		cfg.Auth.TokenTTLMinutes = 60
	}
	cfg.Auth.TokenTTL = time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute

	if cfg.Device.APIURL == "" {
		cfg.Device.APIURL = "https://api.ods-cloud.com"
	}
	if cfg.Device.HeartbeatIntervalSeconds <= 0 {
		cfg.Device.HeartbeatIntervalSeconds = 60
	}
	if cfg.Device.HeartbeatGraceSeconds <= 0 {
		cfg.Device.HeartbeatGraceSeconds = 2 * cfg.Device.HeartbeatIntervalSeconds
	}
	if cfg.Device.RetryAttempts <= 0 {
		cfg.Device.RetryAttempts = 3
	}
	if cfg.Device.RetryDelaySeconds <= 0 {
		cfg.Device.RetryDelaySeconds = 10
	}
	if cfg.Device.HandshakeTimeoutSeconds <= 0 {
		cfg.Device.HandshakeTimeoutSeconds = 10
	}
	cfg.Device.HeartbeatGrace = time.Duration(cfg.Device.HeartbeatGraceSeconds) * time.Second
	cfg.Device.HandshakeTimeout = time.Duration(cfg.Device.HandshakeTimeoutSeconds) * time.Second

	if cfg.Deployment.AckTimeoutSeconds <= 0 {
		cfg.Deployment.AckTimeoutSeconds = 300
	}
	if cfg.Deployment.SweepIntervalSeconds <= 0 {
		cfg.Deployment.SweepIntervalSeconds = 15
	}
	cfg.Deployment.AckTimeout = time.Duration(cfg.Deployment.AckTimeoutSeconds) * time.Second
	cfg.Deployment.SweepInterval = time.Duration(cfg.Deployment.SweepIntervalSeconds) * time.Second

	if cfg.Impersonation.Store == "" {
		cfg.Impersonation.Store = "memory"
	}
	if cfg.Impersonation.TTLMinutes <= 0 {
		cfg.Impersonation.TTLMinutes = 60
	}
	cfg.Impersonation.TTL = time.Duration(cfg.Impersonation.TTLMinutes) * time.Minute

	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "signage:viewas:"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.Reconcile.IntervalSeconds <= 0 {
		cfg.Reconcile.IntervalSeconds = 300
	}
	cfg.Reconcile.Interval = time.Duration(cfg.Reconcile.IntervalSeconds) * time.Second
}
