package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SUPERAUTH"

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	RBAC      RBACSettings      `mapstructure:"rbac"`
	Breach    BreachSettings    `mapstructure:"breach"`
	Risk      RiskSettings      `mapstructure:"risk"`
	OTP       OTPSettings       `mapstructure:"otp"`
	Scheduler SchedulerSettings `mapstructure:"scheduler"`
	Cache     CacheSettings     `mapstructure:"cache"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// SeedDefaults inserts the default roles and permissions at startup.
	SeedDefaults bool `mapstructure:"seed_defaults"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	CachePrefix     string `mapstructure:"cache_prefix"`
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the producer and the invalidation consumer group.
type KafkaSettings struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	Async         bool     `mapstructure:"async"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
	MetricsPrefix  string  `mapstructure:"metrics_prefix"`
}

// JWTSettings configures verification of actor tokens. Either Secret or KeyDirectory must be set.
type JWTSettings struct {
	Secret       string        `mapstructure:"secret"`
	KeyDirectory string        `mapstructure:"key_directory"`
	Issuer       string        `mapstructure:"issuer"`
	Audience     string        `mapstructure:"audience"`
	Leeway       time.Duration `mapstructure:"leeway"`
}

// RateLimitSettings configures sliding windows per scope.
type RateLimitSettings struct {
	WindowDuration        time.Duration `mapstructure:"window_duration"`
	PasswordCheckAttempts int           `mapstructure:"password_check_attempts"`
	OTPIssueAttempts      int           `mapstructure:"otp_issue_attempts"`
	OTPIssueWindow        time.Duration `mapstructure:"otp_issue_window"`
	OTPVerifyAttempts     int           `mapstructure:"otp_verify_attempts"`
}

type RBACSettings struct {
	Guard            string        `mapstructure:"guard"`
	MinLevel         int           `mapstructure:"min_level"`
	MaxLevel         int           `mapstructure:"max_level"`
	HierarchyTTL     time.Duration `mapstructure:"hierarchy_ttl"`
	UserTTL          time.Duration `mapstructure:"user_ttl"`
	ExpiringWithin   time.Duration `mapstructure:"expiring_within"`
	InvalidateOrigin string        `mapstructure:"invalidate_origin"`
}

type BreachSettings struct {
	Enabled           bool          `mapstructure:"enabled"`
	APIURL            string        `mapstructure:"api_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	DegradationPolicy string        `mapstructure:"degradation_policy"`
	FingerprintKey    string        `mapstructure:"fingerprint_key"`
	RecordRetention   time.Duration `mapstructure:"record_retention"`
	UserAgent         string        `mapstructure:"user_agent"`
}

type RiskSettings struct {
	HistoryWindow      time.Duration `mapstructure:"history_window"`
	RapidWindow        time.Duration `mapstructure:"rapid_window"`
	RapidThreshold     int           `mapstructure:"rapid_threshold"`
	UnusualThreshold   int           `mapstructure:"unusual_threshold"`
	HighRiskIPFailures int           `mapstructure:"high_risk_ip_failures"`
	HistoryRetention   time.Duration `mapstructure:"history_retention"`
}

type OTPSettings struct {
	Length      int           `mapstructure:"length"`
	TTL         time.Duration `mapstructure:"ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type SchedulerSettings struct {
	Enabled       bool   `mapstructure:"enabled"`
	ExpiredRoles  string `mapstructure:"expired_roles"`
	ExpiredOTPs   string `mapstructure:"expired_otps"`
	BreachRecords string `mapstructure:"breach_records"`
	LoginHistory  string `mapstructure:"login_history"`
}

// CacheSettings selects the cache backend: "redis" or "memory".
type CacheSettings struct {
	Backend    string `mapstructure:"backend"`
	MemorySize int    `mapstructure:"memory_size"`
}

// IsProduction reports whether the app runs in production mode.
func (c *AppConfig) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.seed_defaults",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.cache_prefix",
		"redis.rate_limit_prefix",
		"kafka.enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"kafka.consumer_group",
		"telemetry.tracing_enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"telemetry.metrics_prefix",
		"jwt.secret",
		"jwt.key_directory",
		"jwt.issuer",
		"jwt.audience",
		"jwt.leeway",
		"rate_limit.window_duration",
		"rate_limit.password_check_attempts",
		"rate_limit.otp_issue_attempts",
		"rate_limit.otp_issue_window",
		"rate_limit.otp_verify_attempts",
		"rbac.guard",
		"rbac.min_level",
		"rbac.max_level",
		"rbac.hierarchy_ttl",
		"rbac.user_ttl",
		"rbac.expiring_within",
		"rbac.invalidate_origin",
		"breach.enabled",
		"breach.api_url",
		"breach.timeout",
		"breach.cache_ttl",
		"breach.requests_per_second",
		"breach.burst",
		"breach.degradation_policy",
		"breach.fingerprint_key",
		"breach.record_retention",
		"breach.user_agent",
		"risk.history_window",
		"risk.rapid_window",
		"risk.rapid_threshold",
		"risk.unusual_threshold",
		"risk.high_risk_ip_failures",
		"risk.history_retention",
		"otp.length",
		"otp.ttl",
		"otp.max_attempts",
		"scheduler.enabled",
		"scheduler.expired_roles",
		"scheduler.expired_otps",
		"scheduler.breach_records",
		"scheduler.login_history",
		"cache.backend",
		"cache.memory_size",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.RBAC.MinLevel < 1 || c.RBAC.MaxLevel < c.RBAC.MinLevel {
		return fmt.Errorf("config: invalid rbac level bounds %d..%d", c.RBAC.MinLevel, c.RBAC.MaxLevel)
	}
	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return fmt.Errorf("config: otp length must be between 4 and 10")
	}
	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("config: otp max attempts must be positive")
	}
	switch c.Cache.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "superauth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.seed_defaults", true)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "superauth")
	v.SetDefault("postgres.password", "superauth_password")
	v.SetDefault("postgres.database", "superauth")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.cache_prefix", "superauth:cache")
	v.SetDefault("redis.rate_limit_prefix", "superauth:ratelimit")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "superauth")
	v.SetDefault("kafka.async", true)
	v.SetDefault("kafka.consumer_group", "superauth-rbac-invalidation")

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "superauth")
	v.SetDefault("telemetry.sampling_rate", 1.0)
	v.SetDefault("telemetry.metrics_prefix", "superauth")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.key_directory", "")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.leeway", "30s")

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.password_check_attempts", 10)
	v.SetDefault("rate_limit.otp_issue_attempts", 3)
	v.SetDefault("rate_limit.otp_issue_window", "10m")
	v.SetDefault("rate_limit.otp_verify_attempts", 20)

	v.SetDefault("rbac.guard", "web")
	v.SetDefault("rbac.min_level", 1)
	v.SetDefault("rbac.max_level", 100)
	v.SetDefault("rbac.hierarchy_ttl", "1h")
	v.SetDefault("rbac.user_ttl", "15m")
	v.SetDefault("rbac.expiring_within", "168h")
	v.SetDefault("rbac.invalidate_origin", "")

	v.SetDefault("breach.enabled", true)
	v.SetDefault("breach.api_url", "https://api.pwnedpasswords.com/range/")
	v.SetDefault("breach.timeout", "10s")
	v.SetDefault("breach.cache_ttl", "1h")
	v.SetDefault("breach.requests_per_second", 10.0)
	v.SetDefault("breach.burst", 5)
	v.SetDefault("breach.degradation_policy", "lenient")
	v.SetDefault("breach.fingerprint_key", "change-me")
	v.SetDefault("breach.record_retention", "2160h")
	v.SetDefault("breach.user_agent", "superauth-breach-client")

	v.SetDefault("risk.history_window", "720h")
	v.SetDefault("risk.rapid_window", "10m")
	v.SetDefault("risk.rapid_threshold", 5)
	v.SetDefault("risk.unusual_threshold", 50)
	v.SetDefault("risk.high_risk_ip_failures", 3)
	v.SetDefault("risk.history_retention", "2160h")

	v.SetDefault("otp.length", 6)
	v.SetDefault("otp.ttl", "10m")
	v.SetDefault("otp.max_attempts", 3)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.expired_roles", "@every 1h")
	v.SetDefault("scheduler.expired_otps", "@every 15m")
	v.SetDefault("scheduler.breach_records", "@daily")
	v.SetDefault("scheduler.login_history", "@daily")

	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.memory_size", 4096)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
