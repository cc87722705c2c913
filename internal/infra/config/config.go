package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrSigningKeyMissing is returned by Validate when no JWT signing key is configured.
var ErrSigningKeyMissing = errors.New("config: jwt.signing_key is required")

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	TOTP      TOTPSettings      `mapstructure:"totp"`
	StepUp    StepUpSettings    `mapstructure:"step_up"`
	Throttle  ThrottleSettings  `mapstructure:"throttle"`
	Lockout   LockoutSettings   `mapstructure:"lockout"`
	RBAC      RBACSettings      `mapstructure:"rbac"`
	Guards    GuardSettings     `mapstructure:"guards"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// AllowedOrigins lists CORS origins; empty disables cross-origin access.
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
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

// RedisSettings configures Redis connection, TLS and key prefixes
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures the Kafka producer. An empty broker list selects the logging mailer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	MailTopic   string   `mapstructure:"mail_topic"`
}

type JWTSettings struct {
	SigningKey string `mapstructure:"signing_key"`
	Issuer     string `mapstructure:"issuer"`
	Audience   string `mapstructure:"audience"`
}

type TOTPSettings struct {
	Issuer string `mapstructure:"issuer"`
}

// StepUpSettings bounds the lifetime of second-factor challenges and emailed artifacts.
type StepUpSettings struct {
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	CodeTTL         time.Duration `mapstructure:"code_ttl"`
	ConfirmationTTL time.Duration `mapstructure:"confirmation_ttl"`
	// MaxAttempts caps the codes tried against one challenge before it is discarded.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// ThrottleSettings configures resend cooldown and the rolling daily cap.
type ThrottleSettings struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
	DailyCap int           `mapstructure:"daily_cap"`
	Window   time.Duration `mapstructure:"window"`
}

type LockoutSettings struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Duration    time.Duration `mapstructure:"duration"`
}

type RBACSettings struct {
	SuperAdminRole   string `mapstructure:"super_admin_role"`
	UnionDepartments bool   `mapstructure:"union_departments"`
}

// GuardSettings selects the freshness/throttle backend: "redis" or "memory".
type GuardSettings struct {
	Backend      string        `mapstructure:"backend"`
	FreshnessTTL time.Duration `mapstructure:"freshness_ttl"`
}

// RateLimitSettings configures the HTTP sliding-window limiter
type RateLimitSettings struct {
	WindowDuration   time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts int           `mapstructure:"login_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("IAM")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.allowed_origins",
		"app.shutdown_timeout",
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
		"redis.key_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.mail_topic",
		"jwt.signing_key",
		"jwt.issuer",
		"jwt.audience",
		"totp.issuer",
		"step_up.session_ttl",
		"step_up.code_ttl",
		"step_up.confirmation_ttl",
		"step_up.max_attempts",
		"throttle.cooldown",
		"throttle.daily_cap",
		"throttle.window",
		"lockout.max_failures",
		"lockout.duration",
		"rbac.super_admin_role",
		"rbac.union_departments",
		"guards.backend",
		"guards.freshness_ttl",
		"telemetry.tracing_enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.JWT.SigningKey) == "" {
		return ErrSigningKeyMissing
	}
	switch strings.ToLower(c.Guards.Backend) {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: unsupported guards.backend %q", c.Guards.Backend)
	}
	if c.Throttle.DailyCap <= 0 || c.Throttle.Window <= 0 {
		return fmt.Errorf("config: throttle.daily_cap and throttle.window must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "department-iam")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.allowed_origins", []string{})
	v.SetDefault("app.shutdown_timeout", "15s")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "iam")
	v.SetDefault("postgres.password", "iam_password")
	v.SetDefault("postgres.database", "iam")
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
	v.SetDefault("redis.key_prefix", "iam")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "iam")
	v.SetDefault("kafka.mail_topic", "notification.email")

	v.SetDefault("jwt.issuer", "department-iam")
	v.SetDefault("jwt.audience", "department-portal")

	v.SetDefault("totp.issuer", "Department IAM")

	v.SetDefault("step_up.session_ttl", "10m")
	v.SetDefault("step_up.code_ttl", "5m")
	v.SetDefault("step_up.confirmation_ttl", "24h")
	v.SetDefault("step_up.max_attempts", 5)

	v.SetDefault("throttle.cooldown", "60s")
	v.SetDefault("throttle.daily_cap", 5)
	v.SetDefault("throttle.window", "24h")

	v.SetDefault("lockout.max_failures", 5)
	v.SetDefault("lockout.duration", "15m")

	v.SetDefault("rbac.super_admin_role", "SuperAdmin")
	v.SetDefault("rbac.union_departments", false)

	v.SetDefault("guards.backend", "redis")
	v.SetDefault("guards.freshness_ttl", "24h")

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "department-iam")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 10)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "IAM_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
