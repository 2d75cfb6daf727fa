package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override.
const envPrefix = "INCIDENTDESK_"

// minJWTSecretLength matches auth.MinSecretLength.
const minJWTSecretLength = 32

// Mail transports.
const (
	MailTransportLog  = "log"
	MailTransportSMTP = "smtp"
	MailTransportMQTT = "mqtt"
)

// Config is the root configuration. It is loaded from YAML, then
// environment variables override individual secrets and endpoints.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Security SecurityConfig `yaml:"security"`
	Storage  StorageConfig  `yaml:"storage"`
	Mail     MailConfig     `yaml:"mail"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Admin    AdminConfig    `yaml:"admin"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	BaseURL  string           `yaml:"base_url"` // public origin used in emailed links
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a reverse proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// APITimeoutConfig contains HTTP timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// SecurityConfig groups credential and abuse-protection settings.
type SecurityConfig struct {
	JWT          JWTConfig          `yaml:"jwt"`
	Password     PasswordConfig     `yaml:"password"`
	Verification VerificationConfig `yaml:"verification"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
}

// JWTConfig contains token signing settings. TTLs are in minutes.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	Issuer         string `yaml:"issuer"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
	ResetTokenTTL  int    `yaml:"reset_token_ttl"`
}

// PasswordConfig contains Argon2id cost parameters.
type PasswordConfig struct {
	Time      uint32 `yaml:"time"`
	MemoryKiB uint32 `yaml:"memory_kib"`
	Threads   uint8  `yaml:"threads"`
}

// VerificationConfig contains email verification code settings.
type VerificationConfig struct {
	CodeLength int `yaml:"code_length"`
	TTLHours   int `yaml:"ttl_hours"`
}

// RateLimitConfig limits unauthenticated auth endpoints per client address.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// StorageConfig contains audio blob storage settings.
type StorageConfig struct {
	Root         string   `yaml:"root"`
	URLPrefix    string   `yaml:"url_prefix"`
	MaxBytes     int64    `yaml:"max_bytes"`
	AllowedTypes []string `yaml:"allowed_types"`
}

// MailConfig selects and configures the outbound email transport.
type MailConfig struct {
	Transport   string           `yaml:"transport"` // log, smtp or mqtt
	From        string           `yaml:"from"`
	QueueSize   int              `yaml:"queue_size"`
	SendTimeout int              `yaml:"send_timeout"` // seconds
	SMTP        SMTPConfig       `yaml:"smtp"`
	Outbox      MailOutboxConfig `yaml:"outbox"`
}

// SMTPConfig contains SMTP relay settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"` // require STARTTLS instead of opportunistic
}

// MailOutboxConfig configures publishing mail jobs to an MQTT mail bridge.
type MailOutboxConfig struct {
	Topic string `yaml:"topic"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection delays in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains incident telemetry export settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AdminConfig seeds the first administrator on an empty directory.
type AdminConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Surname  string `yaml:"surname"`
}

// Load reads configuration from path. An empty path skips the file and
// uses defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration. It has no JWT secret, so it
// does not validate until one is supplied.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/incidentdesk.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host:    "0.0.0.0",
			Port:    8000,
			BaseURL: "http://localhost:8000",
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  120,
			},
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:         "incidentdesk",
				AccessTokenTTL: 30,
				ResetTokenTTL:  60,
			},
			Password: PasswordConfig{
				Time:      3,
				MemoryKiB: 64 * 1024,
				Threads:   1,
			},
			Verification: VerificationConfig{
				CodeLength: 8,
				TTLHours:   24,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 20,
				Burst:             5,
			},
		},
		Storage: StorageConfig{
			Root:         "./static/audio",
			URLPrefix:    "/audio",
			MaxBytes:     10 << 20,
			AllowedTypes: []string{"audio/mpeg", "audio/wav", "audio/ogg"},
		},
		Mail: MailConfig{
			Transport:   MailTransportLog,
			From:        "noreply@incidentdesk.local",
			QueueSize:   64,
			SendTimeout: 15,
			SMTP: SMTPConfig{
				Port: 587,
			},
			Outbox: MailOutboxConfig{
				Topic: "incidentdesk/mail/outbox",
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "incidentdesk",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "incidents",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Admin: AdminConfig{
			Name:    "System",
			Surname: "Administrator",
		},
	}
}

// applyEnvOverrides replaces secrets and endpoints from INCIDENTDESK_*
// environment variables.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"DATABASE_PATH":  &cfg.Database.Path,
		"API_HOST":       &cfg.API.Host,
		"API_BASE_URL":   &cfg.API.BaseURL,
		"JWT_SECRET":     &cfg.Security.JWT.Secret,
		"STORAGE_ROOT":   &cfg.Storage.Root,
		"MAIL_TRANSPORT": &cfg.Mail.Transport,
		"MAIL_FROM":      &cfg.Mail.From,
		"SMTP_HOST":      &cfg.Mail.SMTP.Host,
		"SMTP_USERNAME":  &cfg.Mail.SMTP.Username,
		"SMTP_PASSWORD":  &cfg.Mail.SMTP.Password,
		"MQTT_HOST":      &cfg.MQTT.Broker.Host,
		"MQTT_USERNAME":  &cfg.MQTT.Auth.Username,
		"MQTT_PASSWORD":  &cfg.MQTT.Auth.Password,
		"INFLUXDB_URL":   &cfg.InfluxDB.URL,
		"INFLUXDB_TOKEN": &cfg.InfluxDB.Token,
		"ADMIN_EMAIL":    &cfg.Admin.Email,
		"ADMIN_PASSWORD": &cfg.Admin.Password,
		"LOG_LEVEL":      &cfg.Logging.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"API_PORT":  &cfg.API.Port,
		"SMTP_PORT": &cfg.Mail.SMTP.Port,
	}
	for key, dst := range ints {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}

	if v := os.Getenv(envPrefix + "API_TRUST_PROXY_HEADERS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %sAPI_TRUST_PROXY_HEADERS: %w", envPrefix, err)
		}
		cfg.API.TrustProxyHeaders = b
	}

	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set "+envPrefix+"JWT_SECRET)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("security.jwt.secret must be at least %d characters", minJWTSecretLength))
	}
	if c.Security.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "security.jwt.access_token_ttl must be positive")
	}
	if c.Security.JWT.ResetTokenTTL <= 0 {
		errs = append(errs, "security.jwt.reset_token_ttl must be positive")
	}

	if n := c.Security.Verification.CodeLength; n < 6 || n > 32 {
		errs = append(errs, "security.verification.code_length must be between 6 and 32")
	}
	if c.Security.Verification.TTLHours <= 0 {
		errs = append(errs, "security.verification.ttl_hours must be positive")
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be positive when enabled")
	}

	if c.Storage.Root == "" {
		errs = append(errs, "storage.root is required")
	}
	if !strings.HasPrefix(c.Storage.URLPrefix, "/") {
		errs = append(errs, "storage.url_prefix must start with /")
	}
	if c.Storage.MaxBytes <= 0 {
		errs = append(errs, "storage.max_bytes must be positive")
	}
	if len(c.Storage.AllowedTypes) == 0 {
		errs = append(errs, "storage.allowed_types must not be empty")
	}

	switch c.Mail.Transport {
	case MailTransportLog:
	case MailTransportSMTP:
		if c.Mail.SMTP.Host == "" {
			errs = append(errs, "mail.smtp.host is required for the smtp transport")
		}
	case MailTransportMQTT:
		if !c.MQTT.Enabled {
			errs = append(errs, "mqtt.enabled must be true for the mqtt mail transport")
		}
		if c.Mail.Outbox.Topic == "" {
			errs = append(errs, "mail.outbox.topic is required for the mqtt mail transport")
		}
	default:
		errs = append(errs, "mail.transport must be log, smtp or mqtt")
	}
	if c.Mail.From == "" {
		errs = append(errs, "mail.from is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if (c.Admin.Email == "") != (c.Admin.Password == "") {
		errs = append(errs, "admin.email and admin.password must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AccessTokenTTL returns the access token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// ResetTokenTTL returns the password reset token lifetime.
func (c *Config) ResetTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.ResetTokenTTL) * time.Minute
}

// VerificationTTL returns how long a verification code stays valid.
func (c *Config) VerificationTTL() time.Duration {
	return time.Duration(c.Security.Verification.TTLHours) * time.Hour
}

// MailSendTimeout bounds a single outbound email delivery.
func (c *Config) MailSendTimeout() time.Duration {
	return time.Duration(c.Mail.SendTimeout) * time.Second
}

func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
