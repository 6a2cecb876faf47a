package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variables overriding file values
const EnvPrefix = "WHEREABOUTS_"

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Log          LogConfig          `yaml:"log"`
	JWT          JWTConfig          `yaml:"jwt"`
	API          APIConfig          `yaml:"api"`
	Registration RegistrationConfig `yaml:"registration"`
	Redis        RedisConfig        `yaml:"redis"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	AWS          AWSConfig          `yaml:"aws"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// JWTConfig holds the administrator token configuration
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// APIConfig holds the bearer tokens accepted by the machine API
type APIConfig struct {
	Tokens []string `yaml:"tokens"`
}

// RegistrationConfig holds the client registration default
type RegistrationConfig struct {
	Status string `yaml:"status"` // open or closed
}

// RedisConfig holds Redis configuration. Without an address the
// registration status is kept in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AMQPConfig holds the event broker configuration
type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// MQTTConfig holds the display broker configuration
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// AWSConfig holds the sound bucket configuration
type AWSConfig struct {
	Region    string        `yaml:"region"`
	S3Bucket  string        `yaml:"s3_bucket"`
	S3Prefix  string        `yaml:"s3_prefix"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Endpoint  string        `yaml:"endpoint"`
	URLExpiry time.Duration `yaml:"url_expiry"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file. Values from a .env file in
// the working directory and from WHEREABOUTS_* environment variables
// take precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data, os.LookupEnv)
}

// Parse decodes YAML and applies environment overrides looked up by lookup
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Defaults returns the configuration used for anything left unset
func Defaults() *Config {
	return &Config{
		Server:       ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database:     DatabaseConfig{Host: "localhost", Port: 5432, SSLMode: "disable"},
		Log:          LogConfig{Level: "info", Format: "console"},
		JWT:          JWTConfig{TTL: 12 * time.Hour},
		Registration: RegistrationConfig{Status: "closed"},
		AMQP:         AMQPConfig{Queue: "whereabouts.events"},
		MQTT:         MQTTConfig{ClientID: "whereabouts-backend", TopicPrefix: "whereabouts"},
		AWS:          AWSConfig{URLExpiry: 15 * time.Minute},
		Metrics:      MetricsConfig{Enabled: true},
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid int for %s%s: %q", EnvPrefix, key, v)
		}
		*dst = n
		return nil
	}

	str("SERVER_HOST", &c.Server.Host)
	if err := num("SERVER_PORT", &c.Server.Port); err != nil {
		return err
	}
	str("DATABASE_HOST", &c.Database.Host)
	if err := num("DATABASE_PORT", &c.Database.Port); err != nil {
		return err
	}
	str("DATABASE_USER", &c.Database.User)
	str("DATABASE_PASSWORD", &c.Database.Password)
	str("DATABASE_DBNAME", &c.Database.DBName)
	str("DATABASE_SSLMODE", &c.Database.SSLMode)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("JWT_SECRET", &c.JWT.Secret)
	if v, ok := lookup(EnvPrefix + "API_TOKENS"); ok {
		c.API.Tokens = splitList(v)
	}
	str("REGISTRATION_STATUS", &c.Registration.Status)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("AMQP_URL", &c.AMQP.URL)
	str("MQTT_BROKER", &c.MQTT.Broker)
	str("MQTT_USERNAME", &c.MQTT.Username)
	str("MQTT_PASSWORD", &c.MQTT.Password)
	str("AWS_REGION", &c.AWS.Region)
	str("AWS_S3_BUCKET", &c.AWS.S3Bucket)
	str("AWS_ACCESS_KEY", &c.AWS.AccessKey)
	str("AWS_SECRET_KEY", &c.AWS.SecretKey)
	str("AWS_ENDPOINT", &c.AWS.Endpoint)

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports missing or malformed settings
func (c *Config) Validate() error {
	var errs []error

	if c.Database.DBName == "" {
		errs = append(errs, errors.New("database.dbname is required"))
	}
	if c.Database.User == "" {
		errs = append(errs, errors.New("database.user is required"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if len(c.API.Tokens) == 0 {
		errs = append(errs, errors.New("api.tokens requires at least one token"))
	}
	switch c.Registration.Status {
	case "open", "closed":
	default:
		errs = append(errs, fmt.Errorf("registration.status must be open or closed, got %q", c.Registration.Status))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	return errors.Join(errs...)
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
