package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the api and worker processes read from the environment.
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Agent    AgentConfig
	Queue    QueueConfig
	Chat     ChatConfig
	WhatsApp WhatsAppConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// PublicBaseURL is the externally visible origin Twilio posts to. Signatures
	// are computed over PublicBaseURL + request path, not the internal host.
	PublicBaseURL string

	ValidateSignature bool
}

// StatusCallbackURL is where outbound message status updates are posted.
func (t TwilioConfig) StatusCallbackURL() string {
	if t.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(t.PublicBaseURL, "/") + "/webhooks/twilio/status"
}

type AgentConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type QueueConfig struct {
	SigningKey  string
	Stream      string
	Group       string
	Consumer    string
	MaxAttempts int

	// MinIdle is how long a job stays with its consumer before another may
	// reclaim it. It must exceed CHAT_LOCK_TTL so a running reply is never
	// handed to a second worker.
	MinIdle time.Duration
}

type ChatConfig struct {
	LockTTL             time.Duration
	IdleTimeout         time.Duration
	SweepInterval       time.Duration
	MaxConcurrentPerOrg int
}

type WhatsAppConfig struct {
	// Transport selects the outbound sender: "twilio" or "whatsmeow".
	Transport string
	DataDir   string
}

const maxAgentTimeout = 3 * time.Minute

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = mustInt(&parseErrs, "APP_PORT")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = mustInt(&parseErrs, "DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = mustInt(&parseErrs, "REDIS_PORT")
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Durations are optional; defaults are applied in Validate().
	c.Auth.AccessTokenTTL = optionalDuration(&parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optionalDuration(&parseErrs, "JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PublicBaseURL = strings.TrimSpace(os.Getenv("TWILIO_PUBLIC_BASE_URL"))
	c.Twilio.ValidateSignature = optionalBool(&parseErrs, "TWILIO_VALIDATE_SIGNATURE", true)

	c.Agent.BaseURL = strings.TrimSpace(os.Getenv("AGENT_BASE_URL"))
	c.Agent.APIKey = strings.TrimSpace(os.Getenv("AGENT_API_KEY"))
	c.Agent.Model = strings.TrimSpace(os.Getenv("AGENT_MODEL"))
	c.Agent.Timeout = optionalDuration(&parseErrs, "AGENT_TIMEOUT")

	c.Queue.SigningKey = os.Getenv("QUEUE_SIGNING_KEY")
	c.Queue.Stream = strings.TrimSpace(os.Getenv("QUEUE_STREAM"))
	c.Queue.Group = strings.TrimSpace(os.Getenv("QUEUE_GROUP"))
	c.Queue.Consumer = strings.TrimSpace(os.Getenv("QUEUE_CONSUMER"))
	c.Queue.MaxAttempts = optionalInt(&parseErrs, "QUEUE_MAX_ATTEMPTS")
	c.Queue.MinIdle = optionalDuration(&parseErrs, "QUEUE_MIN_IDLE")

	c.Chat.LockTTL = optionalDuration(&parseErrs, "CHAT_LOCK_TTL")
	c.Chat.IdleTimeout = optionalDuration(&parseErrs, "CHAT_IDLE_TIMEOUT")
	c.Chat.SweepInterval = optionalDuration(&parseErrs, "CHAT_SWEEP_INTERVAL")
	c.Chat.MaxConcurrentPerOrg = optionalInt(&parseErrs, "CHAT_MAX_CONCURRENT_PER_ORG")

	c.WhatsApp.Transport = strings.TrimSpace(os.Getenv("WHATSAPP_TRANSPORT"))
	c.WhatsApp.DataDir = strings.TrimSpace(os.Getenv("WHATSAPP_DATA_DIR"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies defaults in place and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.IsProduction() && !c.Twilio.ValidateSignature {
		errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURE cannot be disabled in production"))
	}
	if c.Twilio.ValidateSignature {
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when signature validation is on"))
		}
		if c.Twilio.PublicBaseURL == "" {
			errs = append(errs, errors.New("TWILIO_PUBLIC_BASE_URL is required when signature validation is on"))
		}
	}

	if c.Agent.Model == "" {
		c.Agent.Model = "gpt-4.1-mini"
	}
	if c.Agent.BaseURL == "" {
		c.Agent.BaseURL = "https://api.openai.com/v1"
	}
	if c.Agent.Timeout <= 0 {
		c.Agent.Timeout = maxAgentTimeout
	}
	if c.Agent.Timeout > maxAgentTimeout {
		errs = append(errs, fmt.Errorf("AGENT_TIMEOUT must not exceed %s, got %s", maxAgentTimeout, c.Agent.Timeout))
	}

	if c.Queue.SigningKey == "" {
		errs = append(errs, errors.New("QUEUE_SIGNING_KEY is required"))
	}
	if c.Queue.Stream == "" {
		c.Queue.Stream = "jobs:chat"
	}
	if c.Queue.Group == "" {
		c.Queue.Group = "chat-workers"
	}
	if c.Queue.Consumer == "" {
		host, _ := os.Hostname()
		c.Queue.Consumer = "worker-" + host
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 5
	}

	if c.Chat.LockTTL <= 0 {
		c.Chat.LockTTL = 4 * time.Minute
	}
	if c.Chat.LockTTL <= c.Agent.Timeout {
		errs = append(errs, fmt.Errorf("CHAT_LOCK_TTL (%s) must exceed AGENT_TIMEOUT (%s)", c.Chat.LockTTL, c.Agent.Timeout))
	}
	if c.Queue.MinIdle <= 0 {
		c.Queue.MinIdle = c.Chat.LockTTL + time.Minute
	}
	if c.Queue.MinIdle <= c.Chat.LockTTL {
		errs = append(errs, fmt.Errorf("QUEUE_MIN_IDLE (%s) must exceed CHAT_LOCK_TTL (%s)", c.Queue.MinIdle, c.Chat.LockTTL))
	}
	if c.Chat.IdleTimeout <= 0 {
		c.Chat.IdleTimeout = 24 * time.Hour
	}
	if c.Chat.SweepInterval <= 0 {
		c.Chat.SweepInterval = 10 * time.Minute
	}
	if c.Chat.MaxConcurrentPerOrg <= 0 {
		c.Chat.MaxConcurrentPerOrg = 4
	}

	switch c.WhatsApp.Transport {
	case "":
		c.WhatsApp.Transport = "twilio"
	case "twilio":
	case "whatsmeow":
		if c.WhatsApp.DataDir == "" {
			errs = append(errs, errors.New("WHATSAPP_DATA_DIR is required for the whatsmeow transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("WHATSAPP_TRANSPORT must be twilio or whatsmeow, got %q", c.WhatsApp.Transport))
	}
	if c.WhatsApp.Transport == "twilio" && c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required for the twilio transport"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(errs *[]error, key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		*errs = append(*errs, fmt.Errorf("%s is required", key))
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func optionalInt(errs *[]error, key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func optionalDuration(errs *[]error, key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return 0
	}
	return d
}

func optionalBool(errs *[]error, key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
