package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AsaasEnvSandbox    = "sandbox"
	AsaasEnvProduction = "production"

	asaasSandboxURL    = "https://sandbox.asaas.com/api/v3"
	asaasProductionURL = "https://api.asaas.com/v3"
)

type Config struct {
	App           AppConfig
	Database      DatabaseConfig
	Asaas         AsaasConfig
	Supabase      SupabaseConfig
	SMTP          SMTPConfig
	Redis         RedisConfig
	Observability ObservabilityConfig
	Resilience    ResilienceConfig
	CORS          CORSConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	Name        string
	Port        int
	Env         string
	LogLevel    string
	FrontendURL string
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	RunMigrations bool
}

// AsaasConfig holds the billing gateway credentials.
type AsaasConfig struct {
	APIKey       string
	Environment  string
	BaseURL      string
	WebhookToken string
}

// IsSandbox reports whether the sandbox environment is configured.
func (c AsaasConfig) IsSandbox() bool {
	return c.Environment != AsaasEnvProduction
}

type SupabaseConfig struct {
	URL               string
	ServiceRoleKey    string
	JWTSecret         string
	InviteRedirectURL string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// RedisConfig is optional. An empty URL falls back to in-process locking.
type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

type ObservabilityConfig struct {
	OTLPEndpoint string
	MetricsPath  string
}

type ResilienceConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	HTTPTimeout    time.Duration
	// GatewayConcurrency caps in-flight Asaas calls. 0 disables the limit.
	GatewayConcurrency int
}

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: could not load .env file: %v", err)
	}

	config := &Config{}

	appPort, err := getEnvInt("APP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	config.App = AppConfig{
		Name:        getEnv("APP_NAME", "lead-flow"),
		Port:        appPort,
		Env:         getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
	}

	dbPort, err := getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	config.Database = DatabaseConfig{
		Host:          getEnv("DB_HOST", "localhost"),
		Port:          dbPort,
		User:          getEnv("DB_USER", "postgres"),
		Password:      getEnv("DB_PASSWORD", ""),
		Name:          getEnv("DB_NAME", "lead_flow"),
		SSLMode:       getEnv("DB_SSL_MODE", "disable"),
		RunMigrations: getEnv("DB_RUN_MIGRATIONS", "true") == "true",
	}

	asaasEnv := strings.ToLower(getEnv("ASAAS_ENVIRONMENT", AsaasEnvSandbox))
	config.Asaas = AsaasConfig{
		APIKey:       getEnv("ASAAS_API_KEY", ""),
		Environment:  asaasEnv,
		BaseURL:      getEnv("ASAAS_BASE_URL", asaasBaseURL(asaasEnv)),
		WebhookToken: getEnv("ASAAS_WEBHOOK_TOKEN", ""),
	}

	config.Supabase = SupabaseConfig{
		URL:               strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		ServiceRoleKey:    getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		JWTSecret:         getEnv("SUPABASE_JWT_SECRET", ""),
		InviteRedirectURL: getEnv("SUPABASE_INVITE_REDIRECT_URL", config.App.FrontendURL+"/set-password"),
	}

	smtpPort, err := getEnvInt("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}
	config.SMTP = SMTPConfig{
		Host:     getEnv("SMTP_HOST", ""),
		Port:     smtpPort,
		Username: getEnv("SMTP_USERNAME", ""),
		Password: getEnv("SMTP_PASSWORD", ""),
		From:     getEnv("SMTP_FROM", "no-reply@leadflow.com.br"),
		FromName: getEnv("SMTP_FROM_NAME", "Lead Flow"),
	}

	lockTTL, err := getEnvDuration("REDIS_LOCK_TTL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	config.Redis = RedisConfig{
		URL:     getEnv("REDIS_URL", ""),
		LockTTL: lockTTL,
	}

	config.Observability = ObservabilityConfig{
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MetricsPath:  getEnv("METRICS_PATH", "/metrics"),
	}

	maxRetries, err := getEnvInt("HTTP_MAX_RETRIES", 2)
	if err != nil {
		return nil, err
	}
	backoff, err := getEnvDuration("HTTP_INITIAL_BACKOFF", 200*time.Millisecond)
	if err != nil {
		return nil, err
	}
	timeout, err := getEnvDuration("HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	concurrency, err := getEnvInt("GATEWAY_MAX_CONCURRENCY", 10)
	if err != nil {
		return nil, err
	}
	config.Resilience = ResilienceConfig{
		MaxRetries:         maxRetries,
		InitialBackoff:     backoff,
		HTTPTimeout:        timeout,
		GatewayConcurrency: concurrency,
	}

	origins := getEnvSlice("CORS_ALLOWED_ORIGINS")
	if len(origins) == 0 {
		origins = []string{config.App.FrontendURL}
	}
	config.CORS = CORSConfig{AllowedOrigins: origins}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Asaas.APIKey == "" {
		return fmt.Errorf("ASAAS_API_KEY is required")
	}
	if c.Asaas.Environment != AsaasEnvSandbox && c.Asaas.Environment != AsaasEnvProduction {
		return fmt.Errorf("ASAAS_ENVIRONMENT must be %q or %q", AsaasEnvSandbox, AsaasEnvProduction)
	}
	if c.Asaas.WebhookToken == "" {
		return fmt.Errorf("ASAAS_WEBHOOK_TOKEN is required")
	}
	if c.Supabase.URL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.Supabase.ServiceRoleKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is required")
	}
	if c.Supabase.JWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func asaasBaseURL(env string) string {
	if env == AsaasEnvProduction {
		return asaasProductionURL
	}
	return asaasSandboxURL
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvSlice(env string) []string {
	value := getEnv(env, "")
	if value == "" {
		return []string{}
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			result = append(result, p)
		}
	}
	return result
}
