package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	JWT           JWTConfig
	Sync          SyncConfig
	Collaborators CollaboratorConfig
	WebSocket     WebSocketConfig
	CORS          CORSConfig
	Logging       LoggingConfig
	Metrics       MetricsConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// URL is the CouchDB connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", d.User, d.Password, d.Host, d.Port)
}

// JWTConfig holds the secret shared with the identity provider that issues
// access tokens.
type JWTConfig struct {
	Secret string
}

type SyncConfig struct {
	ClockSkew            time.Duration
	TokenTTL             time.Duration
	TokenSecret          string
	LockWait             time.Duration
	DeferAttempts        int
	RetryInitialInterval time.Duration
	Workers              int
	DefaultCadence       time.Duration
	HistoryLimit         int
}

type CollaboratorConfig struct {
	QuizCatalogURL   string
	GamificationURL  string
	Timeout          time.Duration
	IdentityCacheTTL time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerUser  int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

type MetricsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	godotenv.Load()

	sync, err := loadSync()
	if err != nil {
		return nil, err
	}

	collaboratorTimeout, err := getEnvAsDuration("COLLABORATOR_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	identityTTL, err := getEnvAsDuration("IDENTITY_CACHE_TTL", "5m")
	if err != nil {
		return nil, err
	}

	jwtSecret := getEnv("JWT_SECRET", "dev-secret-change-in-production")
	if sync.TokenSecret == "" {
		sync.TokenSecret = jwtSecret
	}

	driver := getEnv("DB_DRIVER", "couchdb")
	if driver != "couchdb" && driver != "memory" {
		return nil, fmt.Errorf("invalid DB_DRIVER %q: want couchdb or memory", driver)
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Driver:   driver,
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "edupulse_sync"),
		},
		JWT: JWTConfig{
			Secret: jwtSecret,
		},
		Sync: *sync,
		Collaborators: CollaboratorConfig{
			QuizCatalogURL:   getEnv("QUIZ_CATALOG_URL", ""),
			GamificationURL:  getEnv("GAMIFICATION_URL", ""),
			Timeout:          collaboratorTimeout,
			IdentityCacheTTL: identityTTL,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 10485760)),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			MaxConnPerUser:  getEnvAsInt("WS_MAX_CONN_PER_USER", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}, nil
}

func loadSync() (*SyncConfig, error) {
	skew, err := getEnvAsDuration("SYNC_CLOCK_SKEW", "24h")
	if err != nil {
		return nil, err
	}
	ttl, err := getEnvAsDuration("SYNC_TOKEN_TTL", "720h")
	if err != nil {
		return nil, err
	}
	lockWait, err := getEnvAsDuration("SYNC_LOCK_WAIT", "250ms")
	if err != nil {
		return nil, err
	}
	retryInterval, err := getEnvAsDuration("SYNC_RETRY_INITIAL_INTERVAL", "50ms")
	if err != nil {
		return nil, err
	}
	cadence, err := getEnvAsDuration("SYNC_DEFAULT_CADENCE", "15m")
	if err != nil {
		return nil, err
	}

	return &SyncConfig{
		ClockSkew:            skew,
		TokenTTL:             ttl,
		TokenSecret:          getEnv("SYNC_TOKEN_SECRET", ""),
		LockWait:             lockWait,
		DeferAttempts:        getEnvAsInt("SYNC_DEFER_ATTEMPTS", 3),
		RetryInitialInterval: retryInterval,
		Workers:              getEnvAsInt("SYNC_WORKERS", 8),
		DefaultCadence:       cadence,
		HistoryLimit:         getEnvAsInt("SYNC_HISTORY_LIMIT", 50),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
