package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Issuer string // Issuer claim for tokens (default: issuer)

	Algorithm      string        // JWT signing algorithm (RS256, ES256, EdDSA) (default: EdDSA)
	RSABits        int           // RSA key size for RS256 (default: 4096)
	NumKeys        int           // Number of active signing keys (default: 3, min: 1, max: 10)
	KeyStorageMode string        // Key storage mode (ephemeral, persistent) (default: ephemeral)
	KeyGracePeriod time.Duration // Verification window for retired keys (default: 30 days)
	MasterKeyPath  string        // Master key file sealing persistent keys (default: ./master.key)
	AccessTTL      time.Duration // Access token lifetime (default: 15m)
	RefreshTTL     time.Duration // Refresh token lifetime (default: 30 days)

	StoreDriver  string // sqlite or postgres (default: sqlite)
	DatabaseFile string // SQLite database file (default: ./issuer.db)
	DatabaseURL  string // Postgres connection string, required when StoreDriver is postgres

	RefreshStore  string // sql, redis or mongo (default: sql)
	RedisAddr     string // Redis address for the refresh store and cache (default: localhost:6379)
	RedisPassword string
	RedisDB       int
	MongoURI      string // MongoDB URI for the refresh store (default: mongodb://localhost:27017)
	MongoDatabase string // (default: issuer)

	CacheDriver string        // Client registry cache (memory, redis) (default: memory)
	CacheTTL    time.Duration // (default: 1m)

	PepperFile string // Pepper for client secret hashing (default: ./pepper)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // Operational HTTP port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)

	TracingExporter string // none, stdout or otlp (default: none)
	OTLPEndpoint    string // host:port for the OTLP/HTTP exporter (default: localhost:4318)
}

// LoadEnvFile loads path into the environment when it exists. Variables
// already set win over the file.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:         getEnvOrDefault("ISSUER_NAME", "issuer"),
		Algorithm:      getEnvOrDefault("ISSUER_ALGORITHM", "EdDSA"),
		RSABits:        getEnvIntOrDefault("ISSUER_RSA_BITS", 0), // 0 lets the key manager pick
		NumKeys:        getEnvIntOrDefault("ISSUER_NUM_KEYS", 0),
		KeyStorageMode: getEnvOrDefault("ISSUER_KEY_STORAGE_MODE", "ephemeral"),
		KeyGracePeriod: getEnvDurationOrDefault("ISSUER_KEY_GRACE_PERIOD", 30*24*time.Hour),
		MasterKeyPath:  getEnvOrDefault("ISSUER_MASTER_KEY_PATH", "master.key"),
		AccessTTL:      getEnvDurationOrDefault("ISSUER_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:     getEnvDurationOrDefault("ISSUER_REFRESH_TTL", 30*24*time.Hour),

		StoreDriver:  getEnvOrDefault("STORE_DRIVER", "sqlite"),
		DatabaseFile: getEnvOrDefault("DATABASE_FILE", "issuer.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),

		RefreshStore:  getEnvOrDefault("REFRESH_STORE", "sql"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),
		MongoURI:      getEnvOrDefault("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnvOrDefault("MONGO_DATABASE", "issuer"),

		CacheDriver: getEnvOrDefault("CACHE_DRIVER", "memory"),
		CacheTTL:    getEnvDurationOrDefault("CACHE_TTL", time.Minute),

		PepperFile: getEnvOrDefault("PEPPER_FILE", "pepper"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),

		TracingExporter: getEnvOrDefault("TRACING_EXPORTER", "none"),
		OTLPEndpoint:    getEnvOrDefault("OTLP_ENDPOINT", "localhost:4318"),
	}
	return cfg
}

// Validate rejects combinations the application cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.RefreshStore {
	case "sql", "redis", "mongo":
	default:
		errs = append(errs, fmt.Errorf("unknown REFRESH_STORE %q", c.RefreshStore))
	}
	switch c.KeyStorageMode {
	case "ephemeral", "persistent":
	default:
		errs = append(errs, fmt.Errorf("unknown ISSUER_KEY_STORAGE_MODE %q", c.KeyStorageMode))
	}
	switch c.TracingExporter {
	case "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("unknown TRACING_EXPORTER %q", c.TracingExporter))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Go duration syntax first ("1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
