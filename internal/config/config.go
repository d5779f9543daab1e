package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPPort    string
	LogLevel    string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
}

// Load reads configuration from the environment, with .env as a dev convenience.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getEnv("APP_NAME", "bankcore"),
		AppVersion:  getEnv("APP_VERSION", "0.1.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		OtelEnabled:          getEnvBool("OTEL_ENABLED", false),
		OtelExporterEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OtelExporterProtocol: getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),

		DBType:            getEnv("DB_TYPE", "postgres"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBName:            getEnv("DB_NAME", "bankcore"),
		DBUser:            getEnv("DB_USER", "bankcore"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		DBMaxIdleConn:     getEnvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getEnvInt("DB_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getEnvInt("DB_CONN_MAX_LIFETIME", 3600),
	}
	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
