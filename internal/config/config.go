package config

import (
	"os"
)

type Config struct {
	ServiceName    string
	HTTPAddr       string
	ObsHTTPAddr    string
	DatabaseURL    string
	KafkaBrokers   string
	KafkaTopic     string
	KafkaGroup     string
	RedisAddr      string
	InstanceID     string
	MetricsEnabled bool
	TracingEnabled bool
	JaegerURL      string
}

func Load() *Config {
	return &Config{
		ServiceName:    getEnv("SERVICE_NAME", "matchtalk"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		ObsHTTPAddr:    getEnv("OBS_HTTP_ADDR", ":8090"),
		DatabaseURL:    mustEnv("DATABASE_URL"),
		KafkaBrokers:   mustEnv("KAFKA_BROKERS"),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "matchtalk.events"),
		KafkaGroup:     getEnv("KAFKA_GROUP", "matchtalk"),
		RedisAddr:      mustEnv("REDIS_ADDR"),
		InstanceID:     getEnv("INSTANCE_ID", hostname()),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		JaegerURL:      getEnv("JAEGER_URL", "http://localhost:14268/api/traces"),
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "matchtalk-0"
	}
	return h
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true"
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("missing required env: " + k)
	}
	return v
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
