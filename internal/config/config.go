package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP (metrics endpoint)
	HTTPPort string

	// Postgres
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers         string
	KafkaTopic           string
	KafkaGroupID         string
	KafkaUsername        string
	KafkaPassword        string
	KafkaMaxRetries      int
	KafkaCooldownSeconds int

	// MQTT
	MQTTBroker   string
	MQTTPort     int
	MQTTUsername string
	MQTTPassword string
	MQTTTopic    string

	// Pipeline
	EventChannelSize int
	ProcessorWorkers int

	// Source selection: "kafka" or "mqtt"
	EventSource string

	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPPort:             getEnv("HTTP_PORT", "8001"),
		DBHost:               getEnv("DB_HOST", "localhost"),
		DBPort:               getEnv("DB_PORT", "5432"),
		DBUser:               getEnv("DB_USER", "siscom"),
		DBPassword:           getEnv("DB_PWD", "siscom"),
		DBName:               getEnv("DB_DATABASE", "siscom_admin"),
		DBMaxConns:           int32(getEnvInt("DB_MAX_CONNS", 50)),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		KafkaBrokers:         getEnv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092"),
		KafkaTopic:           getEnv("KAFKA_TOPIC", "siscom-minimal"),
		KafkaGroupID:         getEnv("KAFKA_GROUP_ID", "siscom-trips-consumer"),
		KafkaUsername:        getEnv("KAFKA_USERNAME", ""),
		KafkaPassword:        getEnv("KAFKA_PASSWORD", ""),
		KafkaMaxRetries:      getEnvInt("KAFKA_MAX_RETRIES", 5),
		KafkaCooldownSeconds: getEnvInt("KAFKA_CIRCUIT_BREAKER_COOLDOWN", 300),
		MQTTBroker:           getEnv("MQTT_BROKER", "localhost"),
		MQTTPort:             getEnvInt("MQTT_PORT", 1883),
		MQTTUsername:         getEnv("MQTT_USERNAME", ""),
		MQTTPassword:         getEnv("MQTT_PASSWORD", ""),
		MQTTTopic:            getEnv("MQTT_TOPIC", "devices/+/telemetry"),
		EventChannelSize:     getEnvInt("EVENT_CHANNEL_SIZE", 10000),
		ProcessorWorkers:     getEnvInt("PROCESSOR_WORKERS", 10),
		EventSource:          getEnv("EVENT_SOURCE", "kafka"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
