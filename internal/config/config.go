package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string

	AWSRegion        string
	SQSEventQueueURL string
	IoTMQTTEndpoint  string
	MQTTNamespace    string // Tiền tố topic MQTT của cảm biến, mặc định "parking"

	JWTSecret          string
	JWTExpirationHours time.Duration

	ReservationHoldDuration time.Duration // Thời gian giữ chỗ của một reservation, mặc định 10 phút
	ExpiryCheckInterval     time.Duration // Chu kỳ quét reservation hết hạn, mặc định 2 phút
}

func Load() *Config {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Printf("Cảnh báo: Không thể tải file .env: %v", err)
	}

	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	jwtExpHours, _ := strconv.Atoi(getEnv("JWT_EXPIRATION_HOURS", "24"))
	holdMinutes, _ := strconv.Atoi(getEnv("RESERVATION_HOLD_MINUTES", "10"))
	checkMinutes, _ := strconv.Atoi(getEnv("EXPIRY_CHECK_INTERVAL_MINUTES", "2"))

	return &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "youruser"),
		DBPassword: getEnv("DB_PASSWORD", "yourpassword"),
		DBName:     getEnv("DB_NAME", "smart_parking"),
		DBSslMode:  getEnv("DB_SSLMODE", "disable"),

		AWSRegion:        getEnv("AWS_REGION", "ap-southeast-1"),
		SQSEventQueueURL: getEnv("SQS_EVENT_QUEUE_URL", ""),
		IoTMQTTEndpoint:  getEnv("IOT_MQTT_ENDPOINT", ""),
		MQTTNamespace:    getEnv("MQTT_TOPIC_NAMESPACE", "parking"),

		JWTSecret:          getEnv("JWT_SECRET", "your-very-secret-key-for-jwt-!@#$"),
		JWTExpirationHours: time.Duration(jwtExpHours) * time.Hour,

		ReservationHoldDuration: time.Duration(holdMinutes) * time.Minute,
		ExpiryCheckInterval:     time.Duration(checkMinutes) * time.Minute,
	}
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Biến môi trường '%s' không được đặt, sử dụng giá trị mặc định: '%s'", key, fallback)
	return fallback
}
