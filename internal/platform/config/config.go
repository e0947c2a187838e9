package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration. FromEnv builds it once in main
// so every other package receives plain values instead of reading the
// environment itself.
type Server struct {
	Addr        string
	DatabaseURL string

	Redis RedisConfig
	Kafka KafkaConfig
	QR    QRConfig
	Scan  ScanConfig
	Sweep SweepConfig

	// Timezone is the facility-local timezone used for every wall-clock
	// comparison (expiration, early arrival, late departure).
	Timezone string

	NotifyTimeout time.Duration
	NotifyBuffer  int

	JWTSigningKey string
}

// RedisConfig holds connection settings for the optional Redis instance.
// An empty URL disables Redis entirely.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds the lifecycle-event sink settings. Empty brokers disable
// the Kafka sink; events then go to the log sink only.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// QRConfig carries the token key material and validity window.
type QRConfig struct {
	// EncryptionKey is the base64url-encoded 32-byte AEAD key.
	EncryptionKey string
	// HMACSecret keys the detached signature over the ciphertext.
	HMACSecret string
	// ValidityWindow is added to the scheduled entry time to produce the
	// token expiration.
	ValidityWindow time.Duration
}

// ScanConfig captures scan-time policy knobs.
type ScanConfig struct {
	// DefaultAction is applied when a guard scans an entry without choosing
	// approve or reject. The historical behavior is approve, which means a
	// valid unexpired QR alone grants entry; it is a config value so
	// operators can change that posture.
	DefaultAction string
}

// SweepConfig controls the background expiration sweep.
type SweepConfig struct {
	Interval time.Duration
	LockTTL  time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:        getenv("GATEPASS_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getint("REDIS_POOL_SIZE", 10),
			MinIdleConns: getint("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getdur("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getdur("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getdur("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: split(os.Getenv("KAFKA_BROKERS")),
			Topic:   getenv("KAFKA_VISIT_EVENTS_TOPIC", "gatepass.visit-events"),
		},
		QR: QRConfig{
			EncryptionKey:  os.Getenv("QR_ENCRYPTION_KEY"),
			HMACSecret:     os.Getenv("QR_HMAC_SECRET"),
			ValidityWindow: getdur("QR_VALIDITY_WINDOW", 24*time.Hour),
		},
		Scan: ScanConfig{
			DefaultAction: getenv("SCAN_DEFAULT_ACTION", "approve"),
		},
		Sweep: SweepConfig{
			Interval: getdur("EXPIRATION_SWEEP_INTERVAL", 5*time.Minute),
			LockTTL:  getdur("EXPIRATION_SWEEP_LOCK_TTL", 4*time.Minute),
		},
		Timezone:      getenv("FACILITY_TIMEZONE", "America/Tegucigalpa"),
		NotifyTimeout: getdur("NOTIFY_TIMEOUT", 5*time.Second),
		NotifyBuffer:  getint("NOTIFY_BUFFER", 256),
		JWTSigningKey: getenv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func split(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
