package config

import (
	"fmt"
	"log"
	"os"
	"time"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string
	HTTPPort string

	// Remote attendance backend.
	AttendanceAPIURL string
	AttendanceToken  string
	SubmitTimeout    time.Duration

	// Camera devices per facing mode.
	BackDevice  string
	FrontDevice string
	Facing      string
	FrameWidth  int
	FrameHeight int

	// Scan pipeline.
	SampleInterval time.Duration
	RetryCooldown  time.Duration
	Continuous     bool
	AutoStart      bool
	StationName    string
	ScanLocation   string

	// Control API auth.
	JWTIssuer     string
	JWTSigningKey string
	TokenTTL      time.Duration

	// Outcome feed.
	FeedBackend string
	FeedSize    int
	RedisAddr   string

	RateLimitPerMin int
}

// Load returns application config populated from environment variables with sensible defaults.
func Load() App {
	return App{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPPort:         getEnv("HTTP_PORT", "8082"),
		AttendanceAPIURL: getEnv("ATTENDANCE_API_URL", "http://localhost:5000/api/students"),
		AttendanceToken:  getEnv("ATTENDANCE_API_TOKEN", ""),
		SubmitTimeout:    durationEnv("SUBMIT_TIMEOUT", 15*time.Second),
		BackDevice:       getEnv("CAMERA_DEVICE_BACK", "/dev/video0"),
		FrontDevice:      getEnv("CAMERA_DEVICE_FRONT", "/dev/video1"),
		Facing:           getEnv("CAMERA_FACING", "environment"),
		FrameWidth:       intEnv("FRAME_WIDTH", 1280),
		FrameHeight:      intEnv("FRAME_HEIGHT", 720),
		SampleInterval:   durationEnv("SAMPLE_INTERVAL", 500*time.Millisecond),
		RetryCooldown:    durationEnv("RETRY_COOLDOWN", 3*time.Second),
		Continuous:       boolEnv("CONTINUOUS_SCAN", true),
		AutoStart:        boolEnv("AUTO_START", false),
		StationName:      getEnv("STATION_NAME", "scan-station"),
		ScanLocation:     getEnv("SCAN_LOCATION", "Main Entrance"),
		JWTIssuer:        getEnv("JWT_ISSUER", "scanstation"),
		JWTSigningKey:    getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		TokenTTL:         durationEnv("TOKEN_TTL", 12*time.Hour),
		FeedBackend:      getEnv("FEED_BACKEND", "memory"),
		FeedSize:         intEnv("FEED_SIZE", 100),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RateLimitPerMin:  intEnv("RATE_LIMIT_PER_MIN", 120),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Printf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}
