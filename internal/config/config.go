package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr       string
	DataDir    string
	CORSOrigin string
	// Remote collaborator (the backend that owns the authoritative store)
	RemoteBaseURL string
	RemoteToken   string
	// Redis Configuration - optional playback URL cache
	RedisURL string
	// MinIO Configuration - optional direct media target
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	UploadTTL      time.Duration
	PlaybackTTL    time.Duration
}

func Load() Config {
	// .env is optional; env vars win
	_ = godotenv.Load()

	return Config{
		Addr:          getenv("API_ADDR", ":8686"),
		DataDir:       getenv("SOP_DATA_DIR", "./data"),
		CORSOrigin:    getenv("SOP_CORS_ORIGIN", "*"),
		RemoteBaseURL: getenv("SOP_REMOTE_URL", ""),
		RemoteToken:   getenv("SOP_REMOTE_TOKEN", ""),
		// Redis - empty by default, URL cache disabled if not configured
		RedisURL: getenv("REDIS_URL", ""),
		// MinIO - empty by default, direct media target disabled if not configured
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "sop-videos"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
		UploadTTL:      time.Duration(getenvInt("SOP_UPLOAD_TTL_SECONDS", 900)) * time.Second,
		PlaybackTTL:    time.Duration(getenvInt("SOP_PLAYBACK_TTL_SECONDS", 3600)) * time.Second,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
