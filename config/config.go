package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Visual constants default to the values the reference front-end shipped with;
// infra settings (MySQL/Redis/MinIO) are optional and disable their layer when empty.
type Config struct {
	ServerAddr string
	FFmpegPath string

	// Visual surface
	OutputWidth     int    // fixed logical width, height follows image aspect
	DisplayFPS      int    // render loop tick rate
	AccentColor     string // hex accent hue for audio tint, e.g. "#30c8ff"
	OverlaySections int    // vertical sections of the waveform overlay

	// Analysis
	FFTWindowSize int // power of two, bins = size/2

	// Capture / export
	CaptureFPS       int
	ChunkSeconds     int    // intermediate segment length fed to the muxer
	MinRecordingKB   int    // finalize guard: recordings below this are malformed
	TempDir          string // working dir for capture/transcode scratch files
	ExportBitrate    string // audio bitrate for the intermediate, e.g. "192k"
	ArtifactFilename string

	// MySQL (export history, optional)
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis (job status cache, optional)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO (artifact archive, optional)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Logging
	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),

		OutputWidth:     getEnvInt("OUTPUT_WIDTH", 800),
		DisplayFPS:      getEnvInt("DISPLAY_FPS", 30),
		AccentColor:     getEnv("ACCENT_COLOR", "#30c8ff"),
		OverlaySections: getEnvInt("OVERLAY_SECTIONS", 40),

		FFTWindowSize: getEnvInt("FFT_WINDOW_SIZE", 128),

		CaptureFPS:       getEnvInt("CAPTURE_FPS", 30),
		ChunkSeconds:     getEnvInt("CHUNK_SECONDS", 1),
		MinRecordingKB:   getEnvInt("MIN_RECORDING_KB", 8),
		TempDir:          getEnv("TEMP_DIR", filepath.Join(os.TempDir(), "vizfm")),
		ExportBitrate:    getEnv("EXPORT_BITRATE", "192k"),
		ArtifactFilename: getEnv("ARTIFACT_FILENAME", "visualization.mp4"),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "vizfm"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "vizfm"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}
}
