package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	// Server
	Port    string
	DataDir string

	// GCP
	GCPProjectID string
	GCPBucket    string
	GCPLocation  string

	// Generation
	GenerationBackend string
	GeminiAPIKeys     []string
	GeminiTextModel   string
	GeminiImageModel  string

	// Video
	VideoAPIURL string
	VideoAPIKey string
	VideoModel  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Supabase
	SupabaseURL            string
	SupabaseServiceKey     string
	SupabaseStorageBaseURL string
	SupabaseBucket         string

	// Pipeline
	InterCallDelay    time.Duration
	VideoPollInterval time.Duration
	SnapshotMaxBytes  int
}

const (
	BackendGemini = "gemini"
	BackendVertex = "vertex"
)

var globalConfig *Config

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env file not found, using environment variables")
	}

	cfg := &Config{
		Port:    getEnv("PORT", "8005"),
		DataDir: getEnv("DATA_DIR", "data"),

		GCPProjectID: getEnv("GCP_PROJECT_ID", "veopromptmachine"),
		GCPBucket:    getEnv("GCP_BUCKET", "veo-prompt-machine"),
		GCPLocation:  getEnv("GCP_LOCATION", "us-central1"),

		GenerationBackend: strings.ToLower(getEnv("GENERATION_BACKEND", BackendGemini)),
		GeminiAPIKeys:     apiKeys(getEnv("GEMINI_API_KEY", ""), getEnv("GEMINI_API_KEYS", "")),
		GeminiTextModel:   getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
		GeminiImageModel:  getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),

		VideoAPIURL: strings.TrimRight(getEnv("VIDEO_API_URL", "https://api.kie.ai/api/v1/veo"), "/"),
		VideoAPIKey: getEnv("VIDEO_API_KEY", ""),
		VideoModel:  getEnv("VIDEO_MODEL", "veo3_fast"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   getEnvBool("REDIS_USE_TLS", false),

		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:     getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBaseURL: getEnv("SUPABASE_STORAGE_BASE_URL", ""),
		SupabaseBucket:         getEnv("SUPABASE_BUCKET", "shotbook"),

		InterCallDelay:    getEnvDuration("INTER_CALL_DELAY", 2*time.Second),
		VideoPollInterval: getEnvDuration("VIDEO_POLL_INTERVAL", 10*time.Second),
		SnapshotMaxBytes:  getEnvInt("SNAPSHOT_MAX_BYTES", 5*1024*1024),
	}

	// 필수 환경변수 검증
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg

	log.Println("✅ Configuration loaded successfully")
	log.Printf("   Backend: %s (text: %s, image: %s, keys: %d)", cfg.GenerationBackend, cfg.GeminiTextModel, cfg.GeminiImageModel, len(cfg.GeminiAPIKeys))
	log.Printf("   Redis: %s (TLS: %v)", cfg.redisLabel(), cfg.RedisUseTLS)
	log.Printf("   Supabase: %s", cfg.SupabaseURL)
	log.Printf("   Pipeline: delay=%s, poll=%s, snapshot quota=%d bytes", cfg.InterCallDelay, cfg.VideoPollInterval, cfg.SnapshotMaxBytes)

	return cfg, nil
}

// GetConfig - 로드된 설정 가져오기
func GetConfig() *Config {
	if globalConfig == nil {
		log.Fatal("❌ Config not loaded. Call LoadConfig() first.")
	}
	return globalConfig
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	switch c.GenerationBackend {
	case BackendGemini:
		if len(c.GeminiAPIKeys) == 0 {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	case BackendVertex:
		if c.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required for the vertex backend")
		}
		if len(c.GeminiAPIKeys) == 0 {
			return fmt.Errorf("GEMINI_API_KEY is required for image synthesis")
		}
	default:
		return fmt.Errorf("unknown GENERATION_BACKEND: %s", c.GenerationBackend)
	}
	if c.InterCallDelay < 0 {
		return fmt.Errorf("INTER_CALL_DELAY must not be negative")
	}
	if c.VideoPollInterval <= 0 {
		return fmt.Errorf("VIDEO_POLL_INTERVAL must be positive")
	}
	return nil
}

// RedisEnabled - Redis 설정 여부
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// SupabaseEnabled - Supabase 설정 여부
func (c *Config) SupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) redisLabel() string {
	if !c.RedisEnabled() {
		return "disabled"
	}
	return c.GetRedisAddr()
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		log.Printf("⚠️  Invalid %s=%q, using default %v", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		log.Printf("⚠️  Invalid %s=%q, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

// apiKeys - 단일 키와 콤마 구분 키 목록을 중복 없이 병합
func apiKeys(primary, list string) []string {
	seen := map[string]bool{}
	keys := []string{}
	for _, k := range append([]string{primary}, strings.Split(list, ",")...) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}
