package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// CloudPlatformScope - 업스트림 호출에 필요한 OAuth scope
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Config 구조체 - 시작 시 한 번 로드되고 이후 변경되지 않음
type Config struct {
	// Server
	Port string

	// Google
	GoogleEndpoint        string
	ServiceAccountKeyPath string
	ServiceAccountKeyJSON string
	Scope                 string
	CredentialTimeout     time.Duration
	UpstreamTimeout       time.Duration
	DefaultSampleCount    int

	// Token cache (Redis)
	TokenCacheEnabled bool
	TokenCacheSkew    time.Duration
	RedisHost         string
	RedisPort         string
	RedisUsername     string
	RedisPassword     string
	RedisUseTLS       bool

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig - .env 와 환경변수에서 설정 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env file not found, using environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv - lookup 함수로부터 Config 생성 (테스트에서 환경 대체용)
func FromEnv(lookup func(string) string) (*Config, error) {
	env := envReader{lookup: lookup}

	cfg := &Config{
		Port: env.str("PORT", "5000"),

		GoogleEndpoint:        env.str("GOOGLE_ENDPOINT", ""),
		ServiceAccountKeyPath: env.str("GOOGLE_SERVICE_ACCOUNT_KEY", ""),
		ServiceAccountKeyJSON: env.str("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		Scope:                 CloudPlatformScope,
		CredentialTimeout:     env.duration("CREDENTIAL_TIMEOUT", 10*time.Second),
		UpstreamTimeout:       env.duration("UPSTREAM_TIMEOUT", 120*time.Second),
		DefaultSampleCount:    env.integer("DEFAULT_SAMPLE_COUNT", 3),

		TokenCacheEnabled: env.boolean("TOKEN_CACHE_ENABLED", false),
		TokenCacheSkew:    env.duration("TOKEN_CACHE_SKEW", 60*time.Second),
		RedisHost:         env.str("REDIS_HOST", "localhost"),
		RedisPort:         env.str("REDIS_PORT", "6379"),
		RedisUsername:     env.str("REDIS_USERNAME", ""),
		RedisPassword:     env.str("REDIS_PASSWORD", ""),
		RedisUseTLS:       env.boolean("REDIS_USE_TLS", false),

		LogLevel:  env.str("LOG_LEVEL", "info"),
		LogFormat: env.str("LOG_FORMAT", "json"),
	}

	// 필수 환경변수 검증
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	if c.GoogleEndpoint == "" {
		return fmt.Errorf("GOOGLE_ENDPOINT is required")
	}
	u, err := url.Parse(c.GoogleEndpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("GOOGLE_ENDPOINT must be an absolute http(s) URL, got %q", c.GoogleEndpoint)
	}
	if c.CredentialTimeout <= 0 {
		return fmt.Errorf("CREDENTIAL_TIMEOUT must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if c.DefaultSampleCount <= 0 {
		return fmt.Errorf("DEFAULT_SAMPLE_COUNT must be positive")
	}
	return nil
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// CredentialSource - 로그용 자격증명 출처 설명
func (c *Config) CredentialSource() string {
	switch {
	case c.ServiceAccountKeyJSON != "":
		return "GOOGLE_SERVICE_ACCOUNT_JSON"
	case c.ServiceAccountKeyPath != "":
		return "file:" + c.ServiceAccountKeyPath
	default:
		return "application-default"
	}
}

type envReader struct {
	lookup func(string) string
}

// str - 환경변수 가져오기 (기본값 지원)
func (e envReader) str(key, defaultValue string) string {
	if value := e.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

func (e envReader) integer(key string, defaultValue int) int {
	raw := e.lookup(key)
	if raw == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, raw, defaultValue)
		return defaultValue
	}
	return parsed
}

func (e envReader) boolean(key string, defaultValue bool) bool {
	raw := e.lookup(key)
	if raw == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %v", key, raw, defaultValue)
		return defaultValue
	}
	return parsed
}

func (e envReader) duration(key string, defaultValue time.Duration) time.Duration {
	raw := e.lookup(key)
	if raw == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %s", key, raw, defaultValue)
		return defaultValue
	}
	return parsed
}
