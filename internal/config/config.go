package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cheongam/chatbot-backend/internal/platform/envutil"
)

const defaultAssistantInstructions = `You are 청암 챗봇, a helpful AI assistant that answers questions based on the uploaded documents.

CRITICAL INSTRUCTIONS:
1. When asked about documents or their contents, you MUST use the file_search tool to search through attached files
2. NEVER make up or hallucinate document names - only refer to files that are actually attached
3. When asked "현재 가지고 있는 문서 이름들 알려줘" or similar, list ONLY the actual file names attached to the vector store
4. If no relevant information is found in the uploaded documents, clearly state "업로드된 문서에서 해당 정보를 찾을 수 없습니다"
5. Always search files before answering questions about document contents

Respond in the same language as the user's question (Korean or English).`

// AssistantProfile is the persona the hosted assistant is created/updated with.
// It can be overridden from a YAML file via ASSISTANT_PROFILE_PATH.
type AssistantProfile struct {
	Name         string  `yaml:"name"`
	Instructions string  `yaml:"instructions"`
	Model        string  `yaml:"model"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
}

type Config struct {
	Env  string
	Port string

	CORSOrigins []string

	JWTSecretKey string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration

	MaxFileSize         int64
	SupportedExtensions []string

	AssistantID   string
	VectorStoreID string
	Assistant     AssistantProfile

	DefaultChatStrategy string

	SessionCacheTTL time.Duration

	QuotaDailyTokens   int
	QuotaDailyRequests int
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:  envutil.Str("APP_ENV", "development"),
		Port: envutil.Str("PORT", "8080"),

		CORSOrigins: envutil.List("CORS_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:3001",
			"http://localhost:5173",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:5173",
		}),

		JWTSecretKey: envutil.Str("JWT_SECRET_KEY", ""),
		AccessTTL:    envutil.Duration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTTL:   envutil.Duration("REFRESH_TOKEN_TTL", 24*time.Hour),

		MaxFileSize:         envutil.Int64("MAX_FILE_SIZE", 30*1024*1024),
		SupportedExtensions: envutil.List("SUPPORTED_EXTENSIONS", []string{".pdf", ".txt", ".md", ".docx"}),

		AssistantID:   envutil.Str("OPENAI_ASSISTANT_ID", ""),
		VectorStoreID: envutil.Str("OPENAI_VECTOR_STORE_ID", ""),

		DefaultChatStrategy: envutil.Str("CHAT_STRATEGY", "thread"),

		SessionCacheTTL: envutil.Duration("SESSION_CACHE_TTL", time.Hour),

		QuotaDailyTokens:   envutil.Int("QUOTA_DAILY_TOKENS", 100000),
		QuotaDailyRequests: envutil.Int("QUOTA_DAILY_REQUESTS", 200),
	}

	switch cfg.Env {
	case "development", "staging", "production", "test":
	default:
		return nil, fmt.Errorf("invalid APP_ENV %q", cfg.Env)
	}
	if cfg.JWTSecretKey == "" {
		if cfg.Env == "production" {
			return nil, fmt.Errorf("JWT_SECRET_KEY is required in production")
		}
		cfg.JWTSecretKey = "devsecret"
	}

	profile, err := loadAssistantProfile(envutil.Str("ASSISTANT_PROFILE_PATH", ""))
	if err != nil {
		return nil, err
	}
	cfg.Assistant = profile

	return cfg, nil
}

func loadAssistantProfile(path string) (AssistantProfile, error) {
	profile := AssistantProfile{
		Name:         envutil.Str("ASSISTANT_NAME", "청암 챗봇"),
		Instructions: defaultAssistantInstructions,
		Model:        envutil.Str("ASSISTANT_MODEL", "gpt-4-turbo-preview"),
		Temperature:  envutil.Float("ASSISTANT_TEMPERATURE", 0.7),
		MaxTokens:    envutil.Int("ASSISTANT_MAX_TOKENS", 800),
	}
	if path == "" {
		return profile, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("read assistant profile %s: %w", path, err)
	}
	var fileProfile AssistantProfile
	if err := yaml.Unmarshal(raw, &fileProfile); err != nil {
		return profile, fmt.Errorf("parse assistant profile %s: %w", path, err)
	}
	if fileProfile.Name != "" {
		profile.Name = fileProfile.Name
	}
	if fileProfile.Instructions != "" {
		profile.Instructions = fileProfile.Instructions
	}
	if fileProfile.Model != "" {
		profile.Model = fileProfile.Model
	}
	if fileProfile.Temperature != 0 {
		profile.Temperature = fileProfile.Temperature
	}
	if fileProfile.MaxTokens != 0 {
		profile.MaxTokens = fileProfile.MaxTokens
	}
	return profile, nil
}

// AllowsExtension reports whether filename carries a supported extension.
func (c *Config) AllowsExtension(filename string) bool {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return false
	}
	ext := strings.ToLower(filename[idx:])
	for _, allowed := range c.SupportedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
