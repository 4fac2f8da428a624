package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env         string `mapstructure:"ENV"`
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	AdminKey    string `mapstructure:"ADMIN_KEY"`
	CORSAllowed string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DataDir     string `mapstructure:"DATA_DIR"`

	// LLM provider (OpenRouter or any OpenAI-compatible endpoint).
	AIBaseURL     string        `mapstructure:"AI_BASE_URL"`
	AIAPIKey      string        `mapstructure:"AI_API_KEY"`
	AIModel       string        `mapstructure:"AI_MODEL"`
	AITimeout     time.Duration `mapstructure:"AI_TIMEOUT"`
	AIMaxTokens   int           `mapstructure:"AI_MAX_TOKENS"`
	AITemperature float64       `mapstructure:"AI_TEMPERATURE"`

	// Embeddings for the knowledge index.
	EmbedBaseURL string `mapstructure:"EMBED_BASE_URL"`
	EmbedAPIKey  string `mapstructure:"EMBED_API_KEY"`
	EmbedModel   string `mapstructure:"EMBED_MODEL"`

	KnowledgeEmbedTimeout time.Duration `mapstructure:"KNOWLEDGE_EMBED_TIMEOUT"`
	KnowledgeQueryTimeout time.Duration `mapstructure:"KNOWLEDGE_QUERY_TIMEOUT"`
	KnowledgeTopK         int           `mapstructure:"KNOWLEDGE_TOP_K"`

	// Meta (WhatsApp/Instagram/Facebook) webhook credentials.
	MetaAppSecret   string `mapstructure:"META_APP_SECRET"`
	MetaVerifyToken string `mapstructure:"META_WEBHOOK_VERIFY_TOKEN"`

	// Vapi voice collaborator.
	VapiBaseURL    string `mapstructure:"VAPI_BASE_URL"`
	VapiPrivateKey string `mapstructure:"VAPI_PRIVATE_KEY"`

	// 64-char hex (32 bytes) AES-256-GCM key for channel credentials.
	EncryptionKey string `mapstructure:"ENCRYPTION_KEY"`

	// Pipeline tuning.
	HistoryWindow   int           `mapstructure:"HISTORY_WINDOW"`
	MaxToolRounds   int           `mapstructure:"MAX_TOOL_ROUNDS"`
	RetryBackoff    time.Duration `mapstructure:"RETRY_BACKOFF"`
	QueueSize       int           `mapstructure:"QUEUE_SIZE"`
	Workers         int           `mapstructure:"WORKERS"`
	PipelineTimeout time.Duration `mapstructure:"PIPELINE_TIMEOUT"`
	SenderRate      float64       `mapstructure:"SENDER_RATE"`
	SenderBurst     int           `mapstructure:"SENDER_BURST"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("DATA_DIR", "./data")

	v.SetDefault("AI_BASE_URL", "https://openrouter.ai/api/v1")
	v.SetDefault("AI_MODEL", "openai/gpt-4-turbo-preview")
	v.SetDefault("AI_TIMEOUT", "45s")
	v.SetDefault("AI_MAX_TOKENS", 1000)
	v.SetDefault("AI_TEMPERATURE", 0.7)

	v.SetDefault("EMBED_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("EMBED_MODEL", "text-embedding-3-small")
	v.SetDefault("KNOWLEDGE_EMBED_TIMEOUT", "5s")
	v.SetDefault("KNOWLEDGE_QUERY_TIMEOUT", "3s")
	v.SetDefault("KNOWLEDGE_TOP_K", 5)

	v.SetDefault("VAPI_BASE_URL", "https://api.vapi.ai")

	v.SetDefault("HISTORY_WINDOW", 10)
	v.SetDefault("MAX_TOOL_ROUNDS", 5)
	v.SetDefault("RETRY_BACKOFF", "2s")
	v.SetDefault("QUEUE_SIZE", 256)
	v.SetDefault("WORKERS", 4)
	v.SetDefault("PIPELINE_TIMEOUT", "120s")
	v.SetDefault("SENDER_RATE", 0.5)
	v.SetDefault("SENDER_BURST", 5)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
