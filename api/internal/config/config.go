package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	GCP      GCPConfig
	Storage  StorageConfig
	Detector DetectorConfig
	Agent    AgentConfig
	DB       DBConfig
	Telegram TelegramConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host           string
	Port           string
	MaxUploadSize  int64
	RequestTimeout time.Duration
	// AllowedOrigins may open the WebSocket endpoint besides the same origin; "*" allows any.
	AllowedOrigins []string
}

type GCPConfig struct {
	ProjectID string
	Location  string
	// APIEndpoint overrides the regional Vertex AI endpoint, e.g. "us-central1-aiplatform.googleapis.com".
	APIEndpoint string
}

type StorageConfig struct {
	Backend string // gcs | s3 | memory
	Bucket  string
	Folder  string

	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

type DetectorConfig struct {
	EndpointID          string
	ConfidenceThreshold float64
	MaxPredictions      int
	MinConfidence       float64
	CacheMaxAge         time.Duration
}

type AgentConfig struct {
	Backend       string // gemini | ollama
	Model         string
	GeminiAPIKey  string
	OllamaURL     string
	AttachImage   bool
	MaxToolRounds int
}

type DBConfig struct {
	Driver string // pgx | sqlite3
	DSN    string
}

type TelegramConfig struct {
	BotToken   string
	WebhookURL string
}

type LogConfig struct {
	Level       string
	Development bool
}

// Load reads the process configuration once. A .env file in the working
// directory, when present, seeds the environment before viper reads it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("SERVER_HOST"),
			Port:           v.GetString("PORT"),
			MaxUploadSize:  v.GetInt64("MAX_UPLOAD_SIZE"),
			RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		},
		GCP: GCPConfig{
			ProjectID:   v.GetString("GOOGLE_CLOUD_PROJECT"),
			Location:    v.GetString("GOOGLE_CLOUD_LOCATION"),
			APIEndpoint: v.GetString("VERTEX_API_ENDPOINT"),
		},
		Storage: StorageConfig{
			Backend:           strings.ToLower(v.GetString("STORAGE_BACKEND")),
			Bucket:            v.GetString("BUCKET_NAME"),
			Folder:            v.GetString("UPLOAD_FOLDER"),
			S3Endpoint:        v.GetString("S3_ENDPOINT"),
			S3Region:          v.GetString("S3_REGION"),
			S3AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			S3SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
		},
		Detector: DetectorConfig{
			EndpointID:          v.GetString("VERTEX_MODEL_ID"),
			ConfidenceThreshold: v.GetFloat64("DETECT_CONFIDENCE_THRESHOLD"),
			MaxPredictions:      v.GetInt("DETECT_MAX_PREDICTIONS"),
			MinConfidence:       v.GetFloat64("DETECT_MIN_CONFIDENCE"),
			CacheMaxAge:         v.GetDuration("DETECT_CACHE_MAX_AGE"),
		},
		Agent: AgentConfig{
			Backend:       strings.ToLower(v.GetString("AGENT_BACKEND")),
			Model:         v.GetString("AGENT_MODEL"),
			GeminiAPIKey:  v.GetString("GEMINI_API_KEY"),
			OllamaURL:     v.GetString("OLLAMA_URL"),
			AttachImage:   v.GetBool("AGENT_ATTACH_IMAGE"),
			MaxToolRounds: v.GetInt("AGENT_MAX_TOOL_ROUNDS"),
		},
		DB: DBConfig{
			Driver: v.GetString("DB_DRIVER"),
			DSN:    v.GetString("DATABASE_URL"),
		},
		Telegram: TelegramConfig{
			BotToken:   v.GetString("TELEGRAM_BOT_TOKEN"),
			WebhookURL: v.GetString("WEBHOOK_URL"),
		},
		Log: LogConfig{
			Level:       v.GetString("LOG_LEVEL"),
			Development: v.GetBool("LOG_DEVELOPMENT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList parses a comma separated env value.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("PORT", "8080")
	v.SetDefault("MAX_UPLOAD_SIZE", 10*1024*1024) // 10MB
	v.SetDefault("REQUEST_TIMEOUT", 180*time.Second)

	v.SetDefault("STORAGE_BACKEND", "gcs")
	v.SetDefault("UPLOAD_FOLDER", "uploads")
	v.SetDefault("S3_REGION", "us-east-1")

	v.SetDefault("DETECT_CONFIDENCE_THRESHOLD", 0.5)
	v.SetDefault("DETECT_MAX_PREDICTIONS", 5)
	v.SetDefault("DETECT_MIN_CONFIDENCE", 0.4)
	v.SetDefault("DETECT_CACHE_MAX_AGE", 7*24*time.Hour)

	v.SetDefault("AGENT_BACKEND", "gemini")
	v.SetDefault("OLLAMA_URL", "http://localhost:11434")
	v.SetDefault("AGENT_ATTACH_IMAGE", true)
	v.SetDefault("AGENT_MAX_TOOL_ROUNDS", 4)

	v.SetDefault("DB_DRIVER", "pgx")
	v.SetDefault("LOG_LEVEL", "info")
}

// Validate rejects values no component can work with. Missing cloud settings
// are not an error: they switch the service into simulation mode.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "gcs", "s3", "memory":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q; use gcs | s3 | memory", c.Storage.Backend)
	}
	switch c.Agent.Backend {
	case "gemini", "ollama":
	default:
		return fmt.Errorf("unknown AGENT_BACKEND %q; use gemini | ollama", c.Agent.Backend)
	}
	switch c.DB.Driver {
	case "pgx", "sqlite3":
	default:
		return fmt.Errorf("unknown DB_DRIVER %q; use pgx | sqlite3", c.DB.Driver)
	}
	if c.Detector.MaxPredictions <= 0 {
		return fmt.Errorf("DETECT_MAX_PREDICTIONS must be > 0")
	}
	if c.Detector.ConfidenceThreshold < 0 || c.Detector.ConfidenceThreshold > 1 {
		return fmt.Errorf("DETECT_CONFIDENCE_THRESHOLD must be within [0,1]")
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("DETECT_MIN_CONFIDENCE must be within [0,1]")
	}
	if c.Agent.MaxToolRounds <= 0 {
		return fmt.Errorf("AGENT_MAX_TOOL_ROUNDS must be > 0")
	}
	return nil
}

// SimulationMode reports whether the hosted services are unconfigured. In that
// mode the chat surfaces answer with a fixed notice and skip the pipeline.
func (c *Config) SimulationMode() bool {
	required := []string{
		c.GCP.ProjectID,
		c.GCP.Location,
		c.Detector.EndpointID,
		c.Agent.Model,
		c.Storage.Bucket,
	}
	for _, v := range required {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

// VertexAPIEndpoint returns the regional prediction host for the configured location.
func (c *Config) VertexAPIEndpoint() string {
	if ep := strings.TrimSpace(c.GCP.APIEndpoint); ep != "" {
		return ep
	}
	loc := strings.TrimSpace(c.GCP.Location)
	if loc == "" {
		loc = "us-central1"
	}
	return loc + "-aiplatform.googleapis.com"
}

func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
