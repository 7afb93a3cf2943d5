package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Recognizer backends.
const (
	RecognizerRemote = "remote"
	RecognizerOpenAI = "openai"
	RecognizerGemini = "gemini"
	RecognizerOllama = "ollama"
)

// Face search backends.
const (
	FaceSearchRemote = "remote"
	FaceSearchLocal  = "local"
)

type Config struct {
	API        APIConfig        `yaml:"api"`
	Upload     UploadConfig     `yaml:"upload"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	FaceSearch FaceSearchConfig `yaml:"face_search"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	OpenAI     OpenAIConfig     `yaml:"-"`
	Gemini     GeminiConfig     `yaml:"-"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Web        WebConfig        `yaml:"web"`
	Log        LogConfig        `yaml:"log"`
	Prices     PricesConfig     `yaml:"prices"`
}

// APIConfig locates the persistence and recognition service.
type APIConfig struct {
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`     // bounds every collaborator call
	CaptureDir string        `yaml:"capture_dir"` // when set, raw responses are written here
}

type UploadConfig struct {
	MaxBytes     int64    `yaml:"max_bytes"`
	AllowedTypes []string `yaml:"allowed_types"`
}

type WorkflowConfig struct {
	ResetDelay time.Duration `yaml:"reset_delay"` // 0 resets right after a save
}

type FaceSearchConfig struct {
	Backend   string  `yaml:"backend"`   // remote or local
	Threshold float64 `yaml:"threshold"` // minimum similarity, 0-1
	TopK      int     `yaml:"top_k"`
	IndexPath string  `yaml:"index_path"` // local backend only
}

type RecognizerConfig struct {
	Backend string `yaml:"backend"` // remote, openai, gemini or ollama
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
}

type OllamaConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

type EmbeddingConfig struct {
	URL string `yaml:"url"`
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	SessionSecret  string   `yaml:"session_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

type PricesConfig struct {
	Models map[string]ModelPricing `yaml:"models"`
}

type ModelPricing struct {
	Standard RequestPricing `yaml:"standard"`
	Batch    RequestPricing `yaml:"batch"`
}

type RequestPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// envString returns the env var if set and non-empty, otherwise defaultVal.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration ("2s", "1m30s").
// Zero is accepted, negative or invalid values fall back to the default.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if s == "0" {
		return 0
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

// envList reads a comma separated environment variable.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Defaults returns the embedded defaults without looking at the environment.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load returns the embedded defaults overridden by environment variables.
func Load() *Config {
	cfg := Defaults()

	cfg.API.URL = envString("CIN_API_URL", cfg.API.URL)
	cfg.API.Timeout = envDuration("CIN_API_TIMEOUT", cfg.API.Timeout)
	cfg.API.CaptureDir = envString("CIN_CAPTURE_DIR", cfg.API.CaptureDir)

	cfg.Upload.MaxBytes = int64(envInt("UPLOAD_MAX_BYTES", int(cfg.Upload.MaxBytes)))
	cfg.Upload.AllowedTypes = envList("UPLOAD_ALLOWED_TYPES", cfg.Upload.AllowedTypes)

	cfg.Workflow.ResetDelay = envDuration("RESET_DELAY", cfg.Workflow.ResetDelay)

	cfg.FaceSearch.Backend = envString("FACE_SEARCH_BACKEND", cfg.FaceSearch.Backend)
	cfg.FaceSearch.Threshold = envFloat("FACE_SEARCH_THRESHOLD", cfg.FaceSearch.Threshold)
	cfg.FaceSearch.TopK = envInt("FACE_SEARCH_TOP_K", cfg.FaceSearch.TopK)
	cfg.FaceSearch.IndexPath = envString("FACE_INDEX_PATH", cfg.FaceSearch.IndexPath)

	cfg.Recognizer.Backend = envString("RECOGNIZER_BACKEND", cfg.Recognizer.Backend)
	cfg.OpenAI.Token = os.Getenv("OPENAI_TOKEN")
	cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	cfg.Ollama.URL = envString("OLLAMA_URL", cfg.Ollama.URL)
	cfg.Ollama.Model = envString("OLLAMA_MODEL", cfg.Ollama.Model)

	cfg.Embedding.URL = envString("EMBEDDING_URL", cfg.Embedding.URL)

	cfg.Web.Host = envString("WEB_HOST", cfg.Web.Host)
	cfg.Web.Port = envInt("WEB_PORT", cfg.Web.Port)
	cfg.Web.SessionSecret = envString("WEB_SESSION_SECRET", cfg.Web.SessionSecret)
	cfg.Web.AllowedOrigins = envList("WEB_ALLOWED_ORIGINS", cfg.Web.AllowedOrigins)

	cfg.Log.Env = envString("LOG_ENV", cfg.Log.Env)
	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)

	return cfg
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.API.URL == "" {
		errs = append(errs, errors.New("CIN_API_URL is required"))
	}
	if c.FaceSearch.Threshold <= 0 || c.FaceSearch.Threshold > 1 {
		errs = append(errs, fmt.Errorf("face search threshold %v outside (0, 1]", c.FaceSearch.Threshold))
	}
	if c.FaceSearch.TopK <= 0 {
		errs = append(errs, fmt.Errorf("face search top_k %d must be positive", c.FaceSearch.TopK))
	}
	if !slices.Contains([]string{FaceSearchRemote, FaceSearchLocal}, c.FaceSearch.Backend) {
		errs = append(errs, fmt.Errorf("unknown face search backend %q", c.FaceSearch.Backend))
	}
	if c.FaceSearch.Backend == FaceSearchLocal && c.FaceSearch.IndexPath == "" {
		errs = append(errs, errors.New("FACE_INDEX_PATH is required for the local face search backend"))
	}

	switch c.Recognizer.Backend {
	case RecognizerRemote, RecognizerOllama:
	case RecognizerOpenAI:
		if c.OpenAI.Token == "" {
			errs = append(errs, errors.New("OPENAI_TOKEN is required for the openai recognizer"))
		}
	case RecognizerGemini:
		if c.Gemini.APIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini recognizer"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown recognizer backend %q", c.Recognizer.Backend))
	}
	return errors.Join(errs...)
}

// GetModelPricing returns pricing for a specific model, with fallback defaults
func (c *Config) GetModelPricing(modelName string) ModelPricing {
	if pricing, ok := c.Prices.Models[modelName]; ok {
		return pricing
	}
	// Return zero pricing if model not found
	return ModelPricing{}
}
