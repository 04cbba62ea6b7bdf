// Package config loads the process-wide settings from a YAML file with
// environment overrides. The resulting Settings value is read-only for the
// rest of the process and is threaded explicitly through the components
// that need it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerSettings struct {
	Addr string `yaml:"addr"`
	// RateRPS/RateBurst bound per-user request rates on the chat surface.
	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`
}

type MongoSettings struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type ERPSettings struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`
	Timeout   time.Duration `yaml:"timeout"`
}

type GeminiSettings struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	// SafetySettings maps harm category to block threshold, e.g.
	// HARM_CATEGORY_HARASSMENT: BLOCK_MEDIUM_AND_ABOVE.
	SafetySettings map[string]string `yaml:"safety_settings"`
	MaxRetries     int               `yaml:"max_retries"`
	RetryBaseDelay time.Duration     `yaml:"retry_base_delay"`
	RetryMaxWait   time.Duration     `yaml:"retry_max_wait"`
}

type AssistantSettings struct {
	SystemInstruction     string   `yaml:"system_instruction"`
	EnableGrounding       bool     `yaml:"enable_grounding"`
	EnableFunctionCalling bool     `yaml:"enable_function_calling"`
	EnableFileAnalysis    bool     `yaml:"enable_file_analysis"`
	RequiredRole          string   `yaml:"required_role"`
	MaxHistory            int      `yaml:"max_history"`
	MaxFunctionCalls      int      `yaml:"max_function_calls"`
	DisabledFunctions     []string `yaml:"disabled_functions"`
}

type Settings struct {
	Server    ServerSettings    `yaml:"server"`
	Mongo     MongoSettings     `yaml:"mongo"`
	ERP       ERPSettings       `yaml:"erp"`
	Gemini    GeminiSettings    `yaml:"gemini"`
	Assistant AssistantSettings `yaml:"assistant"`
}

// Default returns the settings baseline before file and env merging.
func Default() *Settings {
	return &Settings{
		Server: ServerSettings{
			Addr:      ":8080",
			RateRPS:   5,
			RateBurst: 10,
		},
		Mongo: MongoSettings{
			Database: "erpagent",
		},
		ERP: ERPSettings{
			Timeout: 15 * time.Second,
		},
		Gemini: GeminiSettings{
			Model:          "gemini-2.5-flash",
			MaxTokens:      8192,
			Temperature:    0.7,
			MaxRetries:     3,
			RetryBaseDelay: 2 * time.Second,
			RetryMaxWait:   30 * time.Second,
		},
		Assistant: AssistantSettings{
			SystemInstruction:     "You are an ERP assistant. Use the registered functions to answer questions about live business data, and answer concisely.",
			EnableFunctionCalling: true,
			EnableFileAnalysis:    true,
			MaxHistory:            20,
			MaxFunctionCalls:      4,
		},
	}
}

// Load builds Settings from defaults, an optional YAML file, and
// environment variables, in that order of precedence. A .env file in the
// working directory is honoured when present.
func Load(path string) (*Settings, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Settings) {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Gemini.Model = v
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGODB_DB"); v != "" {
		cfg.Mongo.Database = v
	}
	if v := os.Getenv("ERP_BASE_URL"); v != "" {
		cfg.ERP.BaseURL = v
	}
	if v := os.Getenv("ERP_API_KEY"); v != "" {
		cfg.ERP.APIKey = v
	}
	if v := os.Getenv("ERP_API_SECRET"); v != "" {
		cfg.ERP.APISecret = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("MAX_FUNCTION_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Assistant.MaxFunctionCalls = n
		}
	}
	if v := os.Getenv("MAX_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Assistant.MaxHistory = n
		}
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (s *Settings) Validate() error {
	if s.Gemini.APIKey == "" {
		return fmt.Errorf("config: gemini api key is required (GEMINI_API_KEY or gemini.api_key)")
	}
	if s.Gemini.Model == "" {
		return fmt.Errorf("config: gemini model is required")
	}
	if s.Assistant.MaxFunctionCalls < 1 {
		return fmt.Errorf("config: assistant.max_function_calls must be at least 1")
	}
	if s.Assistant.MaxHistory < 1 {
		return fmt.Errorf("config: assistant.max_history must be at least 1")
	}
	if s.Gemini.Temperature < 0 || s.Gemini.Temperature > 2 {
		return fmt.Errorf("config: gemini.temperature must be between 0 and 2")
	}
	return nil
}
