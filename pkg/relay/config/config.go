package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the full relay configuration. Values come from three layers:
// built-in defaults, then an optional YAML file named by VOKAL_CONFIG_FILE,
// then VOKAL_* environment variables. Later layers win.
type Config struct {
	Addr string

	// GeminiAPIKey authenticates both the live upstream socket and the
	// request/response model calls that back the server tools.
	GeminiAPIKey string

	// GeminiLiveBaseURL overrides the live endpoint origin. Empty means the
	// production endpoint.
	GeminiLiveBaseURL string

	DefaultModel      string
	DefaultVoice      string
	SystemInstruction string
	Temperature       float64

	// ChatModel backs the /v1/chat endpoint and the generation tools.
	ChatModel string

	Models []string
	Voices []string

	SessionResumption   bool
	ContextCompression  bool
	InputTranscription  bool
	OutputTranscription bool
	AffectiveDialog     bool
	ProactiveAudio      bool
	IncludeThoughts     bool
	ThinkingBudget      int
	MediaResolution     string

	SearchEnabled    bool
	FunctionsEnabled bool

	// AsyncTools lists tool names that run with the non-blocking contract by
	// default. Clients may override per session.
	AsyncTools []string

	// MaxRepairAttempts bounds the generate/validate/fix loop of the app
	// generation tools.
	MaxRepairAttempts int

	GoAwayReconnectDelay time.Duration
	ResumeReconnectDelay time.Duration

	UpstreamConnectTimeout time.Duration

	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string

	MaxClientMessageBytes int64
	ClientWriteTimeout    time.Duration

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

// fileConfig is the YAML shape. Pointer fields distinguish "absent" from an
// explicit zero so a sparse file only overrides what it names.
type fileConfig struct {
	Addr *string `yaml:"addr"`

	Gemini struct {
		APIKey      *string `yaml:"apiKey"`
		LiveBaseURL *string `yaml:"liveBaseUrl"`
	} `yaml:"gemini"`

	Session struct {
		Model               *string  `yaml:"model"`
		ChatModel           *string  `yaml:"chatModel"`
		Voice               *string  `yaml:"voice"`
		SystemInstruction   *string  `yaml:"systemInstruction"`
		Temperature         *float64 `yaml:"temperature"`
		Resumption          *bool    `yaml:"resumption"`
		Compression         *bool    `yaml:"compression"`
		InputTranscription  *bool    `yaml:"inputTranscription"`
		OutputTranscription *bool    `yaml:"outputTranscription"`
		AffectiveDialog     *bool    `yaml:"affectiveDialog"`
		ProactiveAudio      *bool    `yaml:"proactiveAudio"`
		IncludeThoughts     *bool    `yaml:"includeThoughts"`
		ThinkingBudget      *int     `yaml:"thinkingBudget"`
		MediaResolution     *string  `yaml:"mediaResolution"`
		Models              []string `yaml:"models"`
		Voices              []string `yaml:"voices"`
	} `yaml:"session"`

	Tools struct {
		Search            *bool    `yaml:"search"`
		Functions         *bool    `yaml:"functions"`
		Async             []string `yaml:"async"`
		MaxRepairAttempts *int     `yaml:"maxRepairAttempts"`
	} `yaml:"tools"`

	Server struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`
}

func defaults() Config {
	return Config{
		Addr:                   ":8080",
		DefaultModel:           "gemini-2.5-flash-native-audio-preview-09-2025",
		ChatModel:              "gemini-2.5-flash",
		DefaultVoice:           "Puck",
		Temperature:            0.8,
		Models:                 []string{"gemini-2.5-flash-native-audio-preview-09-2025", "gemini-2.0-flash-live-001"},
		Voices:                 []string{"Puck", "Charon", "Kore", "Fenrir", "Aoede", "Leda", "Orus", "Zephyr"},
		SessionResumption:      true,
		ContextCompression:     true,
		InputTranscription:     true,
		OutputTranscription:    true,
		ThinkingBudget:         -1,
		SearchEnabled:          true,
		FunctionsEnabled:       true,
		AsyncTools:             []string{"generate_app", "edit_app", "run_code", "edit_code"},
		MaxRepairAttempts:      3,
		GoAwayReconnectDelay:   2 * time.Second,
		ResumeReconnectDelay:   250 * time.Millisecond,
		UpstreamConnectTimeout: 15 * time.Second,
		MaxClientMessageBytes:  1 << 20,
		ClientWriteTimeout:     5 * time.Second,
		ReadHeaderTimeout:      10 * time.Second,
		ShutdownGracePeriod:    15 * time.Second,
	}
}

// Load builds the configuration from defaults, file and environment.
func Load() (Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("VOKAL_CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return Config{}, fmt.Errorf("VOKAL_GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return Config{}, fmt.Errorf("VOKAL_ADDR must not be empty")
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		return Config{}, fmt.Errorf("VOKAL_DEFAULT_MODEL must not be empty")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("VOKAL_TEMPERATURE must be in [0, 2]")
	}
	if cfg.MaxRepairAttempts <= 0 {
		return Config{}, fmt.Errorf("VOKAL_MAX_REPAIR_ATTEMPTS must be > 0")
	}
	if cfg.GoAwayReconnectDelay <= 0 {
		return Config{}, fmt.Errorf("VOKAL_GO_AWAY_RECONNECT_DELAY must be > 0")
	}
	if cfg.ResumeReconnectDelay <= 0 {
		return Config{}, fmt.Errorf("VOKAL_RESUME_RECONNECT_DELAY must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("VOKAL_UPSTREAM_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.MaxClientMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOKAL_MAX_CLIENT_MESSAGE_BYTES must be > 0")
	}
	if cfg.ClientWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOKAL_CLIENT_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOKAL_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOKAL_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.MediaResolution)) {
	case "", "low", "medium", "high":
	default:
		return Config{}, fmt.Errorf("VOKAL_MEDIA_RESOLUTION must be one of low|medium|high")
	}

	return cfg, nil
}

// ToolSyncMap converts the async tool list into the per-name lookup the
// session layer consumes.
func (c Config) ToolSyncMap() map[string]bool {
	out := make(map[string]bool, len(c.AsyncTools))
	for _, name := range c.AsyncTools {
		name = strings.TrimSpace(name)
		if name != "" {
			out[name] = true
		}
	}
	return out
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.Addr, fc.Addr)
	setString(&cfg.GeminiAPIKey, fc.Gemini.APIKey)
	setString(&cfg.GeminiLiveBaseURL, fc.Gemini.LiveBaseURL)
	setString(&cfg.DefaultModel, fc.Session.Model)
	setString(&cfg.ChatModel, fc.Session.ChatModel)
	setString(&cfg.DefaultVoice, fc.Session.Voice)
	setString(&cfg.SystemInstruction, fc.Session.SystemInstruction)
	setString(&cfg.MediaResolution, fc.Session.MediaResolution)
	if fc.Session.Temperature != nil {
		cfg.Temperature = *fc.Session.Temperature
	}
	setBool(&cfg.SessionResumption, fc.Session.Resumption)
	setBool(&cfg.ContextCompression, fc.Session.Compression)
	setBool(&cfg.InputTranscription, fc.Session.InputTranscription)
	setBool(&cfg.OutputTranscription, fc.Session.OutputTranscription)
	setBool(&cfg.AffectiveDialog, fc.Session.AffectiveDialog)
	setBool(&cfg.ProactiveAudio, fc.Session.ProactiveAudio)
	setBool(&cfg.IncludeThoughts, fc.Session.IncludeThoughts)
	if fc.Session.ThinkingBudget != nil {
		cfg.ThinkingBudget = *fc.Session.ThinkingBudget
	}
	if len(fc.Session.Models) > 0 {
		cfg.Models = fc.Session.Models
	}
	if len(fc.Session.Voices) > 0 {
		cfg.Voices = fc.Session.Voices
	}
	setBool(&cfg.SearchEnabled, fc.Tools.Search)
	setBool(&cfg.FunctionsEnabled, fc.Tools.Functions)
	if fc.Tools.Async != nil {
		cfg.AsyncTools = fc.Tools.Async
	}
	if fc.Tools.MaxRepairAttempts != nil {
		cfg.MaxRepairAttempts = *fc.Tools.MaxRepairAttempts
	}
	if len(fc.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = fc.Server.AllowedOrigins
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = envOr("VOKAL_ADDR", cfg.Addr)
	cfg.GeminiAPIKey = envOr("VOKAL_GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiLiveBaseURL = envOr("VOKAL_GEMINI_LIVE_BASE_URL", cfg.GeminiLiveBaseURL)
	cfg.DefaultModel = envOr("VOKAL_DEFAULT_MODEL", cfg.DefaultModel)
	cfg.ChatModel = envOr("VOKAL_CHAT_MODEL", cfg.ChatModel)
	cfg.DefaultVoice = envOr("VOKAL_DEFAULT_VOICE", cfg.DefaultVoice)
	cfg.SystemInstruction = envOr("VOKAL_SYSTEM_INSTRUCTION", cfg.SystemInstruction)
	cfg.Temperature = envFloat64Or("VOKAL_TEMPERATURE", cfg.Temperature)
	cfg.MediaResolution = envOr("VOKAL_MEDIA_RESOLUTION", cfg.MediaResolution)
	cfg.SessionResumption = envBoolOr("VOKAL_SESSION_RESUMPTION", cfg.SessionResumption)
	cfg.ContextCompression = envBoolOr("VOKAL_CONTEXT_COMPRESSION", cfg.ContextCompression)
	cfg.InputTranscription = envBoolOr("VOKAL_INPUT_TRANSCRIPTION", cfg.InputTranscription)
	cfg.OutputTranscription = envBoolOr("VOKAL_OUTPUT_TRANSCRIPTION", cfg.OutputTranscription)
	cfg.AffectiveDialog = envBoolOr("VOKAL_AFFECTIVE_DIALOG", cfg.AffectiveDialog)
	cfg.ProactiveAudio = envBoolOr("VOKAL_PROACTIVE_AUDIO", cfg.ProactiveAudio)
	cfg.IncludeThoughts = envBoolOr("VOKAL_INCLUDE_THOUGHTS", cfg.IncludeThoughts)
	cfg.ThinkingBudget = envIntOr("VOKAL_THINKING_BUDGET", cfg.ThinkingBudget)
	cfg.SearchEnabled = envBoolOr("VOKAL_TOOL_SEARCH", cfg.SearchEnabled)
	cfg.FunctionsEnabled = envBoolOr("VOKAL_TOOL_FUNCTIONS", cfg.FunctionsEnabled)
	cfg.MaxRepairAttempts = envIntOr("VOKAL_MAX_REPAIR_ATTEMPTS", cfg.MaxRepairAttempts)
	cfg.GoAwayReconnectDelay = envDurationOr("VOKAL_GO_AWAY_RECONNECT_DELAY", cfg.GoAwayReconnectDelay)
	cfg.ResumeReconnectDelay = envDurationOr("VOKAL_RESUME_RECONNECT_DELAY", cfg.ResumeReconnectDelay)
	cfg.UpstreamConnectTimeout = envDurationOr("VOKAL_UPSTREAM_CONNECT_TIMEOUT", cfg.UpstreamConnectTimeout)
	cfg.MaxClientMessageBytes = envInt64Or("VOKAL_MAX_CLIENT_MESSAGE_BYTES", cfg.MaxClientMessageBytes)
	cfg.ClientWriteTimeout = envDurationOr("VOKAL_CLIENT_WRITE_TIMEOUT", cfg.ClientWriteTimeout)
	cfg.ReadHeaderTimeout = envDurationOr("VOKAL_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ShutdownGracePeriod = envDurationOr("VOKAL_SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)

	if models := splitCSV(os.Getenv("VOKAL_MODELS")); len(models) > 0 {
		cfg.Models = models
	}
	if voices := splitCSV(os.Getenv("VOKAL_VOICES")); len(voices) > 0 {
		cfg.Voices = voices
	}
	if async, ok := os.LookupEnv("VOKAL_ASYNC_TOOLS"); ok {
		cfg.AsyncTools = splitCSV(async)
	}
	if origins := splitCSV(os.Getenv("VOKAL_ALLOWED_ORIGINS")); len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
