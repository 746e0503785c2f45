package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VOKAL_CONFIG_FILE", "")
	t.Setenv("VOKAL_GEMINI_API_KEY", "test-key")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.GeminiAPIKey != "test-key" {
		t.Fatalf("api key = %q", cfg.GeminiAPIKey)
	}
	if cfg.DefaultVoice != "Puck" || cfg.Temperature != 0.8 {
		t.Fatalf("voice = %q, temperature = %v", cfg.DefaultVoice, cfg.Temperature)
	}
	if !cfg.SessionResumption || !cfg.ContextCompression {
		t.Fatalf("resumption/compression should default on")
	}
	if cfg.GoAwayReconnectDelay != 2*time.Second || cfg.ResumeReconnectDelay != 250*time.Millisecond {
		t.Fatalf("reconnect delays = %v, %v", cfg.GoAwayReconnectDelay, cfg.ResumeReconnectDelay)
	}
	if len(cfg.AsyncTools) == 0 || cfg.MaxRepairAttempts != 3 {
		t.Fatalf("tool defaults = %v, %d", cfg.AsyncTools, cfg.MaxRepairAttempts)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("VOKAL_CONFIG_FILE", "")
	t.Setenv("VOKAL_GEMINI_API_KEY", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "VOKAL_GEMINI_API_KEY") {
		t.Fatalf("err = %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("VOKAL_ADDR", ":9999")
	t.Setenv("VOKAL_DEFAULT_VOICE", "Kore")
	t.Setenv("VOKAL_TEMPERATURE", "1.5")
	t.Setenv("VOKAL_SESSION_RESUMPTION", "false")
	t.Setenv("VOKAL_GO_AWAY_RECONNECT_DELAY", "500ms")
	t.Setenv("VOKAL_MODELS", "model-a, model-b")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.DefaultVoice != "Kore" || cfg.Temperature != 1.5 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SessionResumption {
		t.Fatalf("resumption should be off")
	}
	if cfg.GoAwayReconnectDelay != 500*time.Millisecond {
		t.Fatalf("go-away delay = %v", cfg.GoAwayReconnectDelay)
	}
	if len(cfg.Models) != 2 || cfg.Models[1] != "model-b" {
		t.Fatalf("models = %v", cfg.Models)
	}
}

func TestFileLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	content := `
addr: ":7070"
gemini:
  apiKey: file-key
session:
  voice: Fenrir
  temperature: 0.3
  resumption: false
tools:
  async: [generate_app]
  maxRepairAttempts: 5
server:
  allowedOrigins:
    - https://app.example.com
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	t.Setenv("VOKAL_CONFIG_FILE", path)
	t.Setenv("VOKAL_GEMINI_API_KEY", "")
	// Environment outranks the file.
	t.Setenv("VOKAL_DEFAULT_VOICE", "Leda")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.GeminiAPIKey != "file-key" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.DefaultVoice != "Leda" {
		t.Fatalf("voice = %q, env must outrank the file", cfg.DefaultVoice)
	}
	if cfg.Temperature != 0.3 || cfg.SessionResumption {
		t.Fatalf("session fields = %v, %v", cfg.Temperature, cfg.SessionResumption)
	}
	if len(cfg.AsyncTools) != 1 || cfg.MaxRepairAttempts != 5 {
		t.Fatalf("tool fields = %v, %d", cfg.AsyncTools, cfg.MaxRepairAttempts)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("origins = %v", cfg.AllowedOrigins)
	}
}

func TestFileMissing(t *testing.T) {
	t.Setenv("VOKAL_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("VOKAL_GEMINI_API_KEY", "test-key")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"VOKAL_TEMPERATURE", "2.5", "VOKAL_TEMPERATURE"},
		{"VOKAL_MEDIA_RESOLUTION", "ultra", "VOKAL_MEDIA_RESOLUTION"},
		{"VOKAL_GO_AWAY_RECONNECT_DELAY", "-1s", "VOKAL_GO_AWAY_RECONNECT_DELAY"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestAsyncToolsEmptyOverride(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("VOKAL_ASYNC_TOOLS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.AsyncTools) != 0 {
		t.Fatalf("async tools = %v, explicit empty must clear the default", cfg.AsyncTools)
	}
}

func TestToolSyncMap(t *testing.T) {
	c := Config{AsyncTools: []string{"generate_app", " run_code ", ""}}
	m := c.ToolSyncMap()
	if len(m) != 2 || !m["generate_app"] || !m["run_code"] {
		t.Fatalf("map = %v", m)
	}
}

func TestSplitCSV(t *testing.T) {
	t.Parallel()
	if got := splitCSV(" a, b ,, c "); len(got) != 3 || got[2] != "c" {
		t.Fatalf("got %v", got)
	}
	if got := splitCSV("  "); got != nil {
		t.Fatalf("got %v", got)
	}
}
