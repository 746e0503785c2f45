package upstream

import (
	"encoding/json"
	"strings"
)

const (
	ModalityAudio = "AUDIO"
	ModalityText  = "TEXT"

	behaviorBlocking    = "BLOCKING"
	behaviorNonBlocking = "NON_BLOCKING"
)

// FunctionDecl declares one callable function to the model.
type FunctionDecl struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolConfig selects the tool surfaces offered in setup.
type ToolConfig struct {
	SearchEnabled    bool
	FunctionsEnabled bool
	Declarations     []FunctionDecl
}

// Config is the resolved, immutable-per-connection session configuration.
// It is constructed once at connect time from server defaults merged with
// client overrides, and replaced wholesale by update_config.
type Config struct {
	Model             string
	SystemInstruction string

	// ResponseModalities is forced to audio-only by the session layer; the
	// chosen model does not support a text response modality.
	ResponseModalities []string

	Voice              string
	Temperature        *float64
	ContextCompression bool
	SessionResumption  bool
	AffectiveDialog    bool
	ProactiveAudio     bool

	// ThinkingBudget <0 means dynamic, 0 disables thinking.
	ThinkingBudget  *int
	IncludeThoughts bool

	InputTranscription  bool
	OutputTranscription bool

	// MediaResolution is a vision-input hint: low, medium or high.
	MediaResolution string

	Tools ToolConfig

	// ToolSync maps tool name -> is-async. Absent names are sync.
	ToolSync map[string]bool
}

// AudioModality reports whether the audio response modality is active.
// Modality-gated fields (voice, affective dialog, proactive audio,
// transcription) are only emitted to the upstream when it is.
func (c Config) AudioModality() bool {
	for _, m := range c.ResponseModalities {
		if strings.EqualFold(strings.TrimSpace(m), ModalityAudio) {
			return true
		}
	}
	return false
}

// IsAsyncTool reports the synchronicity classification for a tool name.
func (c Config) IsAsyncTool(name string) bool {
	return c.ToolSync[strings.TrimSpace(name)]
}

// buildSetup translates the declarative config into the upstream setup frame.
// Fields are omitted rather than sent disabled wherever the upstream schema
// treats presence as the enabling signal. When resumeHandle is non-empty and
// resumption is enabled, the handle is substituted for the bare enable flag so
// the new connection resumes instead of starting fresh.
func buildSetup(cfg Config, resumeHandle string) *bidiSetup {
	setup := &bidiSetup{
		Model: normalizeModel(cfg.Model),
	}

	gen := &bidiGenConfig{
		ResponseModalities: append([]string(nil), cfg.ResponseModalities...),
		Temperature:        cfg.Temperature,
	}
	if res := mediaResolutionEnum(cfg.MediaResolution); res != "" {
		gen.MediaResolution = res
	}
	if cfg.ThinkingBudget != nil {
		gen.ThinkingConfig = &bidiThinking{
			ThinkingBudget:  *cfg.ThinkingBudget,
			IncludeThoughts: cfg.IncludeThoughts,
		}
	}

	audio := cfg.AudioModality()
	if audio && strings.TrimSpace(cfg.Voice) != "" {
		gen.SpeechConfig = &bidiSpeechConfig{
			VoiceConfig: &bidiVoiceConfig{
				PrebuiltVoiceConfig: &bidiPrebuiltVoice{VoiceName: strings.TrimSpace(cfg.Voice)},
			},
		}
	}
	setup.GenerationConfig = gen

	if text := strings.TrimSpace(cfg.SystemInstruction); text != "" {
		setup.SystemInstruction = &bidiContent{Parts: []bidiPart{{Text: text}}}
	}

	if cfg.SessionResumption {
		setup.SessionResumption = &bidiResumption{Handle: strings.TrimSpace(resumeHandle)}
	}
	if cfg.ContextCompression {
		setup.ContextWindowCompression = &bidiCompression{SlidingWindow: &bidiEmpty{}}
	}
	if audio {
		if cfg.InputTranscription {
			setup.InputAudioTranscription = &bidiEmpty{}
		}
		if cfg.OutputTranscription {
			setup.OutputAudioTranscription = &bidiEmpty{}
		}
		if cfg.ProactiveAudio {
			setup.Proactivity = &bidiProactivity{ProactiveAudio: true}
		}
		setup.EnableAffectiveDialog = cfg.AffectiveDialog
	}

	setup.Tools = buildTools(cfg)
	return setup
}

func buildTools(cfg Config) []bidiTool {
	var tools []bidiTool
	if cfg.Tools.SearchEnabled {
		tools = append(tools, bidiTool{GoogleSearch: &bidiEmpty{}})
	}
	if cfg.Tools.FunctionsEnabled && len(cfg.Tools.Declarations) > 0 {
		decls := make([]bidiFunctionDecl, 0, len(cfg.Tools.Declarations))
		for _, fn := range cfg.Tools.Declarations {
			behavior := behaviorBlocking
			if cfg.IsAsyncTool(fn.Name) {
				behavior = behaviorNonBlocking
			}
			decls = append(decls, bidiFunctionDecl{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
				Behavior:    behavior,
			})
		}
		tools = append(tools, bidiTool{FunctionDeclarations: decls})
	}
	return tools
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return ""
	}
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

func mediaResolutionEnum(hint string) string {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "low":
		return "MEDIA_RESOLUTION_LOW"
	case "medium":
		return "MEDIA_RESOLUTION_MEDIUM"
	case "high":
		return "MEDIA_RESOLUTION_HIGH"
	default:
		return ""
	}
}
