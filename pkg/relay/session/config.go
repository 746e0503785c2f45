package session

import (
	"strings"

	"github.com/vokal-ai/livebridge/pkg/relay/protocol"
	"github.com/vokal-ai/livebridge/pkg/relay/tools"
	"github.com/vokal-ai/livebridge/pkg/relay/upstream"
)

// Defaults is the server-side session configuration. Client connect and
// update_config messages override individual fields; anything the client
// leaves out falls back to these values.
type Defaults struct {
	Model             string
	Voice             string
	SystemInstruction string
	Temperature       float64

	ContextCompression bool
	SessionResumption  bool
	AffectiveDialog    bool
	ProactiveAudio     bool

	ThinkingBudget  int
	IncludeThoughts bool

	InputTranscription  bool
	OutputTranscription bool

	MediaResolution string

	SearchEnabled    bool
	FunctionsEnabled bool

	// ToolSync maps tool name -> run asynchronously. Names absent from the
	// map run synchronously.
	ToolSync map[string]bool

	// Models and Voices are the advertised choices sent to the client when
	// its socket opens. Informational only; the upstream is the authority on
	// what it accepts.
	Models []string
	Voices []string
}

// resolve merges client overrides over the server defaults and translates the
// result into the upstream configuration. The merged client-facing view is
// returned alongside so get_config can echo exactly what is in effect.
//
// The response modality is always audio: the live model speaks, it does not
// type, and a client asking for text would otherwise get a dead session.
func (d Defaults) resolve(c *protocol.SessionConfig, ex *tools.Executor) (upstream.Config, protocol.SessionConfig) {
	view := protocol.SessionConfig{
		Model:              d.Model,
		SystemInstruction:  d.SystemInstruction,
		ResponseModalities: []string{upstream.ModalityAudio},
		Voice:              d.Voice,
		Temperature:        ptr(d.Temperature),
		ContextCompression: ptr(d.ContextCompression),
		SessionResumption:  ptr(d.SessionResumption),
		AffectiveDialog:    ptr(d.AffectiveDialog),
		ProactiveAudio:     ptr(d.ProactiveAudio),
		ThinkingBudget:     ptr(d.ThinkingBudget),
		IncludeThoughts:    ptr(d.IncludeThoughts),
		InputTranscription: ptr(d.InputTranscription),
		OutputTranscripts:  ptr(d.OutputTranscription),
		MediaResolution:    d.MediaResolution,
		Tools: &protocol.ToolsConfig{
			Search:    ptr(d.SearchEnabled),
			Functions: ptr(d.FunctionsEnabled),
		},
		ToolSync: cloneSyncMap(d.ToolSync),
	}

	if c != nil {
		if strings.TrimSpace(c.Model) != "" {
			view.Model = strings.TrimSpace(c.Model)
		}
		if strings.TrimSpace(c.SystemInstruction) != "" {
			view.SystemInstruction = c.SystemInstruction
		}
		if strings.TrimSpace(c.Voice) != "" {
			view.Voice = strings.TrimSpace(c.Voice)
		}
		if c.Temperature != nil {
			view.Temperature = c.Temperature
		}
		if c.ContextCompression != nil {
			view.ContextCompression = c.ContextCompression
		}
		if c.SessionResumption != nil {
			view.SessionResumption = c.SessionResumption
		}
		if c.AffectiveDialog != nil {
			view.AffectiveDialog = c.AffectiveDialog
		}
		if c.ProactiveAudio != nil {
			view.ProactiveAudio = c.ProactiveAudio
		}
		if c.ThinkingBudget != nil {
			view.ThinkingBudget = c.ThinkingBudget
		}
		if c.IncludeThoughts != nil {
			view.IncludeThoughts = c.IncludeThoughts
		}
		if c.InputTranscription != nil {
			view.InputTranscription = c.InputTranscription
		}
		if c.OutputTranscripts != nil {
			view.OutputTranscripts = c.OutputTranscripts
		}
		if strings.TrimSpace(c.MediaResolution) != "" {
			view.MediaResolution = strings.TrimSpace(c.MediaResolution)
		}
		if c.Tools != nil {
			if c.Tools.Search != nil {
				view.Tools.Search = c.Tools.Search
			}
			if c.Tools.Functions != nil {
				view.Tools.Functions = c.Tools.Functions
			}
			if c.Tools.Enabled != nil {
				view.Tools.Enabled = append([]string(nil), c.Tools.Enabled...)
			}
		}
		for name, async := range c.ToolSync {
			view.ToolSync[name] = async
		}
	}

	cfg := upstream.Config{
		Model:               view.Model,
		SystemInstruction:   view.SystemInstruction,
		ResponseModalities:  []string{upstream.ModalityAudio},
		Voice:               view.Voice,
		Temperature:         view.Temperature,
		ContextCompression:  *view.ContextCompression,
		SessionResumption:   *view.SessionResumption,
		AffectiveDialog:     *view.AffectiveDialog,
		ProactiveAudio:      *view.ProactiveAudio,
		ThinkingBudget:      view.ThinkingBudget,
		IncludeThoughts:     *view.IncludeThoughts,
		InputTranscription:  *view.InputTranscription,
		OutputTranscription: *view.OutputTranscripts,
		MediaResolution:     view.MediaResolution,
		Tools: upstream.ToolConfig{
			SearchEnabled:    *view.Tools.Search,
			FunctionsEnabled: *view.Tools.Functions,
		},
		ToolSync: cloneSyncMap(view.ToolSync),
	}
	if ex != nil && cfg.Tools.FunctionsEnabled {
		cfg.Tools.Declarations = ex.Declarations(view.Tools.Enabled)
	}
	return cfg, view
}

func ptr[T any](v T) *T {
	return &v
}

func cloneSyncMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
