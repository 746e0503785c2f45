package protocol

// Relay -> client frames. Every frame carries a "type" discriminator; the
// mobile client switches on it and treats unknown types as ignorable.

type ServerConnected struct {
	Type string `json:"type"`
}

type ServerDisconnected struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

type ServerAudio struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MIMEType string `json:"mimeType,omitempty"`
}

type ServerText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerThought struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerTranscription struct {
	Type string `json:"type"` // input_transcription | output_transcription
	Text string `json:"text"`
}

type ServerInterrupted struct {
	Type string `json:"type"`
}

type ServerTurnComplete struct {
	Type string `json:"type"`
}

type ServerGenerationComplete struct {
	Type string `json:"type"`
}

// ToolCallInfo describes one requested call in a tool_call notification.
type ToolCallInfo struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type ServerToolCall struct {
	Type  string         `json:"type"`
	Calls []ToolCallInfo `json:"calls"`
}

// ToolResultInfo is one completed tool outcome reported to the client.
type ToolResultInfo struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type ServerToolResults struct {
	Type    string           `json:"type"`
	Mode    string           `json:"mode"` // sync | async
	Results []ToolResultInfo `json:"results"`
}

// ServerToolProgress is emitted per tool family as {family}_progress so the
// client can render phase-appropriate status text.
type ServerToolProgress struct {
	Type       string `json:"type"`
	ToolCallID string `json:"toolCallId"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

type ServerToolCancellation struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

type ServerGoAway struct {
	Type     string `json:"type"`
	TimeLeft string `json:"timeLeft,omitempty"`
}

type ServerResumptionUpdate struct {
	Type      string `json:"type"`
	Resumable bool   `json:"resumable"`
	HasHandle bool   `json:"hasHandle"`
}

type ServerUsage struct {
	Type         string `json:"type"`
	InputTokens  int    `json:"inputTokens,omitempty"`
	OutputTokens int    `json:"outputTokens,omitempty"`
	TotalTokens  int    `json:"totalTokens"`
}

type ServerState struct {
	Type       string   `json:"type"`
	State      string   `json:"state"`
	Model      string   `json:"model,omitempty"`
	Modalities []string `json:"modalities,omitempty"`
	Connected  bool     `json:"connected"`
}

type ServerConfig struct {
	Type   string        `json:"type"`
	Config SessionConfig `json:"config"`
}

// ToolDescriptor is one catalog entry in a config_options/get_tools response.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Async       bool   `json:"async"`
	LongRunning bool   `json:"longRunning"`
}

type ServerTools struct {
	Type  string           `json:"type"`
	Tools []ToolDescriptor `json:"tools"`
}

type ServerConfigOptions struct {
	Type   string   `json:"type"`
	Models []string `json:"models,omitempty"`
	Voices []string `json:"voices,omitempty"`
}

type ServerError struct {
	Type    string `json:"type"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type ServerPong struct {
	Type string `json:"type"`
}
