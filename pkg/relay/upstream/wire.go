package upstream

import "encoding/json"

// Wire types for the Gemini Live BidiGenerateContent WebSocket protocol.
// Note: the Live API uses camelCase for JSON field names, and each client
// frame is an envelope with exactly one of its fields set.

type clientMessage struct {
	Setup         *bidiSetup        `json:"setup,omitempty"`
	ClientContent *bidiContentInput `json:"clientContent,omitempty"`
	RealtimeInput *bidiRealtime     `json:"realtimeInput,omitempty"`
	ToolResponse  *bidiToolResponse `json:"toolResponse,omitempty"`
}

type bidiSetup struct {
	Model                    string           `json:"model"`
	GenerationConfig         *bidiGenConfig   `json:"generationConfig,omitempty"`
	SystemInstruction        *bidiContent     `json:"systemInstruction,omitempty"`
	Tools                    []bidiTool       `json:"tools,omitempty"`
	SessionResumption        *bidiResumption  `json:"sessionResumption,omitempty"`
	ContextWindowCompression *bidiCompression `json:"contextWindowCompression,omitempty"`
	InputAudioTranscription  *bidiEmpty       `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *bidiEmpty       `json:"outputAudioTranscription,omitempty"`
	Proactivity              *bidiProactivity `json:"proactivity,omitempty"`
	EnableAffectiveDialog    bool             `json:"enableAffectiveDialog,omitempty"`
}

type bidiGenConfig struct {
	ResponseModalities []string          `json:"responseModalities,omitempty"`
	Temperature        *float64          `json:"temperature,omitempty"`
	SpeechConfig       *bidiSpeechConfig `json:"speechConfig,omitempty"`
	ThinkingConfig     *bidiThinking     `json:"thinkingConfig,omitempty"`
	MediaResolution    string            `json:"mediaResolution,omitempty"`
}

type bidiSpeechConfig struct {
	VoiceConfig *bidiVoiceConfig `json:"voiceConfig,omitempty"`
}

type bidiVoiceConfig struct {
	PrebuiltVoiceConfig *bidiPrebuiltVoice `json:"prebuiltVoiceConfig,omitempty"`
}

type bidiPrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type bidiThinking struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts,omitempty"`
}

type bidiEmpty struct{}

type bidiProactivity struct {
	ProactiveAudio bool `json:"proactiveAudio"`
}

type bidiResumption struct {
	Handle string `json:"handle,omitempty"`
}

type bidiCompression struct {
	SlidingWindow *bidiEmpty `json:"slidingWindow,omitempty"`
}

type bidiTool struct {
	GoogleSearch         *bidiEmpty         `json:"googleSearch,omitempty"`
	FunctionDeclarations []bidiFunctionDecl `json:"functionDeclarations,omitempty"`
}

type bidiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Behavior    string          `json:"behavior,omitempty"` // BLOCKING | NON_BLOCKING
}

type bidiContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []bidiPart `json:"parts"`
}

type bidiPart struct {
	Text       string    `json:"text,omitempty"`
	Thought    bool      `json:"thought,omitempty"`
	InlineData *bidiBlob `json:"inlineData,omitempty"`
}

type bidiBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type bidiContentInput struct {
	Turns        []bidiContent `json:"turns,omitempty"`
	TurnComplete bool          `json:"turnComplete"`
}

type bidiRealtime struct {
	Audio          *bidiBlob  `json:"audio,omitempty"`
	Video          *bidiBlob  `json:"video,omitempty"`
	Text           string     `json:"text,omitempty"`
	ActivityStart  *bidiEmpty `json:"activityStart,omitempty"`
	ActivityEnd    *bidiEmpty `json:"activityEnd,omitempty"`
	AudioStreamEnd *bool      `json:"audioStreamEnd,omitempty"`
}

type bidiToolResponse struct {
	FunctionResponses []bidiFunctionResponse `json:"functionResponses"`
}

type bidiFunctionResponse struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	Response   map[string]any `json:"response"`
	Scheduling string         `json:"scheduling,omitempty"` // INTERRUPT when async
}

type serverMessage struct {
	SetupComplete           *bidiEmpty            `json:"setupComplete,omitempty"`
	ServerContent           *bidiServerContent    `json:"serverContent,omitempty"`
	ToolCall                *bidiToolCall         `json:"toolCall,omitempty"`
	ToolCallCancellation    *bidiToolCancellation `json:"toolCallCancellation,omitempty"`
	GoAway                  *bidiGoAway           `json:"goAway,omitempty"`
	SessionResumptionUpdate *bidiResumptionUpdate `json:"sessionResumptionUpdate,omitempty"`
	UsageMetadata           *bidiUsage            `json:"usageMetadata,omitempty"`
}

type bidiServerContent struct {
	ModelTurn           *bidiContent       `json:"modelTurn,omitempty"`
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	Interrupted         bool               `json:"interrupted,omitempty"`
	GenerationComplete  bool               `json:"generationComplete,omitempty"`
	InputTranscription  *bidiTranscription `json:"inputTranscription,omitempty"`
	OutputTranscription *bidiTranscription `json:"outputTranscription,omitempty"`
}

type bidiTranscription struct {
	Text string `json:"text"`
}

type bidiToolCall struct {
	FunctionCalls []bidiFunctionCall `json:"functionCalls"`
}

type bidiFunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type bidiToolCancellation struct {
	IDs []string `json:"ids"`
}

type bidiGoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type bidiResumptionUpdate struct {
	NewHandle string `json:"newHandle,omitempty"`
	Resumable bool   `json:"resumable,omitempty"`
}

type bidiUsage struct {
	PromptTokenCount   int `json:"promptTokenCount,omitempty"`
	ResponseTokenCount int `json:"responseTokenCount,omitempty"`
	TotalTokenCount    int `json:"totalTokenCount,omitempty"`
}
