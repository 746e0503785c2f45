package upstream

// Event is one upstream occurrence delivered through Adapter.Events().
// The set is closed; consumers switch on the concrete type and an unhandled
// variant is a programming error, not a runtime surprise.
type Event interface {
	upstreamEventType() string
}

type ConnectedEvent struct{}

func (ConnectedEvent) upstreamEventType() string { return "connected" }

type DisconnectedEvent struct {
	Reason string
}

func (DisconnectedEvent) upstreamEventType() string { return "disconnected" }

type AudioChunkEvent struct {
	Data     []byte
	MIMEType string
}

func (AudioChunkEvent) upstreamEventType() string { return "audio_chunk" }

type TextChunkEvent struct {
	Text string
}

func (TextChunkEvent) upstreamEventType() string { return "text_chunk" }

// ThoughtChunkEvent carries a thought summary. Only emitted when the session
// config enables includeThoughts; otherwise the adapter drops the part.
type ThoughtChunkEvent struct {
	Text string
}

func (ThoughtChunkEvent) upstreamEventType() string { return "thought_chunk" }

type InputTranscriptEvent struct {
	Text string
}

func (InputTranscriptEvent) upstreamEventType() string { return "input_transcript" }

type OutputTranscriptEvent struct {
	Text string
}

func (OutputTranscriptEvent) upstreamEventType() string { return "output_transcript" }

// InterruptedEvent signals a barge-in; any buffered model audio is stale and
// must be discarded by the consumer.
type InterruptedEvent struct{}

func (InterruptedEvent) upstreamEventType() string { return "interrupted" }

type TurnCompleteEvent struct{}

func (TurnCompleteEvent) upstreamEventType() string { return "turn_complete" }

type GenerationCompleteEvent struct{}

func (GenerationCompleteEvent) upstreamEventType() string { return "generation_complete" }

// ToolCallRequest is one function call the model asked for.
type ToolCallRequest struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolCallEvent carries one batch of tool-call requests. The model may ask
// for several tools in a single turn.
type ToolCallEvent struct {
	Calls []ToolCallRequest
}

func (ToolCallEvent) upstreamEventType() string { return "tool_call" }

type ToolCancellationEvent struct {
	IDs []string
}

func (ToolCancellationEvent) upstreamEventType() string { return "tool_cancellation" }

// GoAwayEvent is the upstream's soft warning that it will close the
// connection shortly.
type GoAwayEvent struct {
	TimeLeft string
}

func (GoAwayEvent) upstreamEventType() string { return "go_away" }

type ResumptionUpdateEvent struct {
	Handle    string
	Resumable bool
}

func (ResumptionUpdateEvent) upstreamEventType() string { return "resumption_update" }

type UsageEvent struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

func (UsageEvent) upstreamEventType() string { return "usage" }

type ErrorEvent struct {
	Kind    string
	Message string
}

func (ErrorEvent) upstreamEventType() string { return "error" }
