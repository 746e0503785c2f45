package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultBaseURL        = "wss://generativelanguage.googleapis.com"
	bidiPath              = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	defaultConnectTimeout = 15 * time.Second
	defaultEventBuffer    = 256

	defaultAudioMIME = "audio/pcm;rate=16000"
)

// Dialer opens the upstream live socket. Injected so tests can point the
// adapter at a local server.
type Dialer func(ctx context.Context, urlStr string, header http.Header) (*websocket.Conn, *http.Response, error)

// ToolResult is one completed tool outcome delivered back to the model.
// Interrupt carries the scheduling directive: when set, the upstream preempts
// whatever it is currently generating to incorporate the result; otherwise
// the result is consumed in arrival order within the current turn.
type ToolResult struct {
	ID        string
	Name      string
	Response  map[string]any
	Interrupt bool
}

// Options configures an Adapter independent of any one session config.
type Options struct {
	APIKey         string
	BaseURL        string
	Logger         *slog.Logger
	Dial           Dialer
	ConnectTimeout time.Duration
	EventBuffer    int
}

// Turn is one conversational turn forwarded through SendContext.
type Turn struct {
	Role string
	Text string
}

// Adapter owns at most one connection to the live generative endpoint and
// hides its wire protocol behind typed sends and an event stream. A single
// Adapter instance survives reconnects; the stored resumption handle is
// reused so a new connection continues the prior session's context.
type Adapter struct {
	opts Options

	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	cfg    Config
	closed bool

	writeMu sync.Mutex

	handleMu     sync.Mutex
	resumeHandle string
	resumable    bool
}

func New(cfg Config, opts Options) *Adapter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, urlStr string, header http.Header) (*websocket.Conn, *http.Response, error) {
			return websocket.DefaultDialer.DialContext(ctx, urlStr, header)
		}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	return &Adapter{
		opts:   opts,
		cfg:    cfg,
		events: make(chan Event, opts.EventBuffer),
		done:   make(chan struct{}),
	}
}

// Events yields upstream events in the order the upstream emitted them.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Config returns the active session configuration.
func (a *Adapter) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ResumptionState reports the stored resumption handle, if any.
func (a *Adapter) ResumptionState() (handle string, resumable bool) {
	a.handleMu.Lock()
	defer a.handleMu.Unlock()
	return a.resumeHandle, a.resumable
}

// Connected reports whether a live connection is currently established.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// Connect establishes the upstream connection using the translated session
// configuration. Calling it while already connected tears the old connection
// down first; the replacement is clean and the old reader's disconnect event
// is attributed to the replacement.
func (a *Adapter) Connect(ctx context.Context) error {
	a.teardown("replaced")

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("adapter is closed")
	}
	cfg := a.cfg
	a.mu.Unlock()

	handle, _ := a.ResumptionState()
	if !cfg.SessionResumption {
		handle = ""
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, a.opts.ConnectTimeout)
		defer cancel()
	}

	conn, resp, err := a.opts.Dial(dialCtx, a.endpoint(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("upstream dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("upstream dial failed: %w", err)
	}

	if err := conn.WriteJSON(clientMessage{Setup: buildSetup(cfg, handle)}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send setup: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(a.opts.ConnectTimeout))
	var first serverMessage
	if err := conn.ReadJSON(&first); err != nil {
		_ = conn.Close()
		return fmt.Errorf("read setup ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if first.SetupComplete == nil {
		_ = conn.Close()
		return fmt.Errorf("unexpected first upstream frame")
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("adapter is closed")
	}
	a.conn = conn
	a.mu.Unlock()

	a.emit(ConnectedEvent{})
	go a.readLoop(conn, cfg)
	return nil
}

// Disconnect closes the upstream connection. Always safe to call, including
// with no active connection.
func (a *Adapter) Disconnect() {
	a.teardown("disconnect")
}

// Reconnect tears down and re-establishes the connection, optionally with a
// replacement configuration. The stored resumption handle is reused when the
// active configuration enables resumption.
func (a *Adapter) Reconnect(ctx context.Context, newCfg *Config) error {
	if newCfg != nil {
		a.mu.Lock()
		a.cfg = *newCfg
		a.mu.Unlock()
	}
	return a.Connect(ctx)
}

// Close releases the adapter permanently. The event channel drains and closes
// once the active reader (if any) exits.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	close(a.done)
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		_ = conn.Close()
	}
}

// SendAudio forwards one input audio chunk. Audio arrives at high frequency,
// so a missing connection is a silent no-op rather than an error.
func (a *Adapter) SendAudio(data []byte) {
	a.sendRealtime(&bidiRealtime{Audio: &bidiBlob{
		MIMEType: defaultAudioMIME,
		Data:     base64.StdEncoding.EncodeToString(data),
	}})
}

// SendVideo forwards one video/image frame. No-op when not connected.
func (a *Adapter) SendVideo(data []byte, mimeType string) {
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "image/jpeg"
	}
	a.sendRealtime(&bidiRealtime{Video: &bidiBlob{
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}})
}

// SendAudioStreamEnd signals an input pause without closing the connection.
func (a *Adapter) SendAudioStreamEnd() {
	end := true
	a.sendRealtime(&bidiRealtime{AudioStreamEnd: &end})
}

// SendText submits a text turn. The upstream streams audio continuously, so
// the text must first signal user activity to barge in on any in-flight
// audio turn; only then is it submitted as a completed conversational turn.
// Without the activity signal the text would queue behind unfinished speech.
func (a *Adapter) SendText(text string) error {
	conn := a.current()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := conn.WriteJSON(clientMessage{RealtimeInput: &bidiRealtime{ActivityStart: &bidiEmpty{}}}); err != nil {
		return fmt.Errorf("signal activity: %w", err)
	}
	return conn.WriteJSON(clientMessage{ClientContent: &bidiContentInput{
		Turns:        []bidiContent{{Role: "user", Parts: []bidiPart{{Text: text}}}},
		TurnComplete: true,
	}})
}

// SendContext injects prior conversational turns.
func (a *Adapter) SendContext(turns []Turn, turnComplete bool) error {
	conn := a.current()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	contents := make([]bidiContent, 0, len(turns))
	for _, turn := range turns {
		contents = append(contents, bidiContent{Role: turn.Role, Parts: []bidiPart{{Text: turn.Text}}})
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteJSON(clientMessage{ClientContent: &bidiContentInput{
		Turns:        contents,
		TurnComplete: turnComplete,
	}})
}

// SendToolResults delivers one or more tool outcomes. Honoring each result's
// scheduling directive is the upstream's job, not the adapter's.
func (a *Adapter) SendToolResults(results []ToolResult) error {
	if len(results) == 0 {
		return nil
	}
	conn := a.current()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	responses := make([]bidiFunctionResponse, 0, len(results))
	for _, r := range results {
		fr := bidiFunctionResponse{ID: r.ID, Name: r.Name, Response: r.Response}
		if r.Interrupt {
			fr.Scheduling = "INTERRUPT"
		}
		responses = append(responses, fr)
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteJSON(clientMessage{ToolResponse: &bidiToolResponse{FunctionResponses: responses}})
}

func (a *Adapter) endpoint() string {
	base := strings.TrimRight(a.opts.BaseURL, "/")
	return base + bidiPath + "?key=" + url.QueryEscape(a.opts.APIKey)
}

func (a *Adapter) current() *websocket.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

func (a *Adapter) sendRealtime(input *bidiRealtime) {
	conn := a.current()
	if conn == nil {
		return
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = conn.WriteJSON(clientMessage{RealtimeInput: input})
}

// teardown closes the current connection if one exists. The exiting reader
// emits the disconnect event.
func (a *Adapter) teardown(reason string) {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn == nil {
		return
	}
	a.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), time.Now().Add(2*time.Second))
	a.writeMu.Unlock()
	_ = conn.Close()
}

func (a *Adapter) readLoop(conn *websocket.Conn, cfg Config) {
	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			reason := "closed"
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = err.Error()
			}
			a.mu.Lock()
			if a.conn == conn {
				a.conn = nil
			}
			a.mu.Unlock()
			a.emit(DisconnectedEvent{Reason: reason})
			return
		}
		a.dispatch(msg, cfg)
	}
}

func (a *Adapter) dispatch(msg serverMessage, cfg Config) {
	switch {
	case msg.ServerContent != nil:
		a.dispatchContent(msg.ServerContent, cfg)
	case msg.ToolCall != nil:
		calls := make([]ToolCallRequest, 0, len(msg.ToolCall.FunctionCalls))
		for _, fc := range msg.ToolCall.FunctionCalls {
			calls = append(calls, ToolCallRequest{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		if len(calls) > 0 {
			a.emit(ToolCallEvent{Calls: calls})
		}
	case msg.ToolCallCancellation != nil:
		a.emit(ToolCancellationEvent{IDs: msg.ToolCallCancellation.IDs})
	case msg.GoAway != nil:
		a.emit(GoAwayEvent{TimeLeft: msg.GoAway.TimeLeft})
	case msg.SessionResumptionUpdate != nil:
		a.handleMu.Lock()
		if strings.TrimSpace(msg.SessionResumptionUpdate.NewHandle) != "" {
			a.resumeHandle = msg.SessionResumptionUpdate.NewHandle
		}
		a.resumable = msg.SessionResumptionUpdate.Resumable
		a.handleMu.Unlock()
		a.emit(ResumptionUpdateEvent{
			Handle:    msg.SessionResumptionUpdate.NewHandle,
			Resumable: msg.SessionResumptionUpdate.Resumable,
		})
	case msg.UsageMetadata != nil:
		a.emit(UsageEvent{
			InputTokens:  msg.UsageMetadata.PromptTokenCount,
			OutputTokens: msg.UsageMetadata.ResponseTokenCount,
			TotalTokens:  msg.UsageMetadata.TotalTokenCount,
		})
	case msg.SetupComplete != nil:
		// Consumed during the connect handshake; a stray one is harmless.
	}
}

func (a *Adapter) dispatchContent(content *bidiServerContent, cfg Config) {
	if content.Interrupted {
		a.emit(InterruptedEvent{})
	}
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			switch {
			case part.InlineData != nil:
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					a.emit(ErrorEvent{Kind: "decode_error", Message: "invalid audio payload from upstream"})
					continue
				}
				a.emit(AudioChunkEvent{Data: data, MIMEType: part.InlineData.MIMEType})
			case part.Thought:
				// Upstream sends thought summaries regardless; they are a
				// client-gated feature, so drop unless enabled.
				if cfg.IncludeThoughts {
					a.emit(ThoughtChunkEvent{Text: part.Text})
				}
			case part.Text != "":
				a.emit(TextChunkEvent{Text: part.Text})
			}
		}
	}
	if content.InputTranscription != nil {
		a.emit(InputTranscriptEvent{Text: content.InputTranscription.Text})
	}
	if content.OutputTranscription != nil {
		a.emit(OutputTranscriptEvent{Text: content.OutputTranscription.Text})
	}
	if content.GenerationComplete {
		a.emit(GenerationCompleteEvent{})
	}
	if content.TurnComplete {
		a.emit(TurnCompleteEvent{})
	}
}

func (a *Adapter) emit(event Event) {
	select {
	case a.events <- event:
	case <-a.done:
	}
}
