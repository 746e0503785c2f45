package session

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/vokal-ai/livebridge/pkg/relay/protocol"
	"github.com/vokal-ai/livebridge/pkg/relay/tools"
	"github.com/vokal-ai/livebridge/pkg/relay/upstream"
)

const (
	defaultGoAwayReconnectDelay = 2 * time.Second
	defaultResumeReconnectDelay = 250 * time.Millisecond
	defaultInboundBuffer        = 128
)

// ClientConn is the client-facing write side of the session. Satisfied by
// *websocket.Conn; tests substitute a recorder.
type ClientConn interface {
	WriteJSON(v any) error
}

// Adapter is the upstream surface the session drives. Satisfied by
// *upstream.Adapter; tests substitute a scripted fake.
type Adapter interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context, cfg *upstream.Config) error
	Close()
	Events() <-chan upstream.Event
	Connected() bool
	ResumptionState() (handle string, resumable bool)
	SendAudio(data []byte)
	SendVideo(data []byte, mimeType string)
	SendAudioStreamEnd()
	SendText(text string) error
	SendContext(turns []upstream.Turn, turnComplete bool) error
	SendToolResults(results []upstream.ToolResult) error
}

// Factory builds an adapter for one resolved session configuration.
type Factory func(cfg upstream.Config) Adapter

// Options wires one session's collaborators.
type Options struct {
	ID         string
	Logger     *slog.Logger
	Conn       ClientConn
	Executor   *tools.Executor
	NewAdapter Factory
	Defaults   Defaults

	// GoAwayReconnectDelay is how long after a go-away announcement the
	// replacement connection is attempted. The upstream keeps the old
	// connection alive briefly, so reconnecting immediately would race it.
	GoAwayReconnectDelay time.Duration

	// ResumeReconnectDelay is the pause before the single resume attempt
	// that follows an unexpected upstream drop.
	ResumeReconnectDelay time.Duration

	InboundBuffer int
}

// Session mediates between one client socket and one upstream adapter. All
// session state is owned by the Run loop; client frames, upstream events,
// timer continuations and tool completions are serialized through it, so no
// state field needs a lock.
type Session struct {
	id       string
	logger   *slog.Logger
	executor *tools.Executor
	factory  Factory
	defaults Defaults

	goAwayDelay time.Duration
	resumeDelay time.Duration

	conn    ClientConn
	writeMu sync.Mutex

	inbound chan any
	taskq   chan func()
	done    chan struct{}
	closeMu sync.Once

	// Run-loop-owned state.
	ctx       context.Context
	state     State
	adapter   Adapter
	cfg       upstream.Config
	view      protocol.SessionConfig
	cancelled map[string]bool

	// staleDisconnects counts disconnect events queued by an intentional
	// teardown of a live connection. They are consumed silently instead of
	// being mistaken for an unexpected drop.
	staleDisconnects int
}

func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.GoAwayReconnectDelay <= 0 {
		opts.GoAwayReconnectDelay = defaultGoAwayReconnectDelay
	}
	if opts.ResumeReconnectDelay <= 0 {
		opts.ResumeReconnectDelay = defaultResumeReconnectDelay
	}
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = defaultInboundBuffer
	}

	s := &Session{
		id:          opts.ID,
		logger:      opts.Logger.With("session", opts.ID),
		executor:    opts.Executor,
		factory:     opts.NewAdapter,
		defaults:    opts.Defaults,
		goAwayDelay: opts.GoAwayReconnectDelay,
		resumeDelay: opts.ResumeReconnectDelay,
		conn:        opts.Conn,
		inbound:     make(chan any, opts.InboundBuffer),
		taskq:       make(chan func(), 32),
		done:        make(chan struct{}),
		state:       StateIdle,
		cancelled:   make(map[string]bool),
	}
	s.cfg, s.view = opts.Defaults.resolve(nil, opts.Executor)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Notify pushes one frame to the client out of band. Used by the server to
// broadcast shutdown warnings. Safe from any goroutine.
func (s *Session) Notify(frame any) {
	s.send(frame)
}

// HandleFrame decodes one raw client frame and queues it for the dispatch
// loop. Malformed frames are answered immediately with an error event; the
// socket stays open.
func (s *Session) HandleFrame(data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		kind := "bad_request"
		if de, ok := err.(*protocol.DecodeError); ok && de.Code != "" {
			kind = de.Code
		}
		s.send(protocol.ServerError{Type: "error", Kind: kind, Message: err.Error()})
		return
	}
	select {
	case s.inbound <- msg:
	case <-s.done:
	}
}

// Close stops the dispatch loop and releases the upstream adapter. Safe to
// call more than once and from any goroutine.
func (s *Session) Close() {
	s.closeMu.Do(func() { close(s.done) })
}

// Run owns the session until the client goes away. It must be called exactly
// once.
func (s *Session) Run(ctx context.Context) {
	s.ctx = ctx
	defer s.shutdown()

	if len(s.defaults.Models) > 0 || len(s.defaults.Voices) > 0 {
		s.send(protocol.ServerConfigOptions{
			Type:   "config_options",
			Models: s.defaults.Models,
			Voices: s.defaults.Voices,
		})
	}

	for {
		var events <-chan upstream.Event
		if s.adapter != nil {
			events = s.adapter.Events()
		}
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg := <-s.inbound:
			s.handleClient(msg)
		case fn := <-s.taskq:
			fn()
		case ev := <-events:
			s.handleEvent(ev)
		}
	}
}

func (s *Session) shutdown() {
	s.Close()
	if s.adapter != nil {
		s.adapter.Close()
		s.adapter = nil
	}
}

// post hands a continuation to the dispatch loop. Dropped when the session is
// already over.
func (s *Session) post(fn func()) {
	select {
	case s.taskq <- fn:
	case <-s.done:
	}
}

// send writes one frame to the client. Safe from any goroutine.
func (s *Session) send(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		s.logger.Debug("client write failed", "error", err)
	}
}

func (s *Session) sendError(kind, message string) {
	s.send(protocol.ServerError{Type: "error", Kind: kind, Message: message})
}

func (s *Session) handleClient(msg any) {
	switch m := msg.(type) {
	case protocol.ClientConnect:
		s.handleConnect(m)
	case protocol.ClientDisconnect:
		s.handleDisconnect()
	case protocol.ClientReconnect:
		s.handleClientReconnect(m)
	case protocol.ClientAudio:
		s.handleAudio(m)
	case protocol.ClientVideo:
		s.handleVideo(m)
	case protocol.ClientText:
		if s.adapter == nil {
			s.sendError("not_connected", "no active live session")
			return
		}
		if err := s.adapter.SendText(m.Text); err != nil {
			s.sendError("send_failed", err.Error())
		}
	case protocol.ClientContext:
		if s.adapter == nil {
			s.sendError("not_connected", "no active live session")
			return
		}
		turns := make([]upstream.Turn, 0, len(m.Turns))
		for _, t := range m.Turns {
			turns = append(turns, upstream.Turn{Role: t.Role, Text: t.Text})
		}
		if err := s.adapter.SendContext(turns, m.TurnComplete); err != nil {
			s.sendError("send_failed", err.Error())
		}
	case protocol.ClientToolResponse:
		if s.adapter == nil {
			s.sendError("not_connected", "no active live session")
			return
		}
		results := make([]upstream.ToolResult, 0, len(m.Responses))
		for _, r := range m.Responses {
			results = append(results, upstream.ToolResult{ID: r.ID, Name: r.Name, Response: r.Response})
		}
		if err := s.adapter.SendToolResults(results); err != nil {
			s.sendError("send_failed", err.Error())
		}
	case protocol.ClientAudioStreamEnd:
		if s.adapter != nil {
			s.adapter.SendAudioStreamEnd()
		}
	case protocol.ClientUpdateConfig:
		s.cfg, s.view = s.defaults.resolve(m.Config, s.executor)
		s.send(s.stateFrame())
	case protocol.ClientGetState:
		s.send(s.stateFrame())
	case protocol.ClientGetConfig:
		s.send(protocol.ServerConfig{Type: "config", Config: s.view})
	case protocol.ClientGetTools:
		s.send(s.toolsFrame())
	case protocol.ClientPing:
		s.send(protocol.ServerPong{Type: "pong"})
	}
}

// handleConnect starts a fresh upstream session. An existing adapter is fully
// released first: connect never layers a second live connection on top of a
// first.
func (s *Session) handleConnect(msg protocol.ClientConnect) {
	if s.adapter != nil {
		old := s.adapter
		s.adapter = nil
		if err := s.transition(StateIdle); err != nil {
			return
		}
		old.Close()
	}

	s.cfg, s.view = s.defaults.resolve(msg.Config, s.executor)
	if err := s.transition(StateConnecting); err != nil {
		return
	}

	adapter := s.factory(s.cfg)
	if err := adapter.Connect(s.ctx); err != nil {
		adapter.Close()
		_ = s.transition(StateIdle)
		s.logger.Warn("upstream connect failed", "error", err)
		s.sendError("connection_failed", err.Error())
		return
	}
	s.adapter = adapter
	_ = s.transition(StateActive)
}

// handleDisconnect ends the live session at the client's request. With no
// adapter it is a no-op: the client sees no event for disconnecting an
// already-idle session.
func (s *Session) handleDisconnect() {
	if s.adapter == nil {
		return
	}
	old := s.adapter
	s.adapter = nil
	_ = s.transition(StateIdle)
	old.Close()
	s.send(protocol.ServerDisconnected{Type: "disconnected", Reason: "client requested"})
}

// handleClientReconnect forces a reconnect, optionally applying a replacement
// configuration first.
func (s *Session) handleClientReconnect(msg protocol.ClientReconnect) {
	if s.adapter == nil {
		s.sendError("not_connected", "no active live session")
		return
	}
	if s.state == StateReconnecting {
		return
	}
	if msg.Config != nil {
		s.cfg, s.view = s.defaults.resolve(msg.Config, s.executor)
	}
	if err := s.transition(StateReconnecting); err != nil {
		return
	}
	s.reconnectNow()
}

func (s *Session) handleAudio(msg protocol.ClientAudio) {
	if s.adapter == nil {
		return
	}
	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return
	}
	s.adapter.SendAudio(data)
}

func (s *Session) handleVideo(msg protocol.ClientVideo) {
	if s.adapter == nil {
		return
	}
	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return
	}
	s.adapter.SendVideo(data, msg.MIMEType)
}

func (s *Session) handleEvent(ev upstream.Event) {
	switch e := ev.(type) {
	case upstream.ConnectedEvent:
		s.send(protocol.ServerConnected{Type: "connected"})
	case upstream.DisconnectedEvent:
		s.handleUpstreamDisconnect(e)
	case upstream.AudioChunkEvent:
		s.send(protocol.ServerAudio{
			Type:     "audio",
			Data:     base64.StdEncoding.EncodeToString(e.Data),
			MIMEType: e.MIMEType,
		})
	case upstream.TextChunkEvent:
		s.send(protocol.ServerText{Type: "text", Text: e.Text})
	case upstream.ThoughtChunkEvent:
		s.send(protocol.ServerThought{Type: "thought", Text: e.Text})
	case upstream.InputTranscriptEvent:
		s.send(protocol.ServerTranscription{Type: "input_transcription", Text: e.Text})
	case upstream.OutputTranscriptEvent:
		s.send(protocol.ServerTranscription{Type: "output_transcription", Text: e.Text})
	case upstream.InterruptedEvent:
		s.send(protocol.ServerInterrupted{Type: "interrupted"})
	case upstream.TurnCompleteEvent:
		s.send(protocol.ServerTurnComplete{Type: "turn_complete"})
	case upstream.GenerationCompleteEvent:
		s.send(protocol.ServerGenerationComplete{Type: "generation_complete"})
	case upstream.ToolCallEvent:
		s.handleToolCalls(e)
	case upstream.ToolCancellationEvent:
		for _, id := range e.IDs {
			s.cancelled[id] = true
		}
		s.send(protocol.ServerToolCancellation{Type: "tool_cancellation", IDs: e.IDs})
	case upstream.GoAwayEvent:
		s.handleGoAway(e)
	case upstream.ResumptionUpdateEvent:
		handle := e.Handle
		if handle == "" && s.adapter != nil {
			handle, _ = s.adapter.ResumptionState()
		}
		s.send(protocol.ServerResumptionUpdate{
			Type:      "session_resumption_update",
			Resumable: e.Resumable,
			HasHandle: handle != "",
		})
	case upstream.UsageEvent:
		s.send(protocol.ServerUsage{
			Type:         "usage",
			InputTokens:  e.InputTokens,
			OutputTokens: e.OutputTokens,
			TotalTokens:  e.TotalTokens,
		})
	case upstream.ErrorEvent:
		s.send(protocol.ServerError{Type: "error", Kind: e.Kind, Message: e.Message})
	}
}

// handleGoAway forwards the upstream's termination warning and schedules the
// replacement connection. The delay lets the announced connection wind down;
// the Reconnecting state keeps a second go-away or a drop in the interim from
// scheduling a competing reconnect.
func (s *Session) handleGoAway(ev upstream.GoAwayEvent) {
	s.send(protocol.ServerGoAway{Type: "go_away", TimeLeft: ev.TimeLeft})
	if s.state != StateActive {
		return
	}
	if err := s.transition(StateReconnecting); err != nil {
		return
	}
	s.logger.Info("upstream go-away, reconnect scheduled", "timeLeft", ev.TimeLeft, "delay", s.goAwayDelay)
	s.scheduleReconnect(s.goAwayDelay)
}

// handleUpstreamDisconnect distinguishes three cases: a disconnect we caused
// ourselves (stale, consumed silently), a disconnect during a reconnect
// already in progress (expected, swallowed), and a genuine unexpected drop.
// An unexpected drop is reported to the client; if a resumption handle exists
// a single resume attempt follows, otherwise the session settles Idle.
func (s *Session) handleUpstreamDisconnect(ev upstream.DisconnectedEvent) {
	if s.staleDisconnects > 0 {
		s.staleDisconnects--
		return
	}
	if s.state != StateActive {
		return
	}

	s.logger.Warn("upstream dropped", "reason", ev.Reason)
	s.send(protocol.ServerDisconnected{Type: "disconnected", Reason: ev.Reason})

	handle, _ := s.adapter.ResumptionState()
	if s.cfg.SessionResumption && handle != "" {
		if err := s.transition(StateReconnecting); err != nil {
			return
		}
		s.logger.Info("resume attempt scheduled", "delay", s.resumeDelay)
		s.scheduleReconnect(s.resumeDelay)
		return
	}

	old := s.adapter
	s.adapter = nil
	_ = s.transition(StateIdle)
	old.Close()
}

func (s *Session) scheduleReconnect(delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.post(s.reconnectNow)
	})
}

// reconnectNow performs the actual reconnect. It runs on the dispatch loop.
// The Reconnecting state is always left, on success and on failure alike; a
// session can never get stuck with the guard held. A failed reconnect ends the
// session in Errored; a fresh connect recovers from there.
func (s *Session) reconnectNow() {
	if s.state != StateReconnecting {
		return
	}
	if s.adapter == nil {
		_ = s.transition(StateIdle)
		return
	}

	if s.adapter.Connected() {
		s.staleDisconnects++
	}
	cfg := s.cfg
	if err := s.adapter.Reconnect(s.ctx, &cfg); err != nil {
		if s.staleDisconnects > 0 {
			s.staleDisconnects--
		}
		old := s.adapter
		s.adapter = nil
		_ = s.transition(StateErrored)
		old.Close()
		s.logger.Warn("reconnect failed", "error", err)
		s.sendError("reconnect_failed", err.Error())
		return
	}
	_ = s.transition(StateActive)
}

func (s *Session) stateFrame() protocol.ServerState {
	return protocol.ServerState{
		Type:       "state",
		State:      string(s.state),
		Model:      s.cfg.Model,
		Modalities: s.cfg.ResponseModalities,
		Connected:  s.adapter != nil && s.adapter.Connected(),
	}
}

func (s *Session) toolsFrame() protocol.ServerTools {
	var out []protocol.ToolDescriptor
	if s.executor != nil {
		for _, d := range s.executor.Catalog() {
			out = append(out, protocol.ToolDescriptor{
				Name:        d.Name,
				Description: d.Description,
				Async:       s.cfg.IsAsyncTool(d.Name),
				LongRunning: d.LongRunning,
			})
		}
	}
	return protocol.ServerTools{Type: "tools", Tools: out}
}
