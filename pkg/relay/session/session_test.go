package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/vokal-ai/livebridge/pkg/relay/protocol"
	"github.com/vokal-ai/livebridge/pkg/relay/upstream"
)

// fakeAdapter is a scripted upstream. Connect and Reconnect succeed by
// default and queue the events a real adapter would.
type fakeAdapter struct {
	mu     sync.Mutex
	events chan upstream.Event

	connected bool
	closed    bool
	handle    string
	resumable bool

	connectErr   error
	reconnectErr error

	connectCalls   int
	reconnectCalls int

	texts       []string
	contexts    [][]upstream.Turn
	audio       [][]byte
	video       [][]byte
	streamEnds  int
	toolBatches [][]upstream.ToolResult
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{events: make(chan upstream.Event, 64)}
}

func (a *fakeAdapter) Connect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectCalls++
	if a.connectErr != nil {
		return a.connectErr
	}
	a.connected = true
	a.events <- upstream.ConnectedEvent{}
	return nil
}

func (a *fakeAdapter) Reconnect(context.Context, *upstream.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reconnectCalls++
	if a.reconnectErr != nil {
		a.connected = false
		return a.reconnectErr
	}
	if a.connected {
		// The old reader winding down is observable as a disconnect event,
		// same as the real adapter.
		a.events <- upstream.DisconnectedEvent{Reason: "replaced"}
	}
	a.connected = true
	a.events <- upstream.ConnectedEvent{}
	return nil
}

func (a *fakeAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.closed = true
}

func (a *fakeAdapter) Events() <-chan upstream.Event { return a.events }

func (a *fakeAdapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *fakeAdapter) ResumptionState() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle, a.resumable
}

func (a *fakeAdapter) SendAudio(data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audio = append(a.audio, data)
}

func (a *fakeAdapter) SendVideo(data []byte, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.video = append(a.video, data)
}

func (a *fakeAdapter) SendAudioStreamEnd() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streamEnds++
}

func (a *fakeAdapter) SendText(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return nil
}

func (a *fakeAdapter) SendContext(turns []upstream.Turn, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.contexts = append(a.contexts, turns)
	return nil
}

func (a *fakeAdapter) SendToolResults(results []upstream.ToolResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	batch := append([]upstream.ToolResult(nil), results...)
	a.toolBatches = append(a.toolBatches, batch)
	return nil
}

// push queues an upstream event as if the live connection produced it.
func (a *fakeAdapter) push(ev upstream.Event) { a.events <- ev }

// drop simulates the upstream connection failing underneath the adapter.
func (a *fakeAdapter) drop(reason string) {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	a.events <- upstream.DisconnectedEvent{Reason: reason}
}

func (a *fakeAdapter) snapshotTexts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

func (a *fakeAdapter) snapshotBatches() [][]upstream.ToolResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]upstream.ToolResult, len(a.toolBatches))
	copy(out, a.toolBatches)
	return out
}

func (a *fakeAdapter) counts() (connects, reconnects int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectCalls, a.reconnectCalls
}

func (a *fakeAdapter) wasClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// recorderConn captures every frame the session writes to the client.
type recorderConn struct {
	mu     sync.Mutex
	frames []any
}

func (c *recorderConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, v)
	return nil
}

func (c *recorderConn) snapshot() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.frames...)
}

func frameType(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return ""
	}
	return m.Type
}

func (c *recorderConn) countType(typ string) int {
	n := 0
	for _, f := range c.snapshot() {
		if frameType(f) == typ {
			n++
		}
	}
	return n
}

// waitFor polls until a frame newer than the skip offset matches, returning
// the frame and the offset just past it.
func (c *recorderConn) waitFor(t *testing.T, skip int, typ string) (any, int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frames := c.snapshot()
		for i := skip; i < len(frames); i++ {
			if frameType(frames[i]) == typ {
				return frames[i], i + 1
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no %q frame arrived; frames: %v", typ, c.snapshot())
	return nil, 0
}

type harness struct {
	t    *testing.T
	s    *Session
	conn *recorderConn

	mu       sync.Mutex
	adapters []*fakeAdapter
}

func testDefaults() Defaults {
	return Defaults{
		Model:               "gemini-2.0-flash-live-001",
		Voice:               "Puck",
		Temperature:         0.7,
		SessionResumption:   true,
		ContextCompression:  true,
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{t: t, conn: &recorderConn{}}
	opts := Options{
		ID:                   "s_test",
		Conn:                 h.conn,
		Defaults:             testDefaults(),
		GoAwayReconnectDelay: 10 * time.Millisecond,
		ResumeReconnectDelay: 5 * time.Millisecond,
		NewAdapter: func(upstream.Config) Adapter {
			a := newFakeAdapter()
			h.mu.Lock()
			h.adapters = append(h.adapters, a)
			h.mu.Unlock()
			return a
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.s = New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		h.s.Close()
		<-done
	})
	return h
}

func (h *harness) frame(raw string) { h.s.HandleFrame([]byte(raw)) }

func (h *harness) adapter(i int) *fakeAdapter {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.adapters) {
		h.t.Fatalf("adapter %d never created (%d exist)", i, len(h.adapters))
	}
	return h.adapters[i]
}

// connect drives the session into an active upstream session.
func (h *harness) connect() *fakeAdapter {
	h.t.Helper()
	h.frame(`{"type":"connect"}`)
	h.conn.waitFor(h.t, 0, "connected")
	return h.adapter(0)
}

// barrier round-trips a ping so every previously queued frame has been
// dispatched.
func (h *harness) barrier(skip int) int {
	h.t.Helper()
	h.frame(`{"type":"ping"}`)
	_, next := h.conn.waitFor(h.t, skip, "pong")
	return next
}

func TestConnectEstablishesUpstream(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Defaults.Models = []string{"gemini-2.0-flash-live-001"}
		o.Defaults.Voices = []string{"Puck", "Kore"}
	})

	_, next := h.conn.waitFor(t, 0, "config_options")
	opts := h.conn.snapshot()[next-1].(protocol.ServerConfigOptions)
	if len(opts.Models) != 1 || len(opts.Voices) != 2 {
		t.Fatalf("config_options = %+v", opts)
	}

	h.frame(`{"type":"connect","config":{"voice":"Kore"}}`)
	h.conn.waitFor(t, next, "connected")

	a := h.adapter(0)
	if connects, _ := a.counts(); connects != 1 {
		t.Fatalf("connect calls = %d", connects)
	}
	if !a.Connected() {
		t.Fatalf("adapter not connected")
	}
}

func TestConnectReplacesExistingUpstream(t *testing.T) {
	h := newHarness(t, nil)
	first := h.connect()

	h.frame(`{"type":"connect"}`)
	h.conn.waitFor(t, 1, "connected")

	if !first.wasClosed() {
		t.Fatalf("first adapter was not released")
	}
	second := h.adapter(1)
	if !second.Connected() {
		t.Fatalf("second adapter not connected")
	}
	if got := h.conn.countType("disconnected"); got != 0 {
		t.Fatalf("replacing the upstream leaked %d disconnected frames", got)
	}
}

func TestConnectFailureReturnsToIdle(t *testing.T) {
	fail := newFakeAdapter()
	fail.connectErr = context.DeadlineExceeded
	h := newHarness(t, func(o *Options) {
		o.NewAdapter = func(upstream.Config) Adapter { return fail }
	})

	h.frame(`{"type":"connect"}`)
	f, next := h.conn.waitFor(t, 0, "error")
	if f.(protocol.ServerError).Kind != "connection_failed" {
		t.Fatalf("error frame = %+v", f)
	}
	if !fail.wasClosed() {
		t.Fatalf("failed adapter not released")
	}

	h.frame(`{"type":"get_state"}`)
	sf, _ := h.conn.waitFor(t, next, "state")
	state := sf.(protocol.ServerState)
	if state.State != "idle" || state.Connected {
		t.Fatalf("state = %+v", state)
	}
}

func TestDisconnectWithoutSessionIsSilent(t *testing.T) {
	h := newHarness(t, nil)
	h.frame(`{"type":"disconnect"}`)
	h.barrier(0)
	if got := h.conn.countType("disconnected"); got != 0 {
		t.Fatalf("idle disconnect produced %d frames", got)
	}
}

func TestDisconnectEmitsExactlyOneFrame(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect()

	h.frame(`{"type":"disconnect"}`)
	f, next := h.conn.waitFor(t, 0, "disconnected")
	if f.(protocol.ServerDisconnected).Reason != "client requested" {
		t.Fatalf("disconnected frame = %+v", f)
	}
	if !a.wasClosed() {
		t.Fatalf("adapter not released")
	}

	h.frame(`{"type":"disconnect"}`)
	h.barrier(next)
	if got := h.conn.countType("disconnected"); got != 1 {
		t.Fatalf("disconnected frames = %d", got)
	}
}

func TestTextRequiresActiveSession(t *testing.T) {
	h := newHarness(t, nil)
	h.frame(`{"type":"text","text":"hello"}`)
	f, _ := h.conn.waitFor(t, 0, "error")
	if f.(protocol.ServerError).Kind != "not_connected" {
		t.Fatalf("error frame = %+v", f)
	}
}

func TestTextForwardedUpstream(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect()

	h.frame(`{"type":"text","text":"what time is it"}`)
	h.barrier(0)
	texts := a.snapshotTexts()
	if len(texts) != 1 || texts[0] != "what time is it" {
		t.Fatalf("texts = %v", texts)
	}
}

func TestAudioFramesDecodeAndDropQuietly(t *testing.T) {
	h := newHarness(t, nil)

	// Idle: frames are dropped without an error event.
	h.frame(`{"type":"audio","data":"AAEC"}`)
	next := h.barrier(0)
	if got := h.conn.countType("error"); got != 0 {
		t.Fatalf("idle audio produced %d error frames", got)
	}

	a := h.connect()
	h.frame(`{"type":"audio","data":"` + base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) + `"}`)
	h.frame(`{"type":"audio","data":"%%%not-base64%%%"}`)
	h.frame(`{"type":"audio_stream_end"}`)
	h.barrier(next)

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.audio) != 1 || len(a.audio[0]) != 3 {
		t.Fatalf("audio = %v", a.audio)
	}
	if a.streamEnds != 1 {
		t.Fatalf("streamEnds = %d", a.streamEnds)
	}
}

func TestUpdateConfigAppliesWithoutReconnect(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect()

	h.frame(`{"type":"update_config","config":{"voice":"Kore","temperature":0.2}}`)
	f, next := h.conn.waitFor(t, 0, "state")
	state := f.(protocol.ServerState)
	if state.State != "active" || !state.Connected {
		t.Fatalf("state = %+v", state)
	}

	h.frame(`{"type":"get_config"}`)
	cf, _ := h.conn.waitFor(t, next, "config")
	view := cf.(protocol.ServerConfig).Config
	if view.Voice != "Kore" || view.Temperature == nil || *view.Temperature != 0.2 {
		t.Fatalf("config view = %+v", view)
	}
	if view.Model != "gemini-2.0-flash-live-001" {
		t.Fatalf("unset fields must keep defaults, got model %q", view.Model)
	}

	connects, reconnects := a.counts()
	if connects != 1 || reconnects != 0 {
		t.Fatalf("update_config touched the connection: connects=%d reconnects=%d", connects, reconnects)
	}
}

func TestResponseModalityIsAlwaysAudio(t *testing.T) {
	h := newHarness(t, nil)

	h.frame(`{"type":"connect","config":{"responseModalities":["TEXT"]}}`)
	_, next := h.conn.waitFor(t, 0, "connected")

	h.frame(`{"type":"get_state"}`)
	sf, next := h.conn.waitFor(t, next, "state")
	state := sf.(protocol.ServerState)
	if len(state.Modalities) != 1 || state.Modalities[0] != "AUDIO" {
		t.Fatalf("modalities = %v, a text request must not stick", state.Modalities)
	}

	h.frame(`{"type":"update_config","config":{"responseModalities":["TEXT","IMAGE"]}}`)
	uf, next := h.conn.waitFor(t, next, "state")
	if mods := uf.(protocol.ServerState).Modalities; len(mods) != 1 || mods[0] != "AUDIO" {
		t.Fatalf("modalities after update = %v", mods)
	}

	h.frame(`{"type":"get_config"}`)
	cf, _ := h.conn.waitFor(t, next, "config")
	view := cf.(protocol.ServerConfig).Config
	if len(view.ResponseModalities) != 1 || view.ResponseModalities[0] != "AUDIO" {
		t.Fatalf("config view modalities = %v", view.ResponseModalities)
	}
}

func TestServerContentForwarding(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect()

	a.push(upstream.AudioChunkEvent{Data: []byte{9, 9}, MIMEType: "audio/pcm"})
	a.push(upstream.InputTranscriptEvent{Text: "hi"})
	a.push(upstream.InterruptedEvent{})
	a.push(upstream.TurnCompleteEvent{})
	a.push(upstream.UsageEvent{InputTokens: 10, OutputTokens: 20, TotalTokens: 30})

	f, next := h.conn.waitFor(t, 0, "audio")
	audio := f.(protocol.ServerAudio)
	if audio.Data != base64.StdEncoding.EncodeToString([]byte{9, 9}) || audio.MIMEType != "audio/pcm" {
		t.Fatalf("audio frame = %+v", audio)
	}
	_, next = h.conn.waitFor(t, next, "input_transcription")
	_, next = h.conn.waitFor(t, next, "interrupted")
	_, next = h.conn.waitFor(t, next, "turn_complete")
	uf, _ := h.conn.waitFor(t, next, "usage")
	if uf.(protocol.ServerUsage).TotalTokens != 30 {
		t.Fatalf("usage frame = %+v", uf)
	}
}

func TestGoAwayReconnectsTransparently(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect()

	a.push(upstream.GoAwayEvent{TimeLeft: "10s"})
	f, next := h.conn.waitFor(t, 0, "go_away")
	if f.(protocol.ServerGoAway).TimeLeft != "10s" {
		t.Fatalf("go_away frame = %+v", f)
	}

	// Second connected frame marks the replacement connection.
	h.conn.waitFor(t, next, "connected")
	if _, reconnects := a.counts(); reconnects != 1 {
		t.Fatalf("reconnect calls = %d", reconnects)
	}
	if got := h.conn.countType("disconnected"); got != 0 {
		t.Fatalf("planned reconnect leaked %d disconnected frames", got)
	}
}

func TestGoAwayWhileReconnectingIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect()

	a.push(upstream.GoAwayEvent{TimeLeft: "10s"})
	a.push(upstream.GoAwayEvent{TimeLeft: "9s"})

	_, next := h.conn.waitFor(t, 0, "go_away")
	_, next = h.conn.waitFor(t, next, "go_away")
	h.conn.waitFor(t, next, "connected")

	time.Sleep(30 * time.Millisecond)
	if _, reconnects := a.counts(); reconnects != 1 {
		t.Fatalf("reconnect calls = %d, second go-away must not schedule another", reconnects)
	}
}

func TestUnexpectedDropResumesWithHandle(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect()
	a.mu.Lock()
	a.handle = "resume-me"
	a.resumable = true
	a.mu.Unlock()

	a.drop("read: connection reset")

	f, next := h.conn.waitFor(t, 0, "disconnected")
	if f.(protocol.ServerDisconnected).Reason != "read: connection reset" {
		t.Fatalf("disconnected frame = %+v", f)
	}
	h.conn.waitFor(t, next, "connected")
	if _, reconnects := a.counts(); reconnects != 1 {
		t.Fatalf("reconnect calls = %d", reconnects)
	}
}

func TestUnexpectedDropWithoutHandleSettlesIdle(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect()

	a.drop("read: connection reset")
	_, next := h.conn.waitFor(t, 0, "disconnected")

	h.frame(`{"type":"get_state"}`)
	sf, _ := h.conn.waitFor(t, next, "state")
	state := sf.(protocol.ServerState)
	if state.State != "idle" || state.Connected {
		t.Fatalf("state = %+v", state)
	}
	if !a.wasClosed() {
		t.Fatalf("dropped adapter not released")
	}
	if _, reconnects := a.counts(); reconnects != 0 {
		t.Fatalf("reconnect attempted without a resumption handle")
	}
}

func TestDropWhenResumptionDisabledSettlesIdle(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Defaults.SessionResumption = false
	})
	a := h.connect()
	a.mu.Lock()
	a.handle = "resume-me"
	a.mu.Unlock()

	a.drop("gone")
	_, next := h.conn.waitFor(t, 0, "disconnected")

	h.frame(`{"type":"get_state"}`)
	sf, _ := h.conn.waitFor(t, next, "state")
	if sf.(protocol.ServerState).State != "idle" {
		t.Fatalf("state = %+v", sf)
	}
}

func TestClientReconnect(t *testing.T) {
	h := newHarness(t, nil)

	h.frame(`{"type":"reconnect"}`)
	f, next := h.conn.waitFor(t, 0, "error")
	if f.(protocol.ServerError).Kind != "not_connected" {
		t.Fatalf("error frame = %+v", f)
	}

	a := h.connect()
	base := len(h.conn.snapshot())
	if base <= next {
		base = next
	}
	h.frame(`{"type":"reconnect"}`)
	h.conn.waitFor(t, base, "connected")
	if _, reconnects := a.counts(); reconnects != 1 {
		t.Fatalf("reconnect calls = %d", reconnects)
	}
	if got := h.conn.countType("disconnected"); got != 0 {
		t.Fatalf("client reconnect leaked %d disconnected frames", got)
	}
}

func TestReconnectFailureEndsSessionErrored(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect()
	a.mu.Lock()
	a.reconnectErr = context.DeadlineExceeded
	a.mu.Unlock()

	h.frame(`{"type":"reconnect"}`)
	f, next := h.conn.waitFor(t, 0, "error")
	if f.(protocol.ServerError).Kind != "reconnect_failed" {
		t.Fatalf("error frame = %+v", f)
	}
	if !a.wasClosed() {
		t.Fatalf("failed adapter not released")
	}

	h.frame(`{"type":"get_state"}`)
	sf, next := h.conn.waitFor(t, next, "state")
	state := sf.(protocol.ServerState)
	if state.State != "errored" || state.Connected {
		t.Fatalf("state = %+v", state)
	}

	// A fresh connect recovers from the errored state.
	h.frame(`{"type":"connect"}`)
	h.conn.waitFor(t, next, "connected")
	if !h.adapter(1).Connected() {
		t.Fatalf("replacement adapter not connected")
	}
}

func TestMalformedFrameKeepsSessionAlive(t *testing.T) {
	h := newHarness(t, nil)
	h.frame(`{"type":"video","data":"AAEC"}`)
	f, next := h.conn.waitFor(t, 0, "error")
	if f.(protocol.ServerError).Kind != "bad_request" {
		t.Fatalf("error frame = %+v", f)
	}
	h.barrier(next)
}

func TestResumptionUpdateReportsHandlePresence(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect()

	a.push(upstream.ResumptionUpdateEvent{Handle: "h1", Resumable: true})
	f, next := h.conn.waitFor(t, 0, "session_resumption_update")
	update := f.(protocol.ServerResumptionUpdate)
	if !update.Resumable || !update.HasHandle {
		t.Fatalf("update frame = %+v", update)
	}

	// Empty handle in the event falls back to the adapter's stored state.
	a.mu.Lock()
	a.handle = "h2"
	a.mu.Unlock()
	a.push(upstream.ResumptionUpdateEvent{Resumable: true})
	f, _ = h.conn.waitFor(t, next, "session_resumption_update")
	if !f.(protocol.ServerResumptionUpdate).HasHandle {
		t.Fatalf("update frame = %+v", f)
	}
}
