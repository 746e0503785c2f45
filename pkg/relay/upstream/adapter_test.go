package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// bidiServer is a fake live endpoint: it accepts websocket connections,
// answers the setup handshake, and exposes each connection's frames.
type bidiServer struct {
	srv      *httptest.Server
	accepted chan *bidiConn
}

type bidiConn struct {
	conn    *websocket.Conn
	setup   map[string]any
	inbound chan map[string]any
}

func newBidiServer(t *testing.T) *bidiServer {
	t.Helper()
	s := &bidiServer{accepted: make(chan *bidiConn, 4)}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var first map[string]any
		if err := conn.ReadJSON(&first); err != nil {
			conn.Close()
			return
		}
		setup, _ := first["setup"].(map[string]any)
		if setup == nil {
			conn.Close()
			return
		}
		if err := conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}}); err != nil {
			conn.Close()
			return
		}
		bc := &bidiConn{conn: conn, setup: setup, inbound: make(chan map[string]any, 16)}
		s.accepted <- bc
		go func() {
			defer close(bc.inbound)
			for {
				var frame map[string]any
				if err := conn.ReadJSON(&frame); err != nil {
					return
				}
				bc.inbound <- frame
			}
		}()
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *bidiServer) baseURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *bidiServer) next(t *testing.T) *bidiConn {
	t.Helper()
	select {
	case bc := <-s.accepted:
		return bc
	case <-time.After(2 * time.Second):
		t.Fatal("no upstream connection accepted")
		return nil
	}
}

func (c *bidiConn) read(t *testing.T) map[string]any {
	t.Helper()
	select {
	case frame, ok := <-c.inbound:
		if !ok {
			t.Fatal("upstream connection closed")
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from adapter")
		return nil
	}
}

func (c *bidiConn) push(t *testing.T, frame map[string]any) {
	t.Helper()
	if err := c.conn.WriteJSON(frame); err != nil {
		t.Fatalf("push server frame: %v", err)
	}
}

func newTestAdapter(t *testing.T, s *bidiServer, cfg Config) *Adapter {
	t.Helper()
	a := New(cfg, Options{
		APIKey:         "test-key",
		BaseURL:        s.baseURL(),
		ConnectTimeout: 2 * time.Second,
	})
	t.Cleanup(a.Close)
	return a
}

func nextEvent(t *testing.T, a *Adapter) Event {
	t.Helper()
	select {
	case ev := <-a.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no adapter event")
		return nil
	}
}

func TestConnectHandshake(t *testing.T) {
	s := newBidiServer(t)
	a := newTestAdapter(t, s, baseConfig())

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, ok := nextEvent(t, a).(ConnectedEvent); !ok {
		t.Fatal("first event is not ConnectedEvent")
	}
	if !a.Connected() {
		t.Fatal("adapter not connected")
	}

	bc := s.next(t)
	if got := bc.setup["model"]; got != "models/gemini-2.0-flash-live-001" {
		t.Fatalf("setup model = %v", got)
	}
}

func TestSendTextSignalsActivityFirst(t *testing.T) {
	s := newBidiServer(t)
	a := newTestAdapter(t, s, baseConfig())
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	nextEvent(t, a)
	bc := s.next(t)

	if err := a.SendText("hello there"); err != nil {
		t.Fatalf("send text: %v", err)
	}

	first := bc.read(t)
	rt, _ := first["realtimeInput"].(map[string]any)
	if rt == nil {
		t.Fatalf("first frame = %v, want realtimeInput", first)
	}
	if _, ok := rt["activityStart"]; !ok {
		t.Fatalf("realtimeInput = %v, want activityStart", rt)
	}

	second := bc.read(t)
	cc, _ := second["clientContent"].(map[string]any)
	if cc == nil {
		t.Fatalf("second frame = %v, want clientContent", second)
	}
	if cc["turnComplete"] != true {
		t.Fatalf("turnComplete = %v", cc["turnComplete"])
	}
	raw, _ := json.Marshal(cc)
	if !strings.Contains(string(raw), "hello there") {
		t.Fatalf("clientContent does not carry the text: %s", raw)
	}
}

func TestSendToolResultsScheduling(t *testing.T) {
	s := newBidiServer(t)
	a := newTestAdapter(t, s, baseConfig())
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	nextEvent(t, a)
	bc := s.next(t)

	err := a.SendToolResults([]ToolResult{
		{ID: "fc-1", Name: "get_current_time", Response: map[string]any{"success": true}},
		{ID: "fc-2", Name: "generate_app", Response: map[string]any{"success": true}, Interrupt: true},
	})
	if err != nil {
		t.Fatalf("send tool results: %v", err)
	}

	frame := bc.read(t)
	tr, _ := frame["toolResponse"].(map[string]any)
	if tr == nil {
		t.Fatalf("frame = %v, want toolResponse", frame)
	}
	responses, _ := tr["functionResponses"].([]any)
	if len(responses) != 2 {
		t.Fatalf("functionResponses = %v", tr["functionResponses"])
	}
	first := responses[0].(map[string]any)
	if _, has := first["scheduling"]; has {
		t.Fatalf("sync result carries scheduling: %v", first)
	}
	second := responses[1].(map[string]any)
	if second["scheduling"] != "INTERRUPT" {
		t.Fatalf("async result scheduling = %v", second["scheduling"])
	}
}

func TestServerContentDispatch(t *testing.T) {
	s := newBidiServer(t)
	a := newTestAdapter(t, s, baseConfig())
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	nextEvent(t, a)
	bc := s.next(t)

	audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	bc.push(t, map[string]any{"serverContent": map[string]any{
		"modelTurn": map[string]any{"parts": []any{
			map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": audio}},
			map[string]any{"text": "thinking about it", "thought": true},
			map[string]any{"text": "spoken words"},
		}},
		"outputTranscription": map[string]any{"text": "spoken words"},
		"turnComplete":        true,
	}})

	chunk, ok := nextEvent(t, a).(AudioChunkEvent)
	if !ok {
		t.Fatal("expected AudioChunkEvent")
	}
	if chunk.MIMEType != "audio/pcm;rate=24000" || len(chunk.Data) != 3 {
		t.Fatalf("audio chunk = %+v", chunk)
	}

	// The thought part is dropped: the session config does not enable
	// thought summaries.
	text, ok := nextEvent(t, a).(TextChunkEvent)
	if !ok || text.Text != "spoken words" {
		t.Fatalf("expected text chunk, got %#v", text)
	}
	if tr, ok := nextEvent(t, a).(OutputTranscriptEvent); !ok || tr.Text != "spoken words" {
		t.Fatalf("expected output transcript, got %#v", tr)
	}
	if _, ok := nextEvent(t, a).(TurnCompleteEvent); !ok {
		t.Fatal("expected TurnCompleteEvent")
	}
}

func TestToolCallAndGoAwayEvents(t *testing.T) {
	s := newBidiServer(t)
	a := newTestAdapter(t, s, baseConfig())
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	nextEvent(t, a)
	bc := s.next(t)

	bc.push(t, map[string]any{"toolCall": map[string]any{
		"functionCalls": []any{
			map[string]any{"id": "fc-1", "name": "get_current_time", "args": map[string]any{"timezone": "UTC"}},
		},
	}})
	call, ok := nextEvent(t, a).(ToolCallEvent)
	if !ok || len(call.Calls) != 1 || call.Calls[0].Name != "get_current_time" {
		t.Fatalf("tool call event = %#v", call)
	}

	bc.push(t, map[string]any{"goAway": map[string]any{"timeLeft": "10s"}})
	goAway, ok := nextEvent(t, a).(GoAwayEvent)
	if !ok || goAway.TimeLeft != "10s" {
		t.Fatalf("go away event = %#v", goAway)
	}
}

func TestReconnectReusesResumptionHandle(t *testing.T) {
	s := newBidiServer(t)
	a := newTestAdapter(t, s, baseConfig())
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	nextEvent(t, a)
	bc := s.next(t)

	bc.push(t, map[string]any{"sessionResumptionUpdate": map[string]any{
		"newHandle": "resume-me",
		"resumable": true,
	}})
	update, ok := nextEvent(t, a).(ResumptionUpdateEvent)
	if !ok || update.Handle != "resume-me" || !update.Resumable {
		t.Fatalf("resumption event = %#v", update)
	}
	if handle, resumable := a.ResumptionState(); handle != "resume-me" || !resumable {
		t.Fatalf("stored state = %q/%v", handle, resumable)
	}

	if err := a.Reconnect(context.Background(), nil); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	// Drain the torn-down connection's disconnect and the fresh connect.
	sawConnected := false
	for i := 0; i < 3 && !sawConnected; i++ {
		_, sawConnected = nextEvent(t, a).(ConnectedEvent)
	}
	if !sawConnected {
		t.Fatal("no ConnectedEvent after reconnect")
	}

	second := s.next(t)
	resumption, _ := second.setup["sessionResumption"].(map[string]any)
	if resumption == nil || resumption["handle"] != "resume-me" {
		t.Fatalf("second setup resumption = %v", second.setup["sessionResumption"])
	}
}

func TestUpstreamCloseEmitsDisconnected(t *testing.T) {
	s := newBidiServer(t)
	a := newTestAdapter(t, s, baseConfig())
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	nextEvent(t, a)
	bc := s.next(t)

	bc.conn.Close()
	if _, ok := nextEvent(t, a).(DisconnectedEvent); !ok {
		t.Fatal("expected DisconnectedEvent after upstream close")
	}
	if a.Connected() {
		t.Fatal("adapter still reports connected")
	}
}

func TestDisconnectClosesConnection(t *testing.T) {
	s := newBidiServer(t)
	a := newTestAdapter(t, s, baseConfig())

	// Safe with nothing to close.
	a.Disconnect()

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	nextEvent(t, a)
	s.next(t)

	a.Disconnect()
	if _, ok := nextEvent(t, a).(DisconnectedEvent); !ok {
		t.Fatal("expected DisconnectedEvent after disconnect")
	}
	if a.Connected() {
		t.Fatal("adapter still reports connected")
	}

	// The adapter itself survives and can dial again.
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect after disconnect: %v", err)
	}
	if _, ok := nextEvent(t, a).(ConnectedEvent); !ok {
		t.Fatal("expected ConnectedEvent after second connect")
	}
}

func TestRealtimeSendsAreNoopsWhenDisconnected(t *testing.T) {
	t.Parallel()
	a := New(baseConfig(), Options{APIKey: "k"})
	defer a.Close()

	a.SendAudio([]byte{1, 2})
	a.SendVideo([]byte{3}, "image/jpeg")
	a.SendAudioStreamEnd()

	if err := a.SendText("hi"); err == nil {
		t.Fatal("SendText should error when disconnected")
	}
	select {
	case ev := <-a.Events():
		t.Fatalf("unexpected event %#v", ev)
	default:
	}
}
