package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

// ChatModel turns a conversation history plus one new user message into a
// model reply.
type ChatModel interface {
	Complete(ctx context.Context, history []ChatTurn, message string) (string, error)
}

// ChatTurn is one prior exchange in a chat conversation.
type ChatTurn struct {
	Role string
	Text string
}

// GeminiChat is the production ChatModel.
type GeminiChat struct {
	client *genai.Client
	model  string
}

func NewGeminiChat(ctx context.Context, apiKey, model string) (*GeminiChat, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiChat{client: client, model: model}, nil
}

func (g *GeminiChat) Complete(ctx context.Context, history []ChatTurn, message string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		var role genai.Role = genai.RoleUser
		if turn.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate chat reply: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty chat response")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty chat response")
	}
	return sb.String(), nil
}

// ChatHandler serves /v1/chat: a plain text-turn websocket with per-connection
// history. Same acceptance pattern as the live endpoint, none of the
// streaming machinery.
type ChatHandler struct {
	Logger *slog.Logger
	Model  ChatModel

	AllowedOrigins  []string
	MaxMessageBytes int64
	WriteTimeout    time.Duration

	// MaxHistoryTurns caps how much back-and-forth is replayed per request.
	// Zero means the default of 40.
	MaxHistoryTurns int
}

type chatClientFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type chatServerFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Model == nil {
		http.Error(w, "chat is not configured", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return originAllowed(r, h.AllowedOrigins) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.MaxMessageBytes)
	}

	maxTurns := h.MaxHistoryTurns
	if maxTurns <= 0 {
		maxTurns = 40
	}

	var writeMu sync.Mutex
	write := func(frame chatServerFrame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if h.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
		}
		_ = conn.WriteJSON(frame)
	}

	var history []ChatTurn
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame chatClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			write(chatServerFrame{Type: "error", Message: "invalid json frame"})
			continue
		}
		switch frame.Type {
		case "ping":
			write(chatServerFrame{Type: "pong"})
		case "reset":
			history = nil
			write(chatServerFrame{Type: "reset_ack"})
		case "message":
			text := strings.TrimSpace(frame.Text)
			if text == "" {
				write(chatServerFrame{Type: "error", Message: "message.text is required"})
				continue
			}
			reply, err := h.Model.Complete(r.Context(), history, text)
			if err != nil {
				if h.Logger != nil {
					h.Logger.Warn("chat completion failed", "error", err)
				}
				write(chatServerFrame{Type: "error", Message: "chat completion failed"})
				continue
			}
			history = append(history, ChatTurn{Role: "user", Text: text}, ChatTurn{Role: "model", Text: reply})
			if len(history) > maxTurns {
				history = history[len(history)-maxTurns:]
			}
			write(chatServerFrame{Type: "reply", Text: reply})
		default:
			write(chatServerFrame{Type: "error", Message: "unsupported message type"})
		}
	}
}
