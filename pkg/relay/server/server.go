package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vokal-ai/livebridge/pkg/relay/config"
	"github.com/vokal-ai/livebridge/pkg/relay/handlers"
	"github.com/vokal-ai/livebridge/pkg/relay/mw"
	"github.com/vokal-ai/livebridge/pkg/relay/protocol"
	"github.com/vokal-ai/livebridge/pkg/relay/session"
	"github.com/vokal-ai/livebridge/pkg/relay/sessions"
	"github.com/vokal-ai/livebridge/pkg/relay/tools"
	"github.com/vokal-ai/livebridge/pkg/relay/upstream"
)

// Server wires the relay's handlers, session tracker and tool executor.
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	tracker  *sessions.Tracker
	executor *tools.Executor
	chat     handlers.ChatModel
}

// New builds the server and its collaborators. The genai-backed tool backends
// share the configured API key with the live upstream.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	builder, err := tools.NewGeminiBuilder(ctx, cfg.GeminiAPIKey, cfg.ChatModel)
	if err != nil {
		return nil, fmt.Errorf("init app builder: %w", err)
	}
	runner, err := tools.NewGeminiRunner(ctx, cfg.GeminiAPIKey, cfg.ChatModel)
	if err != nil {
		return nil, fmt.Errorf("init code runner: %w", err)
	}
	summarizer, err := tools.NewGeminiSummarizer(ctx, cfg.GeminiAPIKey, cfg.ChatModel)
	if err != nil {
		return nil, fmt.Errorf("init summarizer: %w", err)
	}
	chat, err := handlers.NewGeminiChat(ctx, cfg.GeminiAPIKey, cfg.ChatModel)
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}

	executor := tools.NewExecutor(tools.Dependencies{
		Logger:            logger,
		Apps:              tools.NewMemoryStore(),
		Runs:              tools.NewMemoryStore(),
		Builder:           builder,
		Runner:            runner,
		Fetcher:           tools.NewWebSummarizer(nil, summarizer),
		MaxRepairAttempts: cfg.MaxRepairAttempts,
	})

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		tracker:  sessions.NewTracker(),
		executor: executor,
		chat:     chat,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{Sessions: s.tracker})

	s.mux.Handle("/v1/session", handlers.LiveHandler{
		Logger:               s.logger,
		Sessions:             s.tracker,
		Executor:             s.executor,
		Defaults:             s.sessionDefaults(),
		NewAdapter:           s.newAdapter,
		AllowedOrigins:       s.cfg.AllowedOrigins,
		MaxMessageBytes:      s.cfg.MaxClientMessageBytes,
		WriteTimeout:         s.cfg.ClientWriteTimeout,
		GoAwayReconnectDelay: s.cfg.GoAwayReconnectDelay,
		ResumeReconnectDelay: s.cfg.ResumeReconnectDelay,
	})

	s.mux.Handle("/v1/chat", handlers.ChatHandler{
		Logger:          s.logger,
		Model:           s.chat,
		AllowedOrigins:  s.cfg.AllowedOrigins,
		MaxMessageBytes: s.cfg.MaxClientMessageBytes,
		WriteTimeout:    s.cfg.ClientWriteTimeout,
	})
}

func (s *Server) sessionDefaults() session.Defaults {
	return session.Defaults{
		Model:               s.cfg.DefaultModel,
		Voice:               s.cfg.DefaultVoice,
		SystemInstruction:   s.cfg.SystemInstruction,
		Temperature:         s.cfg.Temperature,
		ContextCompression:  s.cfg.ContextCompression,
		SessionResumption:   s.cfg.SessionResumption,
		AffectiveDialog:     s.cfg.AffectiveDialog,
		ProactiveAudio:      s.cfg.ProactiveAudio,
		ThinkingBudget:      s.cfg.ThinkingBudget,
		IncludeThoughts:     s.cfg.IncludeThoughts,
		InputTranscription:  s.cfg.InputTranscription,
		OutputTranscription: s.cfg.OutputTranscription,
		MediaResolution:     s.cfg.MediaResolution,
		SearchEnabled:       s.cfg.SearchEnabled,
		FunctionsEnabled:    s.cfg.FunctionsEnabled,
		ToolSync:            s.cfg.ToolSyncMap(),
		Models:              s.cfg.Models,
		Voices:              s.cfg.Voices,
	}
}

func (s *Server) newAdapter(cfg upstream.Config) session.Adapter {
	return upstream.New(cfg, upstream.Options{
		APIKey:         s.cfg.GeminiAPIKey,
		BaseURL:        s.cfg.GeminiLiveBaseURL,
		Logger:         s.logger,
		ConnectTimeout: s.cfg.UpstreamConnectTimeout,
	})
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Shutdown warns every live session, stops them, and waits for the tracker to
// drain or the context to expire.
func (s *Server) Shutdown(ctx context.Context) {
	n := s.tracker.NotifyAll(protocol.ServerGoAway{Type: "go_away", TimeLeft: "0s"})
	if n > 0 {
		s.logger.Info("shutdown warning sent", "sessions", n)
	}
	s.tracker.StopAll()
	if !s.tracker.Drain(ctx) {
		s.logger.Warn("session drain timed out", "remaining", s.tracker.Count())
	}
}
