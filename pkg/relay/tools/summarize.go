package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
)

// summarizeTool implements summarize_url: fetch a page through the
// collaborator and hand back a conversational summary.
type summarizeTool struct {
	fetcher PageFetcher
	logger  *slog.Logger
}

func (summarizeTool) Name() string        { return "summarize_url" }
func (summarizeTool) Family() string      { return "summary" }
func (summarizeTool) LongRunning() bool   { return true }
func (summarizeTool) Description() string {
	return "Fetches a web page and returns a short summary of its content."
}

func (summarizeTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The http(s) URL to fetch and summarize."}
		},
		"required": ["url"]
	}`)
}

func (t *summarizeTool) Execute(ctx context.Context, args map[string]any, progress ProgressFunc) map[string]any {
	raw := stringArg(args, "url")
	if raw == "" {
		return Failure("summarize_url requires url")
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return Failure("url must be a valid http(s) URL")
	}

	progress("fetching", "Fetching "+parsed.Host)
	summary, title, err := t.fetcher.FetchAndSummarize(ctx, parsed.String(), progress)
	if err != nil {
		return Failure("could not summarize " + parsed.Host + ": " + err.Error())
	}

	result := map[string]any{
		"success": true,
		"url":     parsed.String(),
		"summary": summary,
	}
	if strings.TrimSpace(title) != "" {
		result["title"] = strings.TrimSpace(title)
	}
	return result
}
