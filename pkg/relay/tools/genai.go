package tools

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini-backed collaborator implementations. These are the production
// defaults: app generation and page summarization go through plain
// generateContent, code execution delegates to the model-side code execution
// sandbox.

// GeminiBuilder implements AppBuilder on top of the Gemini API.
type GeminiBuilder struct {
	client *genai.Client
	model  string
}

func NewGeminiBuilder(ctx context.Context, apiKey, model string) (*GeminiBuilder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiBuilder{client: client, model: model}, nil
}

func (b *GeminiBuilder) BuildApp(ctx context.Context, prompt string) (string, error) {
	resp, err := b.client.Models.GenerateContent(ctx, b.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature: genai.Ptr(float32(0.4)),
		})
	if err != nil {
		return "", fmt.Errorf("generate app: %w", err)
	}
	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("generate app: empty response")
	}
	return text, nil
}

// GeminiRunner implements CodeRunner by delegating to the Gemini code
// execution tool: the snippet runs in the model-side sandbox and the
// execution result parts carry its output.
type GeminiRunner struct {
	client *genai.Client
	model  string
}

func NewGeminiRunner(ctx context.Context, apiKey, model string) (*GeminiRunner, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiRunner{client: client, model: model}, nil
}

func (r *GeminiRunner) RunCode(ctx context.Context, code string) (string, error) {
	prompt := "Execute exactly the following Python code with the code execution tool and do not modify it:\n\n" + code
	resp, err := r.client.Models.GenerateContent(ctx, r.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Tools: []*genai.Tool{{CodeExecution: &genai.ToolCodeExecution{}}},
		})
	if err != nil {
		return "", fmt.Errorf("run code: %w", err)
	}

	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.CodeExecutionResult == nil {
				continue
			}
			output := part.CodeExecutionResult.Output
			if part.CodeExecutionResult.Outcome != genai.OutcomeOK {
				return output, fmt.Errorf("execution failed: %s", firstLine(output))
			}
			return output, nil
		}
	}
	return "", fmt.Errorf("run code: no execution result in response")
}

// maxPageTextForSummary keeps page content inside a sane budget before asking
// for the summary.
const maxPageTextForSummary = 24 << 10

// GeminiSummarizer turns fetched page text into a short summary. It is the
// generation half of the WebSummarizer fetcher.
type GeminiSummarizer struct {
	client *genai.Client
	model  string
}

func NewGeminiSummarizer(ctx context.Context, apiKey, model string) (*GeminiSummarizer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiSummarizer{client: client, model: model}, nil
}

func (s *GeminiSummarizer) Summarize(ctx context.Context, pageText string) (string, error) {
	if len(pageText) > maxPageTextForSummary {
		pageText = pageText[:maxPageTextForSummary]
	}
	prompt := "Summarize the following web page content in a few short sentences suitable for reading aloud:\n\n" + pageText
	resp, err := s.client.Models.GenerateContent(ctx, s.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature: genai.Ptr(float32(0.3)),
		})
	if err != nil {
		return "", fmt.Errorf("summarize page: %w", err)
	}
	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("summarize page: empty response")
	}
	return strings.TrimSpace(text), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.Text != "" {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
