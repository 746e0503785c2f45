package tools

import "context"

// The long-running tools delegate their heavy lifting to external
// collaborators. The relay specifies only these contracts; production wiring
// plugs in the Gemini-backed implementations from genai.go, tests plug in
// fakes.

// AppBuilder produces a single-file application document from a prompt.
type AppBuilder interface {
	BuildApp(ctx context.Context, prompt string) (string, error)
}

// CodeRunner executes a code snippet and returns its combined output.
type CodeRunner interface {
	RunCode(ctx context.Context, code string) (output string, err error)
}

// PageFetcher retrieves a URL and returns a text summary of its content.
type PageFetcher interface {
	FetchAndSummarize(ctx context.Context, url string, progress ProgressFunc) (summary string, title string, err error)
}
