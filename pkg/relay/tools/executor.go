package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vokal-ai/livebridge/pkg/relay/upstream"
)

// ProgressFunc receives interim status from a long-running tool: a phase
// token (generating, validating, fixing, executing, fetching, summarizing)
// and a human-readable message.
type ProgressFunc func(phase, message string)

// Tool is one executable capability the model can request.
//
// Execute never returns a Go error: invalid input and internal failures are
// reported as a {success:false, error} payload, because the model must
// receive some result to continue its turn.
type Tool interface {
	Name() string
	Description() string
	Family() string
	LongRunning() bool
	Parameters() json.RawMessage
	Execute(ctx context.Context, args map[string]any, progress ProgressFunc) map[string]any
}

// Descriptor summarizes a registered tool for catalog responses.
type Descriptor struct {
	Name        string
	Description string
	Family      string
	LongRunning bool
}

// Dependencies carries the collaborators and stores the default tool set
// delegates to.
type Dependencies struct {
	Logger  *slog.Logger
	Apps    ArtifactStore
	Runs    ArtifactStore
	Builder AppBuilder
	Runner  CodeRunner
	Fetcher PageFetcher

	// MaxRepairAttempts bounds the validation/repair loop of generation
	// tools. Zero means the default of 3.
	MaxRepairAttempts int
}

// Executor maps tool names to results.
type Executor struct {
	logger *slog.Logger
	tools  map[string]Tool
}

// NewExecutor registers the built-in tool set against the given collaborators.
// Collaborator-backed tools are only registered when their collaborator is
// present, so a relay deployed without a code runner simply does not offer
// run_code to the model.
func NewExecutor(deps Dependencies) *Executor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxRepairAttempts <= 0 {
		deps.MaxRepairAttempts = defaultMaxRepairAttempts
	}

	e := &Executor{
		logger: deps.Logger,
		tools:  make(map[string]Tool),
	}

	e.register(clockTool{})
	if deps.Builder != nil && deps.Apps != nil {
		e.register(&canvasTool{edit: false, builder: deps.Builder, store: deps.Apps, maxAttempts: deps.MaxRepairAttempts, logger: deps.Logger})
		e.register(&canvasTool{edit: true, builder: deps.Builder, store: deps.Apps, maxAttempts: deps.MaxRepairAttempts, logger: deps.Logger})
	}
	if deps.Runner != nil && deps.Runs != nil {
		e.register(&interpreterTool{edit: false, runner: deps.Runner, store: deps.Runs, logger: deps.Logger})
		e.register(&interpreterTool{edit: true, runner: deps.Runner, store: deps.Runs, logger: deps.Logger})
	}
	if deps.Fetcher != nil {
		e.register(&summarizeTool{fetcher: deps.Fetcher, logger: deps.Logger})
	}
	return e
}

func (e *Executor) register(t Tool) {
	e.tools[t.Name()] = t
}

// Execute resolves name to a tool and runs it. Failures of any shape, be it
// an unknown tool, a panicking tool or a collaborator error, come back as a
// structured failure payload, never as a Go error or a crash.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any, progress ProgressFunc) (result map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked", "tool", name, "panic", r)
			result = Failure(fmt.Sprintf("tool %s failed internally", name))
		}
	}()

	tool, ok := e.tools[strings.TrimSpace(name)]
	if !ok {
		return Failure(fmt.Sprintf("unknown tool %q", name))
	}
	if progress == nil {
		progress = func(string, string) {}
	}
	if args == nil {
		args = map[string]any{}
	}
	return tool.Execute(ctx, args, progress)
}

// IsLongRunning reports the static execution class of a tool name. Unknown
// names are treated as instant; they fail fast inside Execute anyway.
func (e *Executor) IsLongRunning(name string) bool {
	tool, ok := e.tools[strings.TrimSpace(name)]
	return ok && tool.LongRunning()
}

// Family returns the progress-event family for a tool name.
func (e *Executor) Family(name string) string {
	if tool, ok := e.tools[strings.TrimSpace(name)]; ok {
		return tool.Family()
	}
	return "tool"
}

// Catalog lists every registered tool in name order.
func (e *Executor) Catalog() []Descriptor {
	out := make([]Descriptor, 0, len(e.tools))
	for _, t := range e.tools {
		out = append(out, Descriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Family:      t.Family(),
			LongRunning: t.LongRunning(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Declarations builds the function declarations for the upstream setup,
// filtered to the enabled set (nil means all registered tools).
func (e *Executor) Declarations(enabled []string) []upstream.FunctionDecl {
	allow := map[string]bool{}
	for _, name := range enabled {
		allow[strings.TrimSpace(name)] = true
	}
	var out []upstream.FunctionDecl
	for _, d := range e.Catalog() {
		if len(allow) > 0 && !allow[d.Name] {
			continue
		}
		out = append(out, upstream.FunctionDecl{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  e.tools[d.Name].Parameters(),
		})
	}
	return out
}

// Failure is the canonical failed-tool payload.
func Failure(message string) map[string]any {
	return map[string]any{"success": false, "error": message}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}
