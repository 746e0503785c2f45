package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// interpreterTool implements run_code and edit_code. Execution is delegated
// to the injected CodeRunner; the tool records the run as an artifact so the
// model can refer back to it and the client can show the source alongside
// the output.
type interpreterTool struct {
	edit   bool
	runner CodeRunner
	store  ArtifactStore
	logger *slog.Logger
}

func (t *interpreterTool) Name() string {
	if t.edit {
		return "edit_code"
	}
	return "run_code"
}

func (t *interpreterTool) Family() string    { return "interpreter" }
func (t *interpreterTool) LongRunning() bool { return true }

func (t *interpreterTool) Description() string {
	if t.edit {
		return "Re-runs a previous code artifact after applying the given changes to its source."
	}
	return "Executes a Python snippet and returns its output."
}

func (t *interpreterTool) Parameters() json.RawMessage {
	if t.edit {
		return json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string", "description": "Artifact id of the code run to edit."},
				"code": {"type": "string", "description": "The full replacement source."}
			},
			"required": ["id", "code"]
		}`)
	}
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "description": "Short label for this run."},
			"code": {"type": "string", "description": "The Python source to execute."}
		},
		"required": ["code"]
	}`)
}

func (t *interpreterTool) Execute(ctx context.Context, args map[string]any, progress ProgressFunc) map[string]any {
	code := stringArg(args, "code")
	if code == "" {
		return Failure(t.Name() + " requires code")
	}

	var prior Artifact
	title := stringArg(args, "title")
	if t.edit {
		id := stringArg(args, "id")
		if id == "" {
			return Failure("edit_code requires id")
		}
		existing, ok := t.store.Get(id)
		if !ok {
			return Failure(fmt.Sprintf("code artifact %q not found", id))
		}
		prior = existing
		title = existing.Title
	}
	if title == "" {
		title = "Code run"
	}

	progress("executing", "Executing code")

	output, err := t.runner.RunCode(ctx, code)
	status := "ready"
	if err != nil {
		status = "failed"
		t.logger.Debug("code run failed", "tool", t.Name(), "error", err)
	}

	artifact := Artifact{
		Kind:    "code",
		Title:   title,
		Content: code,
		Output:  output,
		Status:  status,
	}
	if t.edit {
		artifact.ID = prior.ID
		artifact.CreatedAt = prior.CreatedAt
	}
	artifact = t.store.Put(artifact)

	if err != nil {
		// The run itself failing is still a completed tool call from the
		// model's point of view; it needs the failure as a payload.
		return map[string]any{
			"success": false,
			"id":      artifact.ID,
			"title":   artifact.Title,
			"status":  artifact.Status,
			"error":   err.Error(),
		}
	}
	return map[string]any{
		"success": true,
		"id":      artifact.ID,
		"title":   artifact.Title,
		"status":  artifact.Status,
		"output":  output,
	}
}
