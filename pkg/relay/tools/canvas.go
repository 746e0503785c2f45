package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const defaultMaxRepairAttempts = 3

// canvasTool implements generate_app and its edit_app variant: long-running
// delegated generation with a bounded validation/repair loop. When the
// generated document fails the structural check, the validation errors are
// appended to the prompt and the build re-runs; after the attempt ceiling the
// best available output is stored with a non-fatal warning instead of failing
// the call outright.
type canvasTool struct {
	edit        bool
	builder     AppBuilder
	store       ArtifactStore
	maxAttempts int
	logger      *slog.Logger
}

func (t *canvasTool) Name() string {
	if t.edit {
		return "edit_app"
	}
	return "generate_app"
}

func (t *canvasTool) Family() string    { return "canvas" }
func (t *canvasTool) LongRunning() bool { return true }

func (t *canvasTool) Description() string {
	if t.edit {
		return "Modifies an existing generated application according to the given instructions."
	}
	return "Generates a small self-contained web application from a description."
}

func (t *canvasTool) Parameters() json.RawMessage {
	if t.edit {
		return json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string", "description": "Artifact id of the app to edit."},
				"instructions": {"type": "string", "description": "What to change."}
			},
			"required": ["id", "instructions"]
		}`)
	}
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "description": "Short display title for the app."},
			"description": {"type": "string", "description": "What the app should do."}
		},
		"required": ["description"]
	}`)
}

func (t *canvasTool) Execute(ctx context.Context, args map[string]any, progress ProgressFunc) map[string]any {
	var (
		title  string
		prompt string
		prior  Artifact
	)
	if t.edit {
		id := stringArg(args, "id")
		instructions := stringArg(args, "instructions")
		if id == "" || instructions == "" {
			return Failure("edit_app requires id and instructions")
		}
		existing, ok := t.store.Get(id)
		if !ok {
			return Failure(fmt.Sprintf("app %q not found", id))
		}
		prior = existing
		title = existing.Title
		prompt = fmt.Sprintf(
			"Modify the following single-file HTML application.\n\nCurrent source:\n%s\n\nRequested changes:\n%s\n\nReturn the complete updated HTML document and nothing else.",
			existing.Content, instructions)
	} else {
		desc := stringArg(args, "description")
		if desc == "" {
			return Failure("generate_app requires a description")
		}
		title = stringArg(args, "title")
		if title == "" {
			title = "Generated app"
		}
		prompt = fmt.Sprintf(
			"Generate a complete, self-contained single-file HTML application.\n\nRequirements:\n%s\n\nReturn only the HTML document, starting with <!DOCTYPE html>.",
			desc)
	}

	progress("generating", "Generating application")

	doc, warning, err := t.buildWithRepair(ctx, prompt, progress)
	if err != nil {
		return Failure(err.Error())
	}

	status := "ready"
	if warning != "" {
		status = "ready_with_warnings"
	}
	artifact := Artifact{
		Kind:    "app",
		Title:   title,
		Content: doc,
		Status:  status,
		Warning: warning,
	}
	if t.edit {
		artifact.ID = prior.ID
		artifact.CreatedAt = prior.CreatedAt
	}
	artifact = t.store.Put(artifact)

	result := map[string]any{
		"success": true,
		"id":      artifact.ID,
		"title":   artifact.Title,
		"status":  artifact.Status,
	}
	if warning != "" {
		result["warning"] = warning
	}
	return result
}

// buildWithRepair runs the generation/validation loop. The returned warning
// is non-empty only when the last attempt still had validation findings.
func (t *canvasTool) buildWithRepair(ctx context.Context, prompt string, progress ProgressFunc) (string, string, error) {
	var (
		doc      string
		findings []string
	)
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		attemptPrompt := prompt
		if len(findings) > 0 {
			progress("fixing", fmt.Sprintf("Fixing validation issues (attempt %d of %d)", attempt, t.maxAttempts))
			attemptPrompt = fmt.Sprintf(
				"%s\n\nThe previous attempt had these problems, fix them:\n- %s\n\nPrevious attempt:\n%s",
				prompt, strings.Join(findings, "\n- "), doc)
		}

		generated, err := t.builder.BuildApp(ctx, attemptPrompt)
		if err != nil {
			return "", "", fmt.Errorf("app generation failed: %w", err)
		}
		doc = stripCodeFence(generated)

		progress("validating", "Validating generated application")
		findings = validateAppDocument(doc)
		if len(findings) == 0 {
			return doc, "", nil
		}
		t.logger.Debug("generated app failed validation", "attempt", attempt, "findings", len(findings))
	}
	return doc, "generated app has unresolved validation issues: " + strings.Join(findings, "; "), nil
}

// validateAppDocument is the structural check that makes the generation loop
// validation-capable. It is deliberately shallow: enough to catch truncated
// or fenced output, not a full HTML parse.
func validateAppDocument(doc string) []string {
	var findings []string
	trimmed := strings.TrimSpace(doc)
	lower := strings.ToLower(trimmed)

	if trimmed == "" {
		return []string{"document is empty"}
	}
	if !strings.Contains(lower, "<html") {
		findings = append(findings, "missing <html> element")
	}
	if !strings.Contains(lower, "</html>") {
		findings = append(findings, "document is truncated (missing </html>)")
	}
	if !strings.Contains(lower, "<body") {
		findings = append(findings, "missing <body> element")
	}
	if strings.Count(lower, "<script") != strings.Count(lower, "</script>") {
		findings = append(findings, "unbalanced <script> tags")
	}
	return findings
}

func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
