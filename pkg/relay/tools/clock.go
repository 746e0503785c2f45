package tools

import (
	"context"
	"encoding/json"
	"time"
)

// clockTool answers get_current_time. Pure computation; never errors beyond
// a structured failure for an unknown zone.
type clockTool struct{}

func (clockTool) Name() string        { return "get_current_time" }
func (clockTool) Family() string      { return "tool" }
func (clockTool) LongRunning() bool   { return false }
func (clockTool) Description() string {
	return "Returns the current server date and time, optionally in a named IANA timezone."
}

func (clockTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timezone": {
				"type": "string",
				"description": "IANA timezone name, e.g. Europe/Amsterdam. Defaults to UTC."
			}
		}
	}`)
}

func (clockTool) Execute(_ context.Context, args map[string]any, _ ProgressFunc) map[string]any {
	loc := time.UTC
	if zone := stringArg(args, "timezone"); zone != "" {
		parsed, err := time.LoadLocation(zone)
		if err != nil {
			return Failure("unknown timezone " + zone)
		}
		loc = parsed
	}
	now := time.Now().In(loc)
	return map[string]any{
		"success":  true,
		"iso":      now.Format(time.RFC3339),
		"date":     now.Format("2006-01-02"),
		"time":     now.Format("15:04:05"),
		"weekday":  now.Weekday().String(),
		"timezone": loc.String(),
	}
}
