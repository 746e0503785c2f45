package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// SessionConfig is the client-supplied session configuration carried by
// connect and update_config messages. Zero values mean "use server default";
// pointer fields distinguish "absent" from an explicit false/zero.
type SessionConfig struct {
	Model              string          `json:"model,omitempty"`
	SystemInstruction  string          `json:"systemInstruction,omitempty"`
	ResponseModalities []string        `json:"responseModalities,omitempty"`
	Voice              string          `json:"voice,omitempty"`
	Temperature        *float64        `json:"temperature,omitempty"`
	ContextCompression *bool           `json:"contextCompression,omitempty"`
	SessionResumption  *bool           `json:"sessionResumption,omitempty"`
	AffectiveDialog    *bool           `json:"affectiveDialog,omitempty"`
	ProactiveAudio     *bool           `json:"proactiveAudio,omitempty"`
	ThinkingBudget     *int            `json:"thinkingBudget,omitempty"`
	IncludeThoughts    *bool           `json:"includeThoughts,omitempty"`
	InputTranscription *bool           `json:"inputTranscription,omitempty"`
	OutputTranscripts  *bool           `json:"outputTranscription,omitempty"`
	MediaResolution    string          `json:"mediaResolution,omitempty"`
	Tools              *ToolsConfig    `json:"tools,omitempty"`
	ToolSync           map[string]bool `json:"toolSync,omitempty"`
}

// ToolsConfig selects which tool surfaces are offered to the model.
type ToolsConfig struct {
	Search    *bool    `json:"search,omitempty"`
	Functions *bool    `json:"functions,omitempty"`
	Enabled   []string `json:"enabled,omitempty"`
}

// ContextTurn is one prior conversational turn injected via a context message.
type ContextTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ToolResponsePayload is a client-computed tool result forwarded verbatim.
type ToolResponsePayload struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Response map[string]any `json:"response"`
}

type ClientConnect struct {
	Type   string         `json:"type"`
	Config *SessionConfig `json:"config,omitempty"`
}

type ClientDisconnect struct {
	Type string `json:"type"`
}

type ClientAudio struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MIMEType string `json:"mimeType,omitempty"`
}

type ClientVideo struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

type ClientText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ClientContext struct {
	Type         string        `json:"type"`
	Turns        []ContextTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type ClientToolResponse struct {
	Type      string                `json:"type"`
	Responses []ToolResponsePayload `json:"responses"`
}

type ClientAudioStreamEnd struct {
	Type string `json:"type"`
}

type ClientUpdateConfig struct {
	Type   string         `json:"type"`
	Config *SessionConfig `json:"config"`
}

type ClientReconnect struct {
	Type   string         `json:"type"`
	Config *SessionConfig `json:"config,omitempty"`
}

type ClientGetState struct{ Type string `json:"type"` }

type ClientGetConfig struct{ Type string `json:"type"` }

type ClientGetTools struct{ Type string `json:"type"` }

type ClientPing struct{ Type string `json:"type"` }

// DecodeClientMessage parses one client frame into its typed variant.
// Unknown discriminators and malformed frames yield a *DecodeError; the
// connection stays open and the caller answers with a generic error event.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "connect":
		var msg ClientConnect
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid connect frame", "")
		}
		return msg, nil
	case "disconnect":
		return ClientDisconnect{Type: typ}, nil
	case "audio":
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if msg.Data == "" {
			return nil, badRequest("audio.data is required", "data")
		}
		return msg, nil
	case "video":
		var msg ClientVideo
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid video frame", "")
		}
		if msg.Data == "" {
			return nil, badRequest("video.data is required", "data")
		}
		if strings.TrimSpace(msg.MIMEType) == "" {
			return nil, badRequest("video.mimeType is required", "mimeType")
		}
		return msg, nil
	case "text":
		var msg ClientText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text.text is required", "text")
		}
		return msg, nil
	case "context":
		var msg ClientContext
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid context frame", "")
		}
		for i, turn := range msg.Turns {
			role := strings.TrimSpace(turn.Role)
			if role != "user" && role != "model" {
				return nil, badRequest("context.turns role must be user or model", fmt.Sprintf("turns[%d].role", i))
			}
		}
		return msg, nil
	case "tool_response":
		var msg ClientToolResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid tool_response frame", "")
		}
		if len(msg.Responses) == 0 {
			return nil, badRequest("tool_response.responses is required", "responses")
		}
		for i, r := range msg.Responses {
			if strings.TrimSpace(r.ID) == "" {
				return nil, badRequest("tool_response id is required", fmt.Sprintf("responses[%d].id", i))
			}
		}
		return msg, nil
	case "audio_stream_end":
		return ClientAudioStreamEnd{Type: typ}, nil
	case "update_config":
		var msg ClientUpdateConfig
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid update_config frame", "")
		}
		if msg.Config == nil {
			return nil, badRequest("update_config.config is required", "config")
		}
		return msg, nil
	case "reconnect":
		var msg ClientReconnect
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid reconnect frame", "")
		}
		return msg, nil
	case "get_state":
		return ClientGetState{Type: typ}, nil
	case "get_config":
		return ClientGetConfig{Type: typ}, nil
	case "get_tools":
		return ClientGetTools{Type: typ}, nil
	case "ping":
		return ClientPing{Type: typ}, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}
