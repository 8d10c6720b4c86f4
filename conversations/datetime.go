package conversations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/loomlabs/chatloom/ai/llm"
)

// StructuredChat is the slice of the LLM service the extractor needs.
type StructuredChat interface {
	ChatStructured(ctx context.Context, messages []llm.Message, schemaName string, schema *llm.JSONSchema) (string, error)
}

// LLMDatetimeExtractor asks the chat model for the event datetime
// discussed in a conversation, constrained to a JSON schema.
type LLMDatetimeExtractor struct {
	chat StructuredChat
}

// NewLLMDatetimeExtractor creates an extractor backed by chat.
func NewLLMDatetimeExtractor(chat StructuredChat) *LLMDatetimeExtractor {
	return &LLMDatetimeExtractor{chat: chat}
}

var datetimeSchema = &llm.JSONSchema{
	Type: "object",
	Properties: map[string]*llm.JSONSchema{
		"event_datetime": {
			Type:        "string",
			Description: "The event datetime extracted from the conversation, RFC3339 UTC",
		},
		"datetime_exists": {
			Type:        "boolean",
			Description: "false when no event datetime is present in the conversation",
		},
		"reason": {
			Type:        "string",
			Description: "reason for why the event is at that datetime",
		},
	},
	Required: []string{"event_datetime", "datetime_exists", "reason"},
}

type datetimeResponse struct {
	EventDatetime  string `json:"event_datetime"`
	DatetimeExists bool   `json:"datetime_exists"`
	Reason         string `json:"reason"`
}

// Extract returns the event datetime discussed in conv, or nil when the
// model reports that none exists.
func (x *LLMDatetimeExtractor) Extract(ctx context.Context, conv *Conversation) (*time.Time, error) {
	content, err := x.chat.ChatStructured(ctx,
		[]llm.Message{llm.UserMessage(datetimePrompt(conv))},
		"event_datetime_extraction", datetimeSchema)
	if err != nil {
		return nil, err
	}

	var resp datetimeResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}
	if !resp.DatetimeExists {
		return nil, nil
	}

	dt, err := time.Parse(time.RFC3339, resp.EventDatetime)
	if err != nil {
		return nil, fmt.Errorf("invalid event datetime %q: %w", resp.EventDatetime, err)
	}
	dt = dt.UTC()
	return &dt, nil
}

func datetimePrompt(conv *Conversation) string {
	var b strings.Builder
	b.WriteString("Assume you are a data annotator tasked with extracting the datetime of the event being scheduled in a chat conversation.\n\n")
	b.WriteString("Here is the conversation so far:\n")
	for _, line := range conv.Lines {
		fmt.Fprintf(&b, "[%s] %s: %s\n", line.TS.UTC().Format(time.RFC3339), line.User, line.Text)
	}
	b.WriteString("\nProvide the event datetime below.\nResponse:")
	return b.String()
}
