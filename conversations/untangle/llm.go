package untangle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomlabs/chatloom/ai/llm"
	"github.com/loomlabs/chatloom/conversations"
)

// StructuredChat is the slice of the LLM service the strategy needs.
type StructuredChat interface {
	ChatStructured(ctx context.Context, messages []llm.Message, schemaName string, schema *llm.JSONSchema) (string, error)
}

// LLMClassifier asks the chat model which windowed message the new one
// continues, constrained to a JSON schema.
type LLMClassifier struct {
	chat StructuredChat
}

// NewLLMClassifier creates an LLM-backed continuation classifier.
func NewLLMClassifier(chat StructuredChat) *LLMClassifier {
	return &LLMClassifier{chat: chat}
}

var continuationSchema = &llm.JSONSchema{
	Type: "object",
	Properties: map[string]*llm.JSONSchema{
		"new_message": {
			Type:        "string",
			Description: "the new incoming message",
		},
		"option": {
			Type:        "integer",
			Description: "which option this message is a continuation of, -1 if none of them",
		},
		"reason": {
			Type:        "string",
			Description: "reason for your choice",
		},
	},
	Required: []string{"new_message", "option", "reason"},
}

type continuationResponse struct {
	NewMessage string `json:"new_message"`
	Option     int    `json:"option"`
	Reason     string `json:"reason"`
}

// ContinuationOf implements ContinuationClassifier.
func (c *LLMClassifier) ContinuationOf(ctx context.Context, window []conversations.ClassifiedMessage, m conversations.ClassifiedMessage) (int, error) {
	content, err := c.chat.ChatStructured(ctx,
		[]llm.Message{llm.UserMessage(continuationPrompt(window, m))},
		"continuation_classification", continuationSchema)
	if err != nil {
		return NoContinuation, err
	}

	var resp continuationResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return NoContinuation, fmt.Errorf("parse continuation response: %w", err)
	}
	return resp.Option, nil
}

func continuationPrompt(window []conversations.ClassifiedMessage, m conversations.ClassifiedMessage) string {
	var b strings.Builder
	b.WriteString("As one of the best and most reasonable data taggers,\n\n")
	fmt.Fprintf(&b,
		"You are provided with up to %d options that represent the most recent messages in a chat channel, and a new message. "+
			"Decide which of the options can be a parent to the new message. "+
			"If none of the options can be a parent, answer -1.\n\n", DefaultWindowSize)
	b.WriteString("Here are your options:\n")
	for i, msg := range window {
		fmt.Fprintf(&b, "Option %d: %s\n", i+1, msg.Text)
	}
	fmt.Fprintf(&b, "\nThe new message:\n%s\n\n", m.Text)
	b.WriteString("Provide your classification response with reasoning below.\nResponse:")
	return b.String()
}
