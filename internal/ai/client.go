// Package ai wraps the external text service: natural language in, structured
// reminder fields out, plus notification message generation. Both calls are
// fallible black boxes; callers substitute the deterministic fallbacks from
// fallback.go so the user-facing flow always completes.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

type Client struct {
	client *openai.Client
	model  string
}

func New(apiKey, baseURL, model string) *Client {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// ParseInput carries the natural language text plus the context the model
// needs to resolve relative dates ("tomorrow", "in two hours").
type ParseInput struct {
	Text        string
	DefaultTime string // "HH:MM"; used when the input names no time
	Now         time.Time
}

// ParsedReminder is the structured result of a parse.
type ParsedReminder struct {
	Task                string   `json:"task"`
	Date                string   `json:"date"`
	Time                string   `json:"time"`
	Location            string   `json:"location,omitempty"`
	Notes               []string `json:"notes,omitempty"`
	Priority            string   `json:"priority"`
	NotificationMessage string   `json:"notificationMessage"`
}

const parseSystemPrompt = `You parse natural language input into structured data for a reminder application.

Current date: %s
Current time: %s (24-hour)

Rules:
1. Extract the core task as a short, action-focused title (at most 60 characters).
2. Dates must be YYYY-MM-DD. Resolve phrases like "tomorrow", "in 3 days", "next Monday" relative to the current date. If unclear, default to today.
3. Times must be HH:MM, 24-hour. Resolve phrases like "in 2 hours" or "this afternoon" relative to the current time, choosing the earliest sensible time after now. If no time is given at all, use %s.
4. Location only when clearly stated.
5. Up to 3 concise notes (sentence fragments, each under 80 characters) capturing sub-tasks or context.
6. Infer priority: urgent or critical language means "high", casual or flexible means "low", otherwise "medium".
7. notificationMessage is a short (under 160 characters), warm, encouraging reminder text referencing the task.`

var parsedReminderSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"task": {"type": "string", "description": "Short, action-focused title"},
		"date": {"type": "string", "description": "YYYY-MM-DD"},
		"time": {"type": "string", "description": "HH:MM, 24-hour"},
		"location": {"type": "string", "description": "Where the task happens, if stated"},
		"notes": {"type": "array", "items": {"type": "string"}, "description": "Concise bullet notes"},
		"priority": {"type": "string", "enum": ["low", "medium", "high"]},
		"notificationMessage": {"type": "string", "description": "Encouraging notification text, under 160 characters"}
	},
	"required": ["task", "date", "time", "priority", "notificationMessage"],
	"additionalProperties": false
}`)

// ParseReminder extracts reminder fields from free text. Errors are expected
// and should be handled with FallbackParse at the call site.
func (c *Client) ParseReminder(ctx context.Context, in ParseInput) (*ParsedReminder, error) {
	defaultTime := in.DefaultTime
	if defaultTime == "" {
		defaultTime = "09:00"
	}
	system := fmt.Sprintf(parseSystemPrompt,
		in.Now.Format("2006-01-02 (Monday)"), in.Now.Format("15:04"), defaultTime)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: system,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: in.Text,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "reminder",
				Schema: parsedReminderSchema,
				Strict: true,
			},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call AI API: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from AI")
	}

	parsed := &ParsedReminder{}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), parsed); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}

	if parsed.Priority == "" {
		parsed.Priority = "medium"
	}
	if parsed.NotificationMessage == "" {
		parsed.NotificationMessage = FallbackMessage(parsed.Task)
	}
	return parsed, nil
}

// GenerateMessage produces a short notification text for a task. Errors are
// expected and should be handled with FallbackMessage at the call site.
func (c *Client) GenerateMessage(ctx context.Context, task, priority string) (string, error) {
	system := "You write short reminder notifications (under 160 characters): warm, encouraging, " +
		"referencing the task naturally. High priority may sound more urgent but stays gentle. " +
		"Reply with the message text only."

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: system,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Task: %s\nPriority: %s", task, priority),
			},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("failed to call AI API: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from AI")
	}
	return resp.Choices[0].Message.Content, nil
}
