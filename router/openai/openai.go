// Package openai adapts the OpenAI chat completions API to router.ChatModel.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/tiborkr/tasquencer/router"
)

// ChatModel implements router.ChatModel against the OpenAI API, retrying
// transient failures (timeouts, 5xx, rate limits) with a linear backoff.
type ChatModel struct {
	modelName  string
	client     openaisdk.Client
	maxRetries int
	retryDelay time.Duration
}

// New creates a ChatModel for modelName ("gpt-4o" if empty), authenticated
// with apiKey.
func New(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &ChatModel{
		modelName:  modelName,
		client:     openaisdk.NewClient(option.WithAPIKey(apiKey)),
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

func (m *ChatModel) Chat(ctx context.Context, messages []router.Message, tools []router.ToolSpec) (router.ChatOut, error) {
	if ctx.Err() != nil {
		return router.ChatOut{}, ctx.Err()
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		resp, err := m.client.Chat.Completions.New(ctx, params)
		if err == nil {
			return convertResponse(resp), nil
		}
		lastErr = err
		if !isTransientError(err) {
			return router.ChatOut{}, fmt.Errorf("openai: %w", err)
		}
		if attempt >= m.maxRetries {
			break
		}
		select {
		case <-time.After(m.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return router.ChatOut{}, ctx.Err()
		}
	}
	return router.ChatOut{}, fmt.Errorf("openai: failed after %d retries: %w", m.maxRetries, lastErr)
}

func isTransientError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "rate limit", "503", "502", "500"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func convertMessages(messages []router.Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case router.RoleSystem:
			out[i] = openaisdk.SystemMessage(msg.Content)
		case router.RoleAssistant:
			out[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			out[i] = openaisdk.UserMessage(msg.Content)
		}
	}
	return out
}

func convertTools(tools []router.ToolSpec) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		out[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openaisdk.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Schema),
			},
		}
	}
	return out
}

func convertResponse(resp *openaisdk.ChatCompletion) router.ChatOut {
	var out router.ChatOut
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	out.Text = msg.Content
	if len(msg.ToolCalls) == 0 {
		return out
	}
	out.ToolCalls = make([]router.ToolCall, len(msg.ToolCalls))
	for i, tc := range msg.ToolCalls {
		out.ToolCalls[i] = router.ToolCall{
			Name:  tc.Function.Name,
			Input: parseToolInput(tc.Function.Arguments),
		}
	}
	return out
}

func parseToolInput(args string) map[string]interface{} {
	if args == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(args), &m); err != nil {
		return map[string]interface{}{"_raw": args}
	}
	return m
}
