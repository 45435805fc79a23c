// Package router provides engine.Router implementations backed by an LLM
// chat completion, grounded on the teacher's graph/model package: the same
// provider-agnostic ChatModel interface, relabeled from free-form node
// routing to resolving a task's XOR/OR split into one or more Routings.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tiborkr/tasquencer/engine"
)

// ChatModel is the provider-agnostic LLM chat interface every router
// adapter implements. Concrete adapters live in the anthropic, openai, and
// google sibling packages.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn in a chat conversation.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a function the model may call instead of, or
// alongside, replying with text.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a model's response: free text, tool calls, or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is one invocation the model asked the caller to perform.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

// routeDecision is the shape an LLM router asks the model to produce via a
// single forced tool call, named "choose_route" below.
type routeDecision struct {
	Targets []string `json:"targets"`
}

const chooseRouteTool = "choose_route"

// LLM is an engine.Router that asks a ChatModel to choose among a task's
// declared outgoing conditions/tasks, given a free-form prompt describing
// the decision. Route rejects an empty choice and any name not in Targets;
// it does not check the number of chosen targets against the task's split
// type (one for SplitXor, one or more for SplitOr).
//
// Prompt is rendered once per Route call with the candidate target names
// appended as a "- name" list. Every chosen target is routed with
// rc.ToCondition, so Targets name conditions; nothing checks them at
// Register time.
type LLM struct {
	Model   ChatModel
	Prompt  func(ctx context.Context) (string, error)
	Targets []string
}

// Route implements engine.Router.
func (r *LLM) Route(ctx context.Context, rc engine.RouteCtx) ([]engine.Routing, error) {
	prompt := "Choose one or more of the following routes."
	if r.Prompt != nil {
		p, err := r.Prompt(ctx)
		if err != nil {
			return nil, err
		}
		prompt = p
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nAvailable routes:\n")
	for _, t := range r.Targets {
		fmt.Fprintf(&b, "- %s\n", t)
	}

	tool := ToolSpec{
		Name:        chooseRouteTool,
		Description: "Record the chosen route name(s).",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"targets": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
			},
			"required": []string{"targets"},
		},
	}

	out, err := r.Model.Chat(ctx, []Message{{Role: RoleUser, Content: b.String()}}, []ToolSpec{tool})
	if err != nil {
		return nil, fmt.Errorf("router: chat: %w", err)
	}

	decision, err := extractDecision(out)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	if len(decision.Targets) == 0 {
		return nil, fmt.Errorf("router: model chose no route")
	}

	routings := make([]engine.Routing, 0, len(decision.Targets))
	known := make(map[string]bool, len(r.Targets))
	for _, t := range r.Targets {
		known[t] = true
	}
	for _, name := range decision.Targets {
		if !known[name] {
			return nil, fmt.Errorf("router: model chose unknown route %q", name)
		}
		routings = append(routings, rc.ToCondition(name))
	}
	return routings, nil
}

// extractDecision pulls the choose_route tool call's input out of out, or
// falls back to parsing out.Text as a newline-separated list of route
// names for models that ignore the tool and answer in plain text.
func extractDecision(out ChatOut) (routeDecision, error) {
	for _, call := range out.ToolCalls {
		if call.Name != chooseRouteTool {
			continue
		}
		raw, err := json.Marshal(call.Input)
		if err != nil {
			return routeDecision{}, err
		}
		var d routeDecision
		if err := json.Unmarshal(raw, &d); err != nil {
			return routeDecision{}, err
		}
		return d, nil
	}
	if out.Text == "" {
		return routeDecision{}, fmt.Errorf("model returned neither a tool call nor text")
	}
	var targets []string
	for _, line := range strings.Split(out.Text, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			targets = append(targets, line)
		}
	}
	return routeDecision{Targets: targets}, nil
}
