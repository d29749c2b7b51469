package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrStepBudget    = errors.New("max steps exceeded")
)

// AgentRequest is one submitted user turn.
type AgentRequest struct {
	Model      string `json:"model"`
	Message    string `json:"message"`
	ToolHint   string `json:"tool_hint,omitempty"` // auto|memory|rag|web
	SessionKey string `json:"chat_id,omitempty"`
	MaxSteps   int    `json:"max_steps,omitempty"`
}

// Source is a citable reference derived from tool results.
type Source struct {
	Kind       string `json:"kind"` // file | url
	Path       string `json:"path,omitempty"`
	URL        string `json:"url,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
}

// AgentResult is the terminal state of one decide/act run.
type AgentResult struct {
	Answer    string       `json:"answer"`
	Steps     int          `json:"steps"`
	ToolsUsed []ToolRecord `json:"tools_used"`
	Sources   []Source     `json:"sources"`
}

// Agent runs the bounded decide/act/observe loop. All control-flow state
// (step counter, tool history, conversation) lives here; the model call is
// a pure function of the conversation so far.
type Agent struct {
	Model    ModelFunc
	Tools    *Toolbox
	Resolver *Resolver
	Log      *Logger
	MaxSteps int
}

func NewAgent(model ModelFunc, tools *Toolbox, resolver *Resolver, log *Logger, maxSteps int) *Agent {
	if maxSteps <= 0 {
		maxSteps = 3
	}
	return &Agent{Model: model, Tools: tools, Resolver: resolver, Log: log, MaxSteps: maxSteps}
}

var domainRe = regexp.MustCompile(`\b([a-z0-9-]+\.)+[a-z]{2,}\b`)

func containsAny(s string, keys ...string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// chooseAutoTool inspects the raw message and may pick a first action
// deterministically. Rules are evaluated top to bottom; first match wins.
// Editor and clipboard tools are never auto-picked; they need client
// resolution the heuristic cannot safely guess.
func chooseAutoTool(msg string) string {
	s := strings.ToLower(msg)
	if containsAny(s, "headline", "front page", "top news", "today in news") {
		return ActionWebGround
	}
	if containsAny(s, "weather", "forecast", "met office", "metoffice") {
		return ActionWebMetOffice
	}
	if containsAny(s, "what's the date", "what is the date", "today's date",
		"what's the time", "time now", "date today", "today now", "what day is it") {
		return ActionTimeNow
	}
	if strings.Contains(s, "http://") || strings.Contains(s, "https://") || domainRe.MatchString(s) {
		return ActionWebSearch
	}
	if containsAny(s, "readme", "/mnt/", "/home/", "~/", "where in my code",
		"path", "file", ".py", ".js", ".ts", ".html", ".css", ".json", ".go") {
		return ActionRagSearch
	}
	if containsAny(s, "what did i say", "notes", "last time", "my hardware", "you said") {
		return ActionSearchMemory
	}
	return ""
}

// mapToolHint maps an explicit caller-supplied mode onto a first action;
// the hint overrides the heuristic outright.
func mapToolHint(hint string) string {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "memory":
		return ActionSearchMemory
	case "rag":
		return ActionRagSearch
	case "web":
		return ActionWebSearch
	}
	return ""
}

func (a *Agent) maxSteps(req AgentRequest) int {
	if req.MaxSteps > 0 {
		return req.MaxSteps
	}
	return a.MaxSteps
}

// Run drives one request to completion: short-circuit client selection,
// heuristic or forced first tool, then model-decided cycles until an
// answer, a router-level answer, a fatal error, or budget exhaustion.
func (a *Agent) Run(ctx context.Context, req AgentRequest) (*AgentResult, error) {
	if req.Model == "" || req.Message == "" {
		return nil, errors.New("model and message are required")
	}

	// "use editor N" is checked before any other branch: a selection
	// utterance never reaches the model or a tool.
	if chosen, ok := a.Resolver.SetPreference(req.SessionKey, req.Message); ok {
		return &AgentResult{
			Answer:    fmt.Sprintf("Okay — I'll use editor `%s` for this chat.", chosen),
			ToolsUsed: []ToolRecord{},
			Sources:   []Source{},
		}, nil
	}

	messages := []ChatMessage{
		{Role: "system", Content: AgentPrompt},
		{Role: "user", Content: req.Message},
	}
	toolsUsed := []ToolRecord{}
	budget := a.maxSteps(req)

	first := mapToolHint(req.ToolHint)
	if first == "" {
		first = chooseAutoTool(req.Message)
	}

	var queued *Action
	if first != "" {
		queued = &Action{Kind: first, Input: req.Message}
	}

	for step := 0; step < budget; step++ {
		var action Action
		if queued != nil {
			action = *queued
			queued = nil
		} else {
			raw, err := a.Model(ctx, req.Model, messages)
			if err != nil {
				return nil, fmt.Errorf("model call failed: %w", err)
			}
			action, err = ParseAction(raw)
			if err != nil {
				a.Log.Error("model output not parseable as action", map[string]interface{}{
					"session": req.SessionKey,
				})
				return nil, err
			}
		}

		if action.Kind == ActionAnswer {
			return &AgentResult{
				Answer:    action.Input,
				Steps:     step,
				ToolsUsed: toolsUsed,
				Sources:   collectSources(toolsUsed),
			}, nil
		}
		if !KnownAction(action.Kind) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action.Kind)
		}

		record, routerAnswer := a.Tools.Run(ctx, req.SessionKey, action.Kind, action.Input)
		toolsUsed = append(toolsUsed, record)
		a.Log.Info("tool executed", map[string]interface{}{
			"session": req.SessionKey,
			"action":  action.Kind,
			"step":    step,
		})

		// A router-level answer is final, not an observation to reason over.
		if routerAnswer != "" {
			return &AgentResult{
				Answer:    routerAnswer,
				Steps:     step,
				ToolsUsed: toolsUsed,
				Sources:   collectSources(toolsUsed),
			}, nil
		}

		actionJSON, _ := json.Marshal(action)
		resultJSON, _ := json.Marshal(record.Data)
		messages = append(messages,
			ChatMessage{Role: "assistant", Content: string(actionJSON)},
			ChatMessage{Role: "user", Content: "Tool result:\n" + string(resultJSON) +
				"\nNow respond ONLY with final JSON: {\"action\":\"answer\",\"input\":\"...\"}"},
		)
	}

	return nil, ErrStepBudget
}

const maxSourcesPerTool = 3

// collectSources derives citable references: document hits contribute file
// path + snippet, web results contribute URL + snippet (+ screenshot when
// the browser captured one). Memory, clock, editor and clipboard results
// contribute nothing.
func collectSources(tools []ToolRecord) []Source {
	sources := []Source{}
	for _, t := range tools {
		switch t.Kind {
		case KindRAG:
			for i, h := range anySlice(t.Data["hits"]) {
				if i >= maxSourcesPerTool {
					break
				}
				hit, ok := h.(map[string]interface{})
				if !ok {
					continue
				}
				sources = append(sources, Source{
					Kind:    "file",
					Path:    str(hit["path"]),
					Snippet: clip(str(hit["content"]), 240),
				})
			}
		case KindWeb:
			pages := anySlice(t.Data["pages"])
			if len(pages) > 0 {
				for i, p := range pages {
					if i >= maxSourcesPerTool {
						break
					}
					page, ok := p.(map[string]interface{})
					if !ok {
						continue
					}
					sources = append(sources, Source{
						Kind:       "url",
						URL:        str(page["url"]),
						Snippet:    clip(str(page["snippet"]), 240),
						Screenshot: str(page["screenshot"]),
					})
				}
				continue
			}
			for i, h := range anySlice(t.Data["hits"]) {
				if i >= maxSourcesPerTool {
					break
				}
				hit, ok := h.(map[string]interface{})
				if !ok {
					continue
				}
				sources = append(sources, Source{
					Kind:    "url",
					URL:     str(hit["href"]),
					Snippet: clip(str(hit["content"]), 240),
				})
			}
		}
	}
	return sources
}

// anySlice flattens the slice shapes tool data can carry: typed slices
// straight from the toolbox or []interface{} after a JSON round trip.
func anySlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case []interface{}:
		return s
	case []map[string]interface{}:
		out := make([]interface{}, len(s))
		for i, m := range s {
			out[i] = m
		}
		return out
	case []webHit:
		out := make([]interface{}, len(s))
		for i, h := range s {
			out[i] = map[string]interface{}{"title": h.Title, "href": h.Href, "content": h.Content}
		}
		return out
	}
	return nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
