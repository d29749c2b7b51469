package app

import (
	"context"
	"strings"
	"sync"
)

// ScriptedModel replays a fixed sequence of model turns. The last turn
// repeats once the script is exhausted, which makes "model never
// converges" scenarios trivial to express.
type ScriptedModel struct {
	mu        sync.Mutex
	Responses []string
	Calls     int
}

func NewScriptedModel(responses ...string) *ScriptedModel {
	return &ScriptedModel{Responses: responses}
}

func (m *ScriptedModel) Complete(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.Calls
	m.Calls++
	if len(m.Responses) == 0 {
		return `{"action":"answer","input":"(no script)"}`, nil
	}
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// EchoModel answers every turn by echoing the latest tool observation or
// the user message; handy for offline demo mode.
func EchoModel(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			text := messages[i].Content
			if idx := strings.Index(text, "Tool result:"); idx >= 0 {
				return `{"action":"answer","input":"Here is what I found."}`, nil
			}
			return `{"action":"answer","input":"You said: ` + strings.ReplaceAll(text, `"`, `'`) + `"}`, nil
		}
	}
	return `{"action":"answer","input":""}`, nil
}
