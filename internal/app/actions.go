package app

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Action is the single structured decision the model emits each turn.
type Action struct {
	Kind  string `json:"action"`
	Input string `json:"input"`
}

const (
	ActionAnswer         = "answer"
	ActionSearchMemory   = "search_memory"
	ActionRagSearch      = "rag_search"
	ActionWebSearch      = "web_search"
	ActionWebGround      = "web_ground"
	ActionWebMetOffice   = "web_metoffice"
	ActionTimeNow        = "time_now"
	ActionSnapshot       = "editor_snapshot"
	ActionInject         = "editor_inject"
	ActionClipboardRead  = "editor_clipboard_read"
	ActionClipboardWrite = "editor_clipboard_write"
)

var ErrModelParse = errors.New("model did not return an action object")

func KnownAction(kind string) bool {
	switch kind {
	case ActionAnswer, ActionSearchMemory, ActionRagSearch, ActionWebSearch,
		ActionWebGround, ActionWebMetOffice, ActionTimeNow,
		ActionSnapshot, ActionInject, ActionClipboardRead, ActionClipboardWrite:
		return true
	}
	return false
}

// ParseAction parses one model turn into an Action. It first attempts a
// direct parse of the trimmed output, then falls back to the first
// brace-balanced JSON object in the text, since models sometimes wrap the
// object in commentary despite instructions.
func ParseAction(raw string) (Action, error) {
	trimmed := strings.TrimSpace(raw)

	var action Action
	if err := json.Unmarshal([]byte(trimmed), &action); err == nil && action.Kind != "" {
		return action, nil
	}

	obj, ok := extractJSONObject(trimmed)
	if !ok {
		return Action{}, ErrModelParse
	}
	if err := json.Unmarshal([]byte(obj), &action); err != nil || action.Kind == "" {
		return Action{}, ErrModelParse
	}
	return action, nil
}

// extractJSONObject returns the first balanced {...} region of s.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// EditorInput is the parsed form of the semicolon-separated key=value
// payload editor actions carry.
type EditorInput struct {
	ClientID  string
	Selection bool
	Mode      string
	Position  string
	Text      string
}

var (
	clientIDRe  = regexp.MustCompile(`(?is)client_id\s*=\s*([^;]+)`)
	selectionRe = regexp.MustCompile(`(?is)selection\s*=\s*(true|false)`)
	modeRe      = regexp.MustCompile(`(?is)mode\s*=\s*([a-z]+)`)
	positionRe  = regexp.MustCompile(`(?is)position\s*=\s*([a-z]+)`)
	textRe      = regexp.MustCompile(`(?is)text\s*=\s*(.*)`)
)

// ParseEditorInput tolerates missing fields and extra whitespace. Defaults:
// mode=insert, position=cursor, selection=false.
func ParseEditorInput(value string) EditorInput {
	grab := func(re *regexp.Regexp, def string) string {
		m := re.FindStringSubmatch(value)
		if len(m) < 2 {
			return def
		}
		return strings.TrimSpace(m[1])
	}
	return EditorInput{
		ClientID:  grab(clientIDRe, ""),
		Selection: strings.EqualFold(grab(selectionRe, ""), "true"),
		Mode:      strings.ToLower(grab(modeRe, "insert")),
		Position:  strings.ToLower(grab(positionRe, "cursor")),
		Text:      grab(textRe, ""),
	}
}

// NormalizeClientID maps the sentinel tokens a model may emit for "no
// particular client" to the empty string.
func NormalizeClientID(cid string) string {
	s := strings.TrimSpace(cid)
	switch strings.ToLower(s) {
	case "", "null", "none", "undefined", "auto":
		return ""
	}
	return s
}
