package app

import (
	"errors"
	"testing"
)

func TestParseActionDirect(t *testing.T) {
	action, err := ParseAction(`{"action":"web_search","input":"golang release notes"}`)
	if err != nil {
		t.Fatalf("ParseAction returned error: %v", err)
	}
	if action.Kind != ActionWebSearch {
		t.Errorf("expected kind %q, got %q", ActionWebSearch, action.Kind)
	}
	if action.Input != "golang release notes" {
		t.Errorf("unexpected input: %q", action.Input)
	}
}

func TestParseActionWrappedInCommentary(t *testing.T) {
	raw := `here you go {"action":"answer","input":"hi"} thanks`
	action, err := ParseAction(raw)
	if err != nil {
		t.Fatalf("ParseAction returned error: %v", err)
	}
	if action.Kind != ActionAnswer || action.Input != "hi" {
		t.Errorf("unexpected action: %+v", action)
	}
}

func TestParseActionNestedBraces(t *testing.T) {
	raw := `Sure: {"action":"answer","input":"a {nested} value with \"quotes\""}`
	action, err := ParseAction(raw)
	if err != nil {
		t.Fatalf("ParseAction returned error: %v", err)
	}
	if action.Input != `a {nested} value with "quotes"` {
		t.Errorf("unexpected input: %q", action.Input)
	}
}

func TestParseActionFailure(t *testing.T) {
	for _, raw := range []string{
		"",
		"I am not sure what to do here.",
		"{broken json",
		`{"input":"no action key"}`,
	} {
		if _, err := ParseAction(raw); !errors.Is(err, ErrModelParse) {
			t.Errorf("ParseAction(%q): expected ErrModelParse, got %v", raw, err)
		}
	}
}

func TestKnownAction(t *testing.T) {
	for _, kind := range []string{
		ActionAnswer, ActionSearchMemory, ActionRagSearch, ActionWebSearch,
		ActionWebGround, ActionWebMetOffice, ActionTimeNow,
		ActionSnapshot, ActionInject, ActionClipboardRead, ActionClipboardWrite,
	} {
		if !KnownAction(kind) {
			t.Errorf("expected %q to be known", kind)
		}
	}
	if KnownAction("make_coffee") {
		t.Error("expected make_coffee to be unknown")
	}
}

func TestParseEditorInputDefaults(t *testing.T) {
	in := ParseEditorInput("")
	if in.ClientID != "" || in.Selection || in.Mode != "insert" || in.Position != "cursor" {
		t.Errorf("unexpected defaults: %+v", in)
	}
}

func TestParseEditorInputFull(t *testing.T) {
	in := ParseEditorInput("client_id=abc-123; selection=TRUE; mode=Replace; position=END; text=hello; world")
	if in.ClientID != "abc-123" {
		t.Errorf("client id: got %q", in.ClientID)
	}
	if !in.Selection {
		t.Error("expected selection true")
	}
	if in.Mode != "replace" {
		t.Errorf("mode: got %q", in.Mode)
	}
	if in.Position != "end" {
		t.Errorf("position: got %q", in.Position)
	}
	if in.Text != "hello; world" {
		t.Errorf("text: got %q", in.Text)
	}
}

func TestNormalizeClientID(t *testing.T) {
	cases := map[string]string{
		"":          "",
		"  ":        "",
		"null":      "",
		"NONE":      "",
		"undefined": "",
		"Auto":      "",
		"abc-123":   "abc-123",
		" abc ":     "abc",
	}
	for in, want := range cases {
		if got := NormalizeClientID(in); got != want {
			t.Errorf("NormalizeClientID(%q) = %q, want %q", in, got, want)
		}
	}
}
