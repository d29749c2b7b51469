package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"golang.org/x/net/html"
)

// ToolRecord is the uniform envelope for one tool invocation. Failures are
// carried in Data under "error"; the orchestration loop never sees a tool
// panic or exception.
type ToolRecord struct {
	Kind string                 `json:"kind"`
	Data map[string]interface{} `json:"data"`
}

const (
	KindMemory    = "Memory"
	KindRAG       = "RAG"
	KindWeb       = "Web"
	KindTime      = "Time"
	KindEditor    = "Editor"
	KindClipboard = "Clipboard"
)

const (
	noEditorAnswer = "I can't see any editor window connected. Please open the editor and try again."
)

// Toolbox executes actions against the backing collaborators: the memory
// and document search services, searx + the sandboxed browser, the system
// clock and clipboard, and the editor bridge.
type Toolbox struct {
	cfg      Config
	log      *Logger
	bridge   *Bridge
	resolver *Resolver
	http     *http.Client

	// Clipboard access is injectable so tests can run headless.
	ReadClipboard  func() (string, error)
	WriteClipboard func(string) error
}

func NewToolbox(cfg Config, log *Logger, bridge *Bridge, resolver *Resolver) *Toolbox {
	return &Toolbox{
		cfg:            cfg,
		log:            log,
		bridge:         bridge,
		resolver:       resolver,
		http:           &http.Client{Timeout: 20 * time.Second},
		ReadClipboard:  clipboard.ReadAll,
		WriteClipboard: clipboard.WriteAll,
	}
}

// Run executes one action and returns its record plus, for client
// resolution failures, a router-level answer that is final and bypasses
// the model entirely.
func (t *Toolbox) Run(ctx context.Context, session, kind, input string) (ToolRecord, string) {
	switch kind {
	case ActionSearchMemory:
		return ToolRecord{Kind: KindMemory, Data: t.searchMemory(ctx, input)}, ""
	case ActionRagSearch:
		return ToolRecord{Kind: KindRAG, Data: t.ragSearch(ctx, input)}, ""
	case ActionWebSearch:
		return ToolRecord{Kind: KindWeb, Data: t.webSearch(ctx, input, webOptions{MaxResults: 5, FetchPages: 1, Screenshot: true})}, ""
	case ActionWebGround:
		return ToolRecord{Kind: KindWeb, Data: t.webGroundNews(ctx, input)}, ""
	case ActionWebMetOffice:
		return ToolRecord{Kind: KindWeb, Data: t.webMetOffice(ctx, input)}, ""
	case ActionTimeNow:
		return ToolRecord{Kind: KindTime, Data: t.timeNow()}, ""
	case ActionSnapshot, ActionInject:
		return t.runEditor(ctx, session, kind, input)
	case ActionClipboardRead:
		return ToolRecord{Kind: KindClipboard, Data: t.clipboardRead()}, ""
	case ActionClipboardWrite:
		return ToolRecord{Kind: KindClipboard, Data: t.clipboardWrite(ParseEditorInput(input).Text)}, ""
	}
	return ToolRecord{Kind: kind, Data: errData(fmt.Sprintf("unknown tool %s", kind))}, ""
}

func errData(msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg}
}

// ---- memory & documents ----

func (t *Toolbox) searchMemory(ctx context.Context, query string) map[string]interface{} {
	hits, err := t.searchService(ctx, t.cfg.MemoryURL, query)
	if err != nil {
		return errData(fmt.Sprintf("memory_search_failed: %v", err))
	}
	return map[string]interface{}{"type": "memory", "query": query, "hits": hits}
}

func (t *Toolbox) ragSearch(ctx context.Context, query string) map[string]interface{} {
	hits, err := t.searchService(ctx, t.cfg.RagURL, query)
	if err != nil {
		return errData(fmt.Sprintf("rag_search_failed: %v", err))
	}
	return map[string]interface{}{"type": "rag", "query": query, "hits": hits}
}

// searchService queries a ranked-hits collaborator: GET <base>/search?q=…
// returning {"hits": [...]}.
func (t *Toolbox) searchService(ctx context.Context, base, query string) ([]interface{}, error) {
	u := fmt.Sprintf("%s/search?q=%s", strings.TrimRight(base, "/"), url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var parsed struct {
		Hits []interface{} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return parsed.Hits, nil
}

// ---- clock ----

func (t *Toolbox) timeNow() map[string]interface{} {
	now := time.Now()
	if loc, err := time.LoadLocation("Europe/London"); err == nil {
		now = now.In(loc)
	}
	return map[string]interface{}{
		"type":    "time",
		"now_iso": now.Format(time.RFC3339),
		"pretty":  now.Format("Monday, 02 January 2006, 15:04"),
	}
}

// ---- web ----

type webOptions struct {
	Site       string
	MaxResults int
	FetchPages int
	Screenshot bool
	EnsurePage bool
}

type webHit struct {
	Title   string `json:"title"`
	Href    string `json:"href"`
	Content string `json:"content"`
}

func (t *Toolbox) searxSearch(ctx context.Context, query string, opts webOptions) []webHit {
	q := query
	if opts.Site != "" {
		q = strings.TrimSpace("site:" + opts.Site + " " + query)
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "json")
	params.Set("language", "en-GB")
	params.Set("safesearch", "1")
	u := strings.TrimRight(t.cfg.SearxURL, "/") + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil
	}
	max := opts.MaxResults
	if max <= 0 || max > len(parsed.Results) {
		max = len(parsed.Results)
	}
	hits := make([]webHit, 0, max)
	for _, r := range parsed.Results[:max] {
		hits = append(hits, webHit{Title: r.Title, Href: r.URL, Content: r.Content})
	}
	return hits
}

// fetchText pulls a page directly and strips it to visible text.
func (t *Toolbox) fetchText(ctx context.Context, pageURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := t.http.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	text := extractText(resp.Body)
	if len(text) > 1600 {
		text = text[:1600]
	}
	return text
}

func extractText(r io.Reader) string {
	doc, err := html.Parse(r)
	if err != nil {
		return ""
	}
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(parts, " ")
}

// looksLikeJSWall flags pages whose plain fetch yields nothing usable, so
// the dispatcher escalates to the sandboxed browser.
func looksLikeJSWall(text string) bool {
	s := strings.ToLower(text)
	if len(s) < 200 {
		return true
	}
	return strings.Contains(s, "enable javascript") ||
		(strings.Contains(s, "consent") && strings.Contains(s, "cookie"))
}

// browse renders a page through the browser collaborator, falling back to
// a plain fetch when the browser is unreachable.
func (t *Toolbox) browse(ctx context.Context, pageURL string, screenshot bool) map[string]interface{} {
	payload, _ := json.Marshal(map[string]interface{}{"url": pageURL, "screenshot": screenshot})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(t.cfg.WebfoxURL, "/")+"/browse", bytes.NewReader(payload))
	if err != nil {
		return map[string]interface{}{"url": pageURL, "snippet": ""}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return map[string]interface{}{"url": pageURL, "snippet": t.fetchText(ctx, pageURL)}
	}
	defer resp.Body.Close()
	var parsed struct {
		Text       string `json:"text"`
		Screenshot string `json:"screenshot"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return map[string]interface{}{"url": pageURL, "snippet": t.fetchText(ctx, pageURL)}
	}
	snippet := parsed.Text
	if len(snippet) > 1200 {
		snippet = snippet[:1200]
	}
	page := map[string]interface{}{"url": pageURL, "snippet": snippet}
	if parsed.Screenshot != "" {
		page["screenshot"] = parsed.Screenshot
	}
	return page
}

// Browse is the passthrough used by the /web/browse endpoint.
func (t *Toolbox) Browse(ctx context.Context, pageURL string, screenshot bool) map[string]interface{} {
	return t.browse(ctx, pageURL, screenshot)
}

func (t *Toolbox) webSearch(ctx context.Context, query string, opts webOptions) map[string]interface{} {
	hits := t.searxSearch(ctx, query, opts)
	pages := make([]map[string]interface{}, 0, opts.FetchPages)

	for i := 0; i < len(hits) && i < opts.FetchPages; i++ {
		href := hits[i].Href
		if href == "" {
			continue
		}
		txt := t.fetchText(ctx, href)
		if looksLikeJSWall(txt) {
			pages = append(pages, t.browse(ctx, href, opts.Screenshot))
		} else {
			pages = append(pages, map[string]interface{}{"url": href, "snippet": txt})
		}
	}

	if opts.EnsurePage && len(pages) == 0 && len(hits) > 0 && hits[0].Href != "" {
		pages = append(pages, t.browse(ctx, hits[0].Href, opts.Screenshot))
	}

	return map[string]interface{}{"type": "web", "query": query, "hits": hits, "pages": pages}
}

const groundNewsFallbackURL = "https://ground.news/interest/united-kingdom"

// webGroundNews is scoped to ground.news and guarantees at least one
// browsed page: a headline answer without fetched content is not
// acceptable output.
func (t *Toolbox) webGroundNews(ctx context.Context, query string) map[string]interface{} {
	res := t.webSearch(ctx, query, webOptions{
		Site: "ground.news", MaxResults: 5, FetchPages: 1, Screenshot: true, EnsurePage: true,
	})
	if pages, ok := res["pages"].([]map[string]interface{}); !ok || len(pages) == 0 {
		res["hits"] = []webHit{{
			Title: "United Kingdom Breaking News Headlines Today | Ground News",
			Href:  groundNewsFallbackURL,
		}}
		res["pages"] = []map[string]interface{}{t.browse(ctx, groundNewsFallbackURL, true)}
	}
	return res
}

func (t *Toolbox) webMetOffice(ctx context.Context, place string) map[string]interface{} {
	q := strings.TrimSpace(place)
	if q == "" {
		q = "forecast"
	}
	return t.webSearch(ctx, q, webOptions{
		Site: "metoffice.gov.uk", MaxResults: 5, FetchPages: 1, EnsurePage: true,
	})
}

// ---- clipboard ----

func (t *Toolbox) clipboardRead() map[string]interface{} {
	text, err := t.ReadClipboard()
	if err != nil {
		return errData(fmt.Sprintf("clipboard_read_failed: %v", err))
	}
	return map[string]interface{}{"type": "clipboard_read", "text": text}
}

func (t *Toolbox) clipboardWrite(text string) map[string]interface{} {
	if err := t.WriteClipboard(text); err != nil {
		return errData(fmt.Sprintf("clipboard_write_failed: %v", err))
	}
	return map[string]interface{}{"type": "clipboard_write", "ok": true, "chars": len(text)}
}

// ---- editor bridge ----

func ambiguousAnswer(ids []string) string {
	var b strings.Builder
	b.WriteString("Multiple editor windows are open. Which one should I use?\n")
	for i, id := range ids {
		fmt.Fprintf(&b, "%d) %s\n", i+1, id)
	}
	b.WriteString("\nReply with the client ID, or say 'use editor 1' / 'use editor 2'.")
	return b.String()
}

// runEditor resolves the target client and executes a snapshot or inject.
// Resolution failures become router-level answers; bridge failures become
// ordinary tool observations the model can reason over.
func (t *Toolbox) runEditor(ctx context.Context, session, kind, input string) (ToolRecord, string) {
	in := ParseEditorInput(input)

	cid, err := t.resolver.Resolve(session, in.ClientID)
	if err != nil {
		var amb *AmbiguousError
		switch {
		case errors.Is(err, ErrNoClient):
			return ToolRecord{Kind: KindEditor, Data: errData("no_editor_client")}, noEditorAnswer
		case errors.As(err, &amb):
			data := map[string]interface{}{"error": "multiple_editor_clients", "clients": amb.Clients}
			return ToolRecord{Kind: KindEditor, Data: data}, ambiguousAnswer(amb.Clients)
		default:
			return ToolRecord{Kind: KindEditor, Data: errData(err.Error())}, ""
		}
	}

	if kind == ActionSnapshot {
		return ToolRecord{Kind: KindEditor, Data: t.editorSnapshot(ctx, session, cid, in)}, ""
	}
	return ToolRecord{Kind: KindEditor, Data: t.editorInject(ctx, session, cid, in)}, ""
}

func (t *Toolbox) editorSnapshot(ctx context.Context, session, cid string, in EditorInput) map[string]interface{} {
	msg := map[string]interface{}{"type": "snapshot_request", "selection": in.Selection}
	payload, err := t.bridge.SendAndAwait(ctx, cid, msg, 0)
	if errors.Is(err, ErrUnknownClient) {
		// The instance may have just reconnected under a new id; retry once
		// against no particular client.
		if retryID, rerr := t.resolver.Resolve(session, ""); rerr == nil && retryID != cid {
			cid = retryID
			payload, err = t.bridge.SendAndAwait(ctx, cid, msg, 0)
		}
	}
	switch {
	case errors.Is(err, ErrTimeout):
		return errData("snapshot_timeout")
	case errors.Is(err, ErrDisconnected), errors.Is(err, ErrUnknownClient):
		return errData("editor_disconnected")
	case err != nil:
		return errData(fmt.Sprintf("editor_snapshot_failed: %v", err))
	}

	var reply struct {
		Path      string      `json:"path"`
		Content   string      `json:"content"`
		Selection interface{} `json:"selection"`
	}
	if err := json.Unmarshal(payload, &reply); err != nil {
		return errData(fmt.Sprintf("editor_snapshot_failed: %v", err))
	}
	t.resolver.Sessions().Put(session, cid)
	return map[string]interface{}{
		"type":      "editor_snapshot",
		"client_id": cid,
		"path":      reply.Path,
		"content":   reply.Content,
		"selection": reply.Selection,
	}
}

func (t *Toolbox) editorInject(ctx context.Context, session, cid string, in EditorInput) map[string]interface{} {
	msg := map[string]interface{}{
		"type":     "inject",
		"content":  in.Text,
		"mode":     in.Mode,
		"position": in.Position,
	}
	err := t.bridge.Send(cid, msg)
	if errors.Is(err, ErrUnknownClient) {
		if retryID, rerr := t.resolver.Resolve(session, ""); rerr == nil && retryID != cid {
			cid = retryID
			err = t.bridge.Send(cid, msg)
		}
	}
	if err != nil {
		return errData(fmt.Sprintf("inject_failed: %v", err))
	}
	t.resolver.Sessions().Put(session, cid)
	return map[string]interface{}{
		"type":      "editor_inject",
		"ok":        true,
		"client_id": cid,
		"chars":     len(in.Text),
		"mode":      in.Mode,
		"position":  in.Position,
	}
}
