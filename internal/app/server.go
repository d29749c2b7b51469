package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// Server exposes the orchestration core over HTTP: the agent submit
// endpoint, the editor bridge websocket and its snapshot/inject wrappers,
// clipboard and vault file operations, and a browse passthrough.
type Server struct {
	cfg      Config
	log      *Logger
	agent    *Agent
	bridge   *Bridge
	resolver *Resolver
	tools    *Toolbox
	vault    *Vault
	upgrader websocket.Upgrader
}

func NewServer(cfg Config, log *Logger, agent *Agent, bridge *Bridge, resolver *Resolver, tools *Toolbox, vault *Vault) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		agent:    agent,
		bridge:   bridge,
		resolver: resolver,
		tools:    tools,
		vault:    vault,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The bridge is loopback-only; editor instances are local apps.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// NewServerFromConfig wires the whole core from configuration.
func NewServerFromConfig(cfg Config, log *Logger) *Server {
	bridge := NewBridge(log, cfg.BridgeTimeout(), cfg.BridgeMaxTimeout())
	resolver := NewResolver(bridge, NewSessionStore())
	tools := NewToolbox(cfg, log, bridge, resolver)
	llm := NewLLMClient(cfg.LLMBaseURL, cfg.LLMAPIKey)
	agent := NewAgent(llm.Complete, tools, resolver, log, cfg.MaxSteps)
	return NewServer(cfg, log, agent, bridge, resolver, tools, NewVault(cfg.VaultRoot))
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /agent", s.handleAgent)
	mux.HandleFunc("GET /editor/clients", s.handleClients)
	mux.HandleFunc("GET /editor/ws", s.handleBridgeWS)
	mux.HandleFunc("GET /editor/agent/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /editor/agent/inject", s.handleInject)
	mux.HandleFunc("GET /clipboard/read", s.handleClipboardRead)
	mux.HandleFunc("POST /clipboard/write", s.handleClipboardWrite)
	mux.HandleFunc("POST /web/browse", s.handleBrowse)
	mux.HandleFunc("POST /editor/save_file", s.handleSaveFile)
	mux.HandleFunc("GET /editor/load_file", s.handleLoadFile)
	mux.HandleFunc("GET /editor/list_directory", s.handleListDirectory)
	mux.HandleFunc("POST /editor/inject_text", s.handleInjectText)
	mux.HandleFunc("POST /editor/ensure_folder", s.handleEnsureFolder)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("listening", map[string]interface{}{"addr": s.cfg.ListenAddr})
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---- agent ----

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	var body struct {
		AgentRequest
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req = body.AgentRequest
	if req.SessionKey == "" {
		req.SessionKey = body.Username
	}
	if req.Model == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "model and message are required")
		return
	}

	result, err := s.agent.Run(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownAction):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrStepBudget):
			writeError(w, http.StatusInternalServerError, "max_steps_exceeded")
		case errors.Is(err, ErrModelParse):
			writeError(w, http.StatusInternalServerError, "agent_parse_error: "+err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ---- bridge ----

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"clients": s.bridge.ListClients()})
}

func (s *Server) handleBridgeWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()
	s.bridge.HandleClient(clientID, conn)
}

// pickClient resolves an explicit or auto-selected client for the plain
// HTTP wrappers, which carry no session.
func (s *Server) pickClient(requested string) (string, int, interface{}) {
	want := NormalizeClientID(requested)
	ids := s.bridge.ListClients()
	if want != "" && contains(ids, want) {
		return want, 0, nil
	}
	switch len(ids) {
	case 0:
		return "", http.StatusNotFound, map[string]string{"error": "no_editor_client"}
	case 1:
		return ids[0], 0, nil
	default:
		return "", http.StatusConflict, map[string]interface{}{"error": "multiple_editor_clients", "clients": ids}
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cid, status, errBody := s.pickClient(q.Get("client_id"))
	if errBody != nil {
		writeJSON(w, status, errBody)
		return
	}
	selection := q.Get("selection") == "true"

	timeout := s.cfg.BridgeTimeout()
	if raw := q.Get("timeout"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			if secs < 0.5 {
				secs = 0.5
			}
			timeout = time.Duration(secs * float64(time.Second))
		}
	}

	payload, err := s.bridge.SendAndAwait(r.Context(), cid, map[string]interface{}{
		"type":      "snapshot_request",
		"selection": selection,
	}, timeout)
	switch {
	case errors.Is(err, ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "editor snapshot timeout")
		return
	case errors.Is(err, ErrDisconnected), errors.Is(err, ErrUnknownClient):
		writeError(w, http.StatusGone, "editor socket closed")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var reply struct {
		Path      string      `json:"path"`
		Content   string      `json:"content"`
		Selection interface{} `json:"selection"`
	}
	if err := json.Unmarshal(payload, &reply); err != nil {
		writeError(w, http.StatusBadGateway, "invalid snapshot reply")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"client_id": cid,
		"path":      reply.Path,
		"content":   reply.Content,
		"selection": reply.Selection,
	})
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientID string `json:"client_id"`
		Content  string `json:"content"`
		Mode     string `json:"mode"`
		Position string `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Mode == "" {
		body.Mode = "insert"
	}
	if body.Position == "" {
		body.Position = "cursor"
	}
	cid, status, errBody := s.pickClient(body.ClientID)
	if errBody != nil {
		writeJSON(w, status, errBody)
		return
	}
	err := s.bridge.Send(cid, map[string]interface{}{
		"type":     "inject",
		"content":  body.Content,
		"mode":     body.Mode,
		"position": body.Position,
	})
	if err != nil {
		writeError(w, http.StatusGone, "editor socket closed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "client_id": cid})
}

// ---- clipboard ----

func (s *Server) handleClipboardRead(w http.ResponseWriter, r *http.Request) {
	text, err := s.tools.ReadClipboard()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleClipboardWrite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.tools.WriteClipboard(body.Text); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// ---- web ----

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL        string `json:"url"`
		Screenshot bool   `json:"screenshot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}
	writeJSON(w, http.StatusOK, s.tools.Browse(r.Context(), body.URL, body.Screenshot))
}

// ---- vault files ----

func (s *Server) handleSaveFile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := s.vault.SaveFile(body.Path, body.Content); err != nil {
		if errors.Is(err, ErrWriteDenied) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleLoadFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	content, err := s.vault.LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

func (s *Server) handleListDirectory(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	if folder == "" {
		writeError(w, http.StatusBadRequest, "folder is required")
		return
	}
	items, err := s.vault.ListDirectory(folder)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "folder not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"folder": folder, "items": items})
}

func (s *Server) handleInjectText(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path       string `json:"path"`
		NewContent string `json:"new_content"`
		Mode       string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if body.Mode == "" {
		body.Mode = "append"
	}
	updated, err := s.vault.InjectText(body.Path, body.NewContent, body.Mode)
	if err != nil {
		if errors.Is(err, ErrWriteDenied) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "updated_content": updated})
}

func (s *Server) handleEnsureFolder(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	created, err := s.vault.EnsureFolder(path)
	if err != nil {
		if errors.Is(err, ErrWriteDenied) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "created": created})
}
