package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opencode-ai/mcphost/internal/config"
	"github.com/opencode-ai/mcphost/internal/mcp"
	"github.com/opencode-ai/mcphost/internal/sanitize"
	"github.com/opencode-ai/mcphost/internal/tool"
)

// LayerAPI is the source layer of servers added over HTTP.
const LayerAPI = "api"

// maxCallBody bounds the arguments accepted by POST /mcp/tool/{id}.
const maxCallBody = 4 << 20

// AddServerRequest is the body of POST /mcp. Config takes the same shape as
// one entry of a config file's "mcpServers" object.
type AddServerRequest struct {
	Name   string          `json:"name"`
	Owner  string          `json:"owner,omitempty"`
	Config json.RawMessage `json:"config"`
}

// SkillInfo describes one skill in GET /mcp/tools.
type SkillInfo struct {
	ID          string          `json:"id"`
	Server      string          `json:"server"`
	Name        string          `json:"name"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// SkillsResponse is the body of GET /mcp/tools.
type SkillsResponse struct {
	Tools    []SkillInfo          `json:"tools"`
	Degraded []mcp.DegradedServer `json:"degraded"`
}

// CallResponse is the body of POST /mcp/tool/{id}. Failed calls still
// answer 200; IsError and ErrorKind describe the failure.
type CallResponse struct {
	Title     string         `json:"title"`
	Output    string         `json:"output"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IsError   bool           `json:"isError"`
	ErrorKind string         `json:"errorKind,omitempty"`
}

// ReloadResponse is the body of POST /mcp/reload.
type ReloadResponse struct {
	Servers []mcp.ServerStatus `json:"servers"`
	Error   string             `json:"error,omitempty"`
}

// listServers handles GET /mcp
func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Status())
}

// getServer handles GET /mcp/{name}
func (s *Server) getServer(w http.ResponseWriter, r *http.Request) {
	status, err := s.registry.ServerStatus(chi.URLParam(r, "name"))
	if err != nil {
		writeMCPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// addServer handles POST /mcp
func (s *Server) addServer(w http.ResponseWriter, r *http.Request) {
	var req AddServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name is required")
		return
	}
	if len(req.Config) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "config is required")
		return
	}

	cfg, err := config.DecodeServer(req.Name, req.Config, mcp.Source{Layer: LayerAPI}, s.config.Directory)
	if err != nil {
		writeMCPError(w, err)
		return
	}

	scope := mcp.SharedScope()
	if req.Owner != "" {
		scope = mcp.PrivateScope(req.Owner)
	}
	srv, err := s.registry.Connect(r.Context(), cfg, mcp.WithScope(scope), mcp.Pinned())
	if err != nil {
		writeMCPError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, srv.Status())
}

// removeServer handles DELETE /mcp/{name}
func (s *Server) removeServer(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Disconnect(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeMCPError(w, err)
		return
	}
	writeSuccess(w)
}

// reconnectServer handles POST /mcp/{name}/reconnect
func (s *Server) reconnectServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.registry.Reconnect(r.Context(), name); err != nil {
		writeMCPError(w, err)
		return
	}
	s.getServer(w, r)
}

// retryTools handles POST /mcp/{name}/tools/retry
func (s *Server) retryTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.registry.RetryTools(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeMCPError(w, err)
		return
	}
	if tools == nil {
		tools = []mcp.Tool{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

// listSkills handles GET /mcp/tools
func (s *Server) listSkills(w http.ResponseWriter, r *http.Request) {
	set := s.registry.Skills(r.Context(), callerID(r.Context()))

	resp := SkillsResponse{
		Tools:    make([]SkillInfo, 0, len(set.Skills)),
		Degraded: set.Degraded,
	}
	if resp.Degraded == nil {
		resp.Degraded = []mcp.DegradedServer{}
	}
	for _, sk := range set.Skills {
		t := sk.Tool()
		resp.Tools = append(resp.Tools, SkillInfo{
			ID:          sk.ID(),
			Server:      sk.Server(),
			Name:        t.Name,
			Title:       t.DisplayName(),
			Description: sk.Description(),
			InputSchema: sk.Parameters(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// callSkill handles POST /mcp/tool/{id}
func (s *Server) callSkill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := callerID(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Failed to read body")
		return
	}
	args := json.RawMessage(body)
	if len(body) == 0 {
		args = json.RawMessage(`{}`)
	} else if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Arguments must be JSON")
		return
	}

	skill, err := s.registry.FindSkill(ctx, caller, chi.URLParam(r, "id"))
	if err != nil {
		writeMCPError(w, err)
		return
	}

	res, err := skill.Execute(ctx, args, &tool.Context{
		CallerID: caller,
		CallID:   middleware.GetReqID(ctx),
		WorkDir:  s.config.Directory,
		AbortCh:  ctx.Done(),
	})
	if err != nil {
		writeMCPError(w, err)
		return
	}

	resp := CallResponse{
		Title:    res.Title,
		Output:   res.Output,
		Metadata: res.Metadata,
		IsError:  res.IsError(),
	}
	if kind, ok := res.Metadata["errorKind"].(string); ok {
		resp.ErrorKind = kind
	}
	writeJSON(w, http.StatusOK, resp)
}

// reloadServers handles POST /mcp/reload
func (s *Server) reloadServers(w http.ResponseWriter, r *http.Request) {
	reload := s.reloader()
	if reload == nil {
		notImplemented(w)
		return
	}

	resp := ReloadResponse{}
	if err := reload(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("reload finished with problems")
		resp.Error = sanitize.Text(err.Error())
	}
	resp.Servers = s.registry.Status()
	writeJSON(w, http.StatusOK, resp)
}
