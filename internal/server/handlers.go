package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/michaelbrown/codepad/internal/dispatch"
	"github.com/michaelbrown/codepad/internal/language"
	"github.com/michaelbrown/codepad/internal/preview"
	"github.com/michaelbrown/codepad/internal/session"
	"github.com/michaelbrown/codepad/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

// --- Language handlers ---

type languageInfo struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	EditorMode string `json:"editor_mode"`
	Local      bool   `json:"local"`
	Remote     bool   `json:"remote"`
}

func (s *Server) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	descs := s.langs.Table().All()
	out := make([]languageInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, languageInfo{
			Key:        d.Key,
			Name:       d.Name,
			EditorMode: d.Mode(),
			Local:      d.IsLocal(),
			Remote:     d.ExecutorID != nil,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Session handlers ---

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return sess, ok
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Remove(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateSessionRequest struct {
	Theme          *session.Theme          `json:"theme"`
	Stdin          *string                 `json:"stdin"`
	OutputPosition *session.OutputPosition `json:"output_position"`
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req updateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.Theme != nil {
		if err := sess.SetTheme(*req.Theme); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.OutputPosition != nil {
		if err := sess.SetOutputPosition(*req.OutputPosition); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Stdin != nil {
		sess.SetStdin(*req.Stdin)
	}

	writeJSON(w, http.StatusOK, sess.Snapshot())
}

type setLanguageRequest struct {
	Language string `json:"language"`
}

func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req setLanguageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := sess.SetLanguage(req.Language); err != nil {
		if errors.Is(err, language.ErrUnknown) {
			writeError(w, http.StatusBadRequest, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, sess.Snapshot())
}

type editSourceRequest struct {
	Part session.Part `json:"part"`
	Text string       `json:"text"`
}

func (s *Server) handleEditSource(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req editSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Part == "" {
		req.Part = session.PartSource
	}

	if err := sess.Edit(req.Part, req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// --- Run handlers ---

type runResponse struct {
	Output  *dispatch.Output `json:"output"`
	Applied bool             `json:"applied"`
}

// handleRunSession runs the session's buffers. Run failures are not HTTP
// failures: they come back as an error panel with status 200.
func (s *Server) handleRunSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	out, _, applied := sess.Run(r.Context(), s.dispatcher, nil)
	writeJSON(w, http.StatusOK, runResponse{Output: out, Applied: applied})
}

// handleRun runs a request without a session.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	out, err := s.dispatcher.Run(r.Context(), req)
	if err != nil {
		out = dispatch.ErrorOutput(err)
	}
	writeJSON(w, http.StatusOK, runResponse{Output: out, Applied: true})
}

// --- Preview handler ---

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.previews == nil {
		http.NotFound(w, r)
		return
	}
	doc, err := s.previews.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, preview.ErrNotFound) {
			http.NotFound(w, r)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(doc.HTML))
}

// --- Snippet handlers ---

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "snippet storage is disabled")
		return false
	}
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "snippet not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleListSnippets(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	opts := storage.SnippetListOptions{Language: r.URL.Query().Get("language")}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	snippets, err := s.store.ListSnippets(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if snippets == nil {
		snippets = []storage.Snippet{}
	}
	writeJSON(w, http.StatusOK, snippets)
}

type createSnippetRequest struct {
	SessionID string         `json:"session_id"`
	Title     string         `json:"title"`
	Language  string         `json:"language"`
	Source    string         `json:"source"`
	Parts     language.Parts `json:"parts"`
	Stdin     string         `json:"stdin"`
}

// handleCreateSnippet saves either the buffers of a live session or the
// buffers given in the body.
func (s *Server) handleCreateSnippet(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	var req createSnippetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	sn := &storage.Snippet{
		ID:       uuid.New().String(),
		Title:    req.Title,
		Language: req.Language,
		Source:   req.Source,
		Parts:    req.Parts,
		Stdin:    req.Stdin,
	}
	if req.SessionID != "" {
		sess, ok := s.sessions.Get(req.SessionID)
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		snap := sess.Snapshot()
		sn.Language = snap.Language
		sn.Source = snap.Source
		sn.Parts = snap.Parts
		sn.Stdin = snap.Stdin
	}

	if _, err := s.langs.Table().Lookup(sn.Language); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sn.Language == language.LocalRender {
		sn.Source = ""
	} else {
		sn.Parts = language.Parts{}
	}
	if sn.Title == "" {
		sn.Title = generateTitle(sn)
	}

	if err := s.store.CreateSnippet(r.Context(), sn); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sn)
}

func (s *Server) handleGetSnippet(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	sn, err := s.store.GetSnippet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn)
}

func (s *Server) handleDeleteSnippet(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if err := s.store.DeleteSnippet(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportSnippet(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	sn, err := s.store.GetSnippet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(storage.ExportMarkdown(sn)))
	case "json":
		data, err := storage.ExportJSON(sn)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Write(data)
	default:
		writeError(w, http.StatusBadRequest, "unknown format "+strconv.Quote(format))
	}
}

// generateTitle creates a snippet title from the first non-blank line of
// its source.
func generateTitle(sn *storage.Snippet) string {
	text := sn.Source
	if sn.Language == language.LocalRender {
		text = sn.Parts.HTML
	}
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		if len(t) > 80 {
			t = t[:80] + "..."
		}
		return t
	}
	return "Untitled " + sn.Language
}
