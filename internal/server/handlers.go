// -----------------------------------------------------------------------
// HTTP handlers for the chat-completions gateway surface: the OpenAI-
// compatible chat endpoint, model listing, administrative cookie access,
// and the admin status/log endpoints. Grounded on the reference's unified
// logs handler (unified_logs_handler.go) for the memory-writer log read
// path, generalized from job/service log scopes to a single system log.
// -----------------------------------------------------------------------

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chatrelay/internal/admission"
	"github.com/ternarybob/chatrelay/internal/apierrors"
	"github.com/ternarybob/chatrelay/internal/cookiestore"
	"github.com/ternarybob/chatrelay/internal/failover"
	"github.com/ternarybob/chatrelay/internal/models"
	"github.com/ternarybob/chatrelay/internal/stream"
)

var logStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const maxRequestBody = 32 * 1024 * 1024 // 32 MiB, generous for a handful of inline images

// handleChatCompletions implements POST /v1/chat/completions.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		stream.WriteError(w, apierrors.Wrap(apierrors.CodeInternalError, "failed to read request body", err))
		return
	}

	parsed, err := admission.ParseChatRequest(body)
	if err != nil {
		stream.WriteError(w, apierrors.New(apierrors.CodeNoMessages, err.Error()))
		return
	}

	task, apiErr := s.app.Admitter.Admit(r.Context(), parsed)
	if apiErr != nil {
		stream.WriteError(w, apiErr)
		return
	}

	if !parsed.Stream {
		s.serveNonStreaming(w, task)
		return
	}
	s.serveStreaming(w, task)
}

// serveNonStreaming waits for task completion and renders the OpenAI
// non-streaming JSON response shape.
func (s *Server) serveNonStreaming(w http.ResponseWriter, task *models.Task) {
	result, err := task.Wait()
	if err != nil {
		stream.WriteError(w, apierrors.Wrap(apierrors.CodeInternalError, "request cancelled before completion", err))
		return
	}
	if result.Error != nil {
		stream.WriteError(w, failover.Classify(result.Error))
		return
	}

	content := result.Text
	if result.Image != "" {
		content = "![generated](" + result.Image + ")"
	}

	id := stream.NewID()
	stream.WriteJSON(w, http.StatusOK, stream.NonStreamResponse(id, task.Model, content))
}

// serveStreaming renders the OpenAI SSE response shape, with heartbeats
// bound to the request's own completion.
func (s *Server) serveStreaming(w http.ResponseWriter, task *models.Task) {
	mode := stream.KeepaliveComment
	if s.app.Config.Server.Keepalive.Mode == "content" {
		mode = stream.KeepaliveContent
	}

	sw, err := stream.NewSSEWriter(w, mode)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	done := make(chan struct{})
	sw.StartHeartbeat(12*time.Second, done)
	defer close(done)

	id := stream.NewID()

	result, err := task.Wait()
	if err != nil {
		sw.WriteError(apierrors.Wrap(apierrors.CodeInternalError, "request cancelled before completion", err))
		return
	}
	if result.Error != nil {
		sw.WriteError(failover.Classify(result.Error))
		return
	}

	content := result.Text
	if result.Image != "" {
		content = "![generated](" + result.Image + ")"
	}
	sw.WriteContent(id, task.Model, content)
	sw.WriteTerminal(id, task.Model)
}

// modelListEntry is one element of GET /v1/models' data array.
type modelListEntry struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Created  int64  `json:"created"`
	OwnedBy  string `json:"owned_by"`
}

// handleModels implements GET /v1/models: every registered model appears
// twice, once under its bare id and once qualified by adapter type.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	now := time.Now().Unix()
	var entries []modelListEntry
	for _, d := range s.app.Registry.AllModels() {
		entries = append(entries, modelListEntry{
			ID:      d.ID,
			Object:  "model",
			Created: now,
			OwnedBy: "internal_server",
		})
		entries = append(entries, modelListEntry{
			ID:      d.AdapterType + "/" + d.ID,
			Object:  "model",
			Created: now,
			OwnedBy: d.AdapterType,
		})
	}

	stream.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   entries,
	})
}

// handleCookies implements GET/POST /v1/cookies, keyed by worker name.
func (s *Server) handleCookies(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.handleCookiesGet, s.handleCookiesPost)
}

func (s *Server) handleCookiesGet(w http.ResponseWriter, r *http.Request) {
	workerName := r.URL.Query().Get("worker")
	if workerName == "" {
		http.Error(w, "missing required query parameter: worker", http.StatusBadRequest)
		return
	}
	domain := r.URL.Query().Get("domain")

	for _, w2 := range s.app.Pool.Workers() {
		if w2.Name() == workerName {
			cookies, err := w2.GetCookies(domain)
			if err != nil {
				stream.WriteError(w, apierrors.InternalOrWrap(err))
				return
			}
			stream.WriteJSON(w, http.StatusOK, map[string]interface{}{"worker": workerName, "cookies": cookies})
			return
		}
	}
	http.Error(w, "unknown worker", http.StatusNotFound)
}

func (s *Server) handleCookiesPost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Worker  string               `json:"worker"`
		Domain  string               `json:"domain"`
		Cookies []cookiestore.Cookie `json:"cookies"`
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		stream.WriteError(w, apierrors.Wrap(apierrors.CodeInternalError, "failed to read request body", err))
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if req.Worker == "" {
		http.Error(w, "missing required field: worker", http.StatusBadRequest)
		return
	}

	if err := s.app.CookieStore.Put(req.Worker, req.Domain, req.Cookies); err != nil {
		stream.WriteError(w, apierrors.InternalOrWrap(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminStatus implements GET /admin/status: per-Worker busy state,
// queue depth, and pool size. Instance browser liveness is not reported.
func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	type workerStatus struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
		Busy bool   `json:"busy"`
	}

	workers := make([]workerStatus, 0, len(s.app.Pool.Workers()))
	for _, wk := range s.app.Pool.Workers() {
		workers = append(workers, workerStatus{Name: wk.Name(), Kind: string(wk.Kind()), Busy: wk.BusyCount() > 0})
	}

	stream.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"workers":     workers,
		"queue_depth": s.app.Admitter.QueueDepth(),
		"pool_size":   s.app.Pool.Size(),
	})
}

// handleAdminLogs implements GET /admin/logs?lines=N and DELETE /admin/logs
// against the Arbor in-memory log writer.
func (s *Server) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	RouteCRUD(w, r, s.handleAdminLogsGet, nil, nil, s.handleAdminLogsDelete)
}

func (s *Server) handleAdminLogsGet(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 2000 {
		limit = 2000
	}

	memWriter := arbor.GetRegisteredMemoryWriter(arbor.WRITER_MEMORY)
	if memWriter == nil {
		stream.WriteJSON(w, http.StatusOK, map[string]interface{}{"lines": []string{}})
		return
	}

	entries, err := memWriter.GetEntriesWithLimit(limit)
	if err != nil {
		stream.WriteError(w, apierrors.Wrap(apierrors.CodeInternalError, "failed to read log buffer", err))
		return
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		line := entries[k]
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}

	stream.WriteJSON(w, http.StatusOK, map[string]interface{}{"lines": lines})
}

// handleAdminLogsStream implements GET /ws: a live tail of the in-memory log
// buffer, pushing only newly-appended lines to the client every second until
// it disconnects.
func (s *Server) handleAdminLogsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := logStreamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.app.Logger.Warn().Err(err).Msg("server: log stream upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	sent := make(map[string]bool)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			memWriter := arbor.GetRegisteredMemoryWriter(arbor.WRITER_MEMORY)
			if memWriter == nil {
				continue
			}
			entries, err := memWriter.GetEntriesWithLimit(500)
			if err != nil {
				continue
			}
			keys := make([]string, 0, len(entries))
			for k := range entries {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if sent[k] {
					continue
				}
				sent[k] = true
				if err := conn.WriteMessage(websocket.TextMessage, []byte(entries[k])); err != nil {
					return
				}
			}
		}
	}
}

// handleAdminLogsDelete resets the in-memory log buffer if the registered
// writer exposes a reset operation; otherwise it is a documented no-op.
func (s *Server) handleAdminLogsDelete(w http.ResponseWriter, r *http.Request) {
	memWriter := arbor.GetRegisteredMemoryWriter(arbor.WRITER_MEMORY)
	if resettable, ok := interface{}(memWriter).(interface{ Clear() error }); ok {
		if err := resettable.Clear(); err != nil {
			stream.WriteError(w, apierrors.Wrap(apierrors.CodeInternalError, "failed to clear log buffer", err))
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
