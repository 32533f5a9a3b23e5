// -----------------------------------------------------------------------
// Route table for the chat-completions gateway. Authenticated endpoints
// require Authorization: Bearer <token> against the resolved server token.
// -----------------------------------------------------------------------

package server

import "net/http"

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/chat/completions", s.requireAuth(s.handleChatCompletions))
	mux.HandleFunc("/v1/models", s.requireAuth(s.handleModels))
	mux.HandleFunc("/v1/cookies", s.requireAuth(s.handleCookies))

	mux.HandleFunc("/admin/status", s.requireAuth(s.handleAdminStatus))
	mux.HandleFunc("/admin/logs", s.requireAuth(s.handleAdminLogs))
	mux.HandleFunc("/ws", s.requireAuth(s.handleAdminLogsStream))

	mux.HandleFunc("/api/shutdown", s.ShutdownHandler)

	return mux
}

// requireAuth rejects requests lacking a valid bearer token, unless no
// token is configured (open access, for local development).
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.app.AuthToken
		if token == "" {
			next(w, r)
			return
		}
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix || header[len(prefix):] != token {
			http.Error(w, `{"error":{"message":"invalid or missing bearer token","type":"invalid_request_error","code":"UNAUTHORIZED"}}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
