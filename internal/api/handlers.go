package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"webmail/internal/email"
	"webmail/internal/imap"
	"webmail/internal/session"
)

const defaultFolder = "INBOX"

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if payload.Email == "" || payload.Password == "" {
		s.respondError(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	address, err := session.NormalizeEmail(payload.Email)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid email format")
		return
	}

	token, err := s.sessions.Create(session.Credential{Email: address, Password: payload.Password})
	if err != nil {
		s.logger.WithError(err).Error("create session")
		s.respondError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	s.setSessionCookie(w, token)
	s.logger.WithField("email", address).Info("session created")
	s.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged in successfully",
		"email":   address,
	})
}

// handleLogout destroys the session if one exists. Logging out without a
// session still succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if cookie, err := r.Cookie(s.sessions.CookieName()); err == nil {
		s.sessions.Destroy(cookie.Value)
	}
	s.clearSessionCookie(w)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cred, ok := s.credential(r)
	if !ok {
		s.respondJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"email":         cred.Email,
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cred, ok := s.credential(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	folder := r.URL.Query().Get("folder")
	if folder == "" {
		folder = defaultFolder
	}
	limit := imap.DefaultListLimit
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		if parsed, err := strconv.Atoi(rawLimit); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	summaries, err := s.mailbox.ListMessages(r.Context(), cred, folder, limit)
	if err != nil {
		s.mailError(w, "fetch", err)
		return
	}
	if summaries == nil {
		summaries = []imap.MessageSummary{}
	}
	s.respondJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cred, ok := s.credential(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	folders, err := s.mailbox.ListFolders(r.Context(), cred)
	if err != nil {
		s.mailError(w, "folders", err)
		return
	}
	if folders == nil {
		folders = []imap.Folder{}
	}
	s.respondJSON(w, http.StatusOK, folders)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.credential(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	rawUID := strings.TrimPrefix(r.URL.Path, "/api/email/message/")
	if rawUID == "" || strings.Contains(rawUID, "/") {
		http.NotFound(w, r)
		return
	}
	uid, err := strconv.ParseUint(rawUID, 10, 32)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid message id")
		return
	}

	folder := r.URL.Query().Get("folder")
	if folder == "" {
		folder = defaultFolder
	}

	switch r.Method {
	case http.MethodGet:
		detail, err := s.mailbox.GetMessage(r.Context(), cred, folder, uint32(uid))
		if err != nil {
			s.mailError(w, "message", err)
			return
		}
		s.respondJSON(w, http.StatusOK, detail)
	case http.MethodDelete:
		if err := s.mailbox.DeleteMessage(r.Context(), cred, folder, uint32(uid)); err != nil {
			s.mailError(w, "delete", err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Email deleted successfully",
		})
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cred, ok := s.credential(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var payload struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Text    string `json:"text"`
		HTML    string `json:"html"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	out := email.Outbound{
		From:    cred.Email,
		To:      payload.To,
		Subject: payload.Subject,
		Text:    payload.Text,
		HTML:    payload.HTML,
	}
	if err := s.dispatch.Send(cred, out); err != nil {
		s.mailError(w, "send", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email sent successfully",
	})
}
