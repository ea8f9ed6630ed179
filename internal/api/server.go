package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"webmail/internal/email"
	"webmail/internal/imap"
	"webmail/internal/session"
	"webmail/internal/smtp"
)

// Mailbox is the mailbox-side engine surface consumed by the handlers.
type Mailbox interface {
	ListFolders(ctx context.Context, cred session.Credential) ([]imap.Folder, error)
	ListMessages(ctx context.Context, cred session.Credential, folder string, limit int) ([]imap.MessageSummary, error)
	GetMessage(ctx context.Context, cred session.Credential, folder string, uid uint32) (imap.MessageDetail, error)
	DeleteMessage(ctx context.Context, cred session.Credential, folder string, uid uint32) error
}

// Dispatcher submits outbound messages.
type Dispatcher interface {
	Send(cred session.Credential, out email.Outbound) error
}

type Server struct {
	sessions *session.Store
	mailbox  Mailbox
	dispatch Dispatcher
	logger   *logrus.Logger
	mux      *http.ServeMux
}

func NewServer(sessions *session.Store, mailbox Mailbox, dispatch Dispatcher, logger *logrus.Logger) *Server {
	server := &Server{
		sessions: sessions,
		mailbox:  mailbox,
		dispatch: dispatch,
		logger:   logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", server.handleLogin)
	mux.HandleFunc("/api/auth/logout", server.handleLogout)
	mux.HandleFunc("/api/auth/status", server.handleStatus)
	mux.HandleFunc("/api/email/fetch", server.handleFetch)
	mux.HandleFunc("/api/email/folders", server.handleFolders)
	mux.HandleFunc("/api/email/message/", server.handleMessage)
	mux.HandleFunc("/api/email/send", server.handleSend)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// credential resolves the session cookie into the held credential, if any.
func (s *Server) credential(r *http.Request) (session.Credential, bool) {
	cookie, err := r.Cookie(s.sessions.CookieName())
	if err != nil {
		return session.Credential{}, false
	}
	return s.sessions.Lookup(cookie.Value)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.sessions.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.sessions.MaxAge().Seconds()),
		Expires:  time.Now().Add(s.sessions.MaxAge()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.sessions.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// mailError maps an engine failure to an HTTP status and a short message.
// Raw protocol errors stay in the server log and never reach the client.
func (s *Server) mailError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	var (
		invalidErr  *email.InvalidMessageError
		connErr     *imap.ConnectionError
		folderErr   *imap.FolderListError
		fetchErr    *imap.FetchError
		parseErr    *imap.ParseError
		deleteErr   *imap.DeleteError
		dispatchErr *smtp.DispatchError
	)

	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.As(err, &invalidErr):
		status = http.StatusBadRequest
		message = invalidErr.Reason
	case errors.Is(err, imap.ErrNotFound):
		status = http.StatusNotFound
		message = "Message not found"
	case errors.As(err, &connErr):
		if connErr.Auth {
			message = "Failed to authenticate with the mail server. Check your credentials and ensure IMAP is enabled."
		} else {
			message = "Failed to connect to the mail server"
		}
	case errors.As(err, &folderErr):
		message = "Failed to open mailbox"
	case errors.As(err, &fetchErr):
		message = "Failed to fetch emails"
	case errors.As(err, &parseErr):
		message = "Failed to parse email"
	case errors.As(err, &deleteErr):
		message = "Failed to delete email"
	case errors.As(err, &dispatchErr):
		message = "Failed to send email"
	}

	s.logger.WithError(err).WithField("op", op).Error("request failed")
	s.respondError(w, status, message)
}
