package smtp

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"time"

	"webmail/internal/config"
	"webmail/internal/email"
	"webmail/internal/session"
)

// DispatchError covers submission failures after validation passed: dial,
// auth, or the server refusing the message.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string { return fmt.Sprintf("send message: %v", e.Err) }
func (e *DispatchError) Unwrap() error { return e.Err }

// Client is the subset of net/smtp used for submission, behind an interface
// so tests can verify that invalid messages never reach the network.
type Client interface {
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// Sender submits messages over a fresh authenticated connection per call.
type Sender struct {
	cfg  config.Config
	Dial func(cfg config.Config) (Client, error)
}

func NewSender(cfg config.Config) *Sender {
	return &Sender{cfg: cfg, Dial: Dial}
}

func Dial(cfg config.Config) (Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.SMTP.Host, cfg.SMTP.Port)
	host := cfg.SMTP.Host

	if cfg.SMTP.TLS {
		tlsConfig := &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		}
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 30 * time.Second}, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, host)
	}

	c, err := smtp.Dial(addr)
	if err != nil {
		return nil, err
	}
	if cfg.SMTP.StartTLS {
		tlsConfig := &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Quit()
			return nil, err
		}
	}
	return c, nil
}

// Send validates, builds, and transmits the message with the session
// credential. Validation failures surface before any dial; success is
// reported only after the server has accepted the message for delivery.
func (s *Sender) Send(cred session.Credential, out email.Outbound) error {
	if err := out.Validate(); err != nil {
		return err
	}
	recipients := out.Recipients()
	if len(recipients) == 0 {
		return &email.InvalidMessageError{Reason: "at least one recipient is required"}
	}

	msg, err := email.Build(out)
	if err != nil {
		return err
	}

	dial := s.Dial
	if dial == nil {
		dial = Dial
	}
	c, err := dial(s.cfg)
	if err != nil {
		return &DispatchError{Err: err}
	}

	auth := smtp.PlainAuth("", cred.Email, cred.Password, s.cfg.SMTP.Host)
	if err := c.Auth(auth); err != nil {
		_ = c.Close()
		return &DispatchError{Err: err}
	}

	if err := c.Mail(cred.Email); err != nil {
		_ = c.Close()
		return &DispatchError{Err: err}
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			_ = c.Close()
			return &DispatchError{Err: err}
		}
	}

	w, err := c.Data()
	if err != nil {
		_ = c.Close()
		return &DispatchError{Err: err}
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		_ = c.Close()
		return &DispatchError{Err: err}
	}
	if err := w.Close(); err != nil {
		_ = c.Close()
		return &DispatchError{Err: err}
	}

	if err := c.Quit(); err != nil {
		return &DispatchError{Err: err}
	}
	return nil
}
