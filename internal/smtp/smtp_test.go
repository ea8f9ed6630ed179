package smtp

import (
	"bytes"
	"errors"
	"io"
	"net/smtp"
	"strings"
	"testing"

	"webmail/internal/config"
	"webmail/internal/email"
	"webmail/internal/session"
)

type mockSMTPClient struct {
	authCalled bool
	authErr    error

	mailFrom string
	mailErr  error

	rcpts   []string
	rcptErr error

	data    bytes.Buffer
	dataErr error

	quitCalled  bool
	quitErr     error
	closeCalled bool
}

func (m *mockSMTPClient) Auth(a smtp.Auth) error {
	m.authCalled = true
	return m.authErr
}

func (m *mockSMTPClient) Mail(from string) error {
	m.mailFrom = from
	return m.mailErr
}

func (m *mockSMTPClient) Rcpt(to string) error {
	if m.rcptErr != nil {
		return m.rcptErr
	}
	m.rcpts = append(m.rcpts, to)
	return nil
}

func (m *mockSMTPClient) Data() (io.WriteCloser, error) {
	if m.dataErr != nil {
		return nil, m.dataErr
	}
	return nopWriteCloser{&m.data}, nil
}

func (m *mockSMTPClient) Quit() error {
	m.quitCalled = true
	return m.quitErr
}

func (m *mockSMTPClient) Close() error {
	m.closeCalled = true
	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func newTestSender(mock *mockSMTPClient) (*Sender, *int) {
	dialCount := new(int)
	sender := NewSender(config.Config{})
	sender.Dial = func(config.Config) (Client, error) {
		*dialCount++
		return mock, nil
	}
	return sender, dialCount
}

func senderCred() session.Credential {
	return session.Credential{Email: "me@example.com", Password: "pw"}
}

func TestSendSuccess(t *testing.T) {
	mock := &mockSMTPClient{}
	sender, dials := newTestSender(mock)

	err := sender.Send(senderCred(), email.Outbound{
		From:    "me@example.com",
		To:      "a@example.com, b@example.com",
		Subject: "hello",
		Text:    "hi there",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if *dials != 1 {
		t.Fatalf("expected one dial, got %d", *dials)
	}
	if !mock.authCalled {
		t.Fatal("expected auth before submission")
	}
	if mock.mailFrom != "me@example.com" {
		t.Fatalf("envelope sender must be the session identity, got %q", mock.mailFrom)
	}
	if len(mock.rcpts) != 2 || mock.rcpts[0] != "a@example.com" || mock.rcpts[1] != "b@example.com" {
		t.Fatalf("unexpected recipients: %v", mock.rcpts)
	}
	if !strings.Contains(mock.data.String(), "Subject: hello") {
		t.Fatalf("message body missing subject:\n%s", mock.data.String())
	}
	if !mock.quitCalled {
		t.Fatal("expected quit after acceptance")
	}
}

func TestSendInvalidMessageSkipsNetwork(t *testing.T) {
	mock := &mockSMTPClient{}
	sender, dials := newTestSender(mock)

	err := sender.Send(senderCred(), email.Outbound{To: "a@example.com"})

	var invalid *email.InvalidMessageError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidMessageError, got %v", err)
	}
	if *dials != 0 {
		t.Fatal("invalid message must never reach the network")
	}
}

func TestSendAuthFailure(t *testing.T) {
	mock := &mockSMTPClient{authErr: errors.New("535 bad credentials")}
	sender, _ := newTestSender(mock)

	err := sender.Send(senderCred(), email.Outbound{
		To:      "a@example.com",
		Subject: "hello",
		Text:    "hi",
	})

	var dispatch *DispatchError
	if !errors.As(err, &dispatch) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if !mock.closeCalled {
		t.Fatal("connection must be closed after auth failure")
	}
	if mock.quitCalled {
		t.Fatal("quit must not run on the failure path")
	}
}

func TestSendRecipientRejected(t *testing.T) {
	mock := &mockSMTPClient{rcptErr: errors.New("550 no such user")}
	sender, _ := newTestSender(mock)

	err := sender.Send(senderCred(), email.Outbound{
		To:      "nobody@example.com",
		Subject: "hello",
		Text:    "hi",
	})

	var dispatch *DispatchError
	if !errors.As(err, &dispatch) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if !mock.closeCalled {
		t.Fatal("connection must be closed after rcpt failure")
	}
}

func TestSendDialFailure(t *testing.T) {
	sender := NewSender(config.Config{})
	sender.Dial = func(config.Config) (Client, error) {
		return nil, errors.New("connection refused")
	}

	err := sender.Send(senderCred(), email.Outbound{
		To:      "a@example.com",
		Subject: "hello",
		Text:    "hi",
	})

	var dispatch *DispatchError
	if !errors.As(err, &dispatch) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
}

func TestSendQuitFailure(t *testing.T) {
	mock := &mockSMTPClient{quitErr: errors.New("connection dropped")}
	sender, _ := newTestSender(mock)

	err := sender.Send(senderCred(), email.Outbound{
		To:      "a@example.com",
		Subject: "hello",
		Text:    "hi",
	})

	var dispatch *DispatchError
	if !errors.As(err, &dispatch) {
		t.Fatalf("send must not report success before the server accepts, got %v", err)
	}
}
