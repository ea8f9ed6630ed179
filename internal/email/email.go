package email

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"
)

// Outbound is a message composed in the browser. From is always derived from
// the session credential, never taken from the client payload.
type Outbound struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// InvalidMessageError reports a message that fails validation. It is
// returned before any network activity happens.
type InvalidMessageError struct {
	Reason string
}

func (e *InvalidMessageError) Error() string { return "invalid message: " + e.Reason }

func (o Outbound) Validate() error {
	if strings.TrimSpace(o.To) == "" {
		return &InvalidMessageError{Reason: "at least one recipient is required"}
	}
	if strings.TrimSpace(o.Subject) == "" {
		return &InvalidMessageError{Reason: "subject is required"}
	}
	if strings.TrimSpace(o.Text) == "" && strings.TrimSpace(o.HTML) == "" {
		return &InvalidMessageError{Reason: "message body is required"}
	}
	return nil
}

// Recipients splits the To header into individual addresses.
func (o Outbound) Recipients() []string {
	parts := strings.Split(o.To, ",")
	recipients := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}
	return recipients
}

// Build renders the outbound message as RFC 5322 bytes: a single
// quoted-printable part when one body variant is present, or
// multipart/alternative when both are.
func Build(in Outbound) ([]byte, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	writeHeader(&buf, "From", sanitizeHeader(in.From))
	writeHeader(&buf, "To", sanitizeHeader(in.To))
	writeHeader(&buf, "Subject", sanitizeHeader(in.Subject))
	writeHeader(&buf, "Date", time.Now().Format(time.RFC1123Z))
	writeHeader(&buf, "MIME-Version", "1.0")

	if in.Text != "" && in.HTML != "" {
		writer := multipart.NewWriter(&buf)
		writeHeader(&buf, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", writer.Boundary()))
		buf.WriteString("\r\n")

		if err := writeTextPart(writer, "text/plain", in.Text); err != nil {
			return nil, err
		}
		if err := writeTextPart(writer, "text/html", in.HTML); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	contentType := "text/plain"
	body := in.Text
	if body == "" {
		contentType = "text/html"
		body = in.HTML
	}
	writeHeader(&buf, "Content-Type", fmt.Sprintf("%s; charset=\"utf-8\"", contentType))
	writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")
	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(body)); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTextPart(writer *multipart.Writer, contentType, body string) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", fmt.Sprintf("%s; charset=\"utf-8\"", contentType))
	header.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	if value == "" {
		return
	}
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func sanitizeHeader(value string) string {
	cleaned := strings.ReplaceAll(value, "\r", "")
	cleaned = strings.ReplaceAll(cleaned, "\n", "")
	return strings.TrimSpace(cleaned)
}
