package imap

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// parseMessage turns one raw RFC 5322 message into structured detail: the
// first text/plain and first text/html bodies and attachment metadata.
// Attachment bytes are counted for the size field but never kept.
func parseMessage(r io.Reader) (MessageDetail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return MessageDetail{}, err
	}

	detail := MessageDetail{Attachments: []Attachment{}}
	header := mr.Header

	detail.From = addressText(header, "From")
	detail.To = addressText(header, "To")
	if subject, err := header.Subject(); err == nil {
		detail.Subject = subject
	} else {
		detail.Subject = decodeHeader(header.Get("Subject"))
	}
	detail.Date = header.Get("Date")

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return MessageDetail{}, err
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			switch {
			case strings.HasPrefix(contentType, "text/plain") && detail.Text == "":
				data, err := io.ReadAll(part.Body)
				if err != nil {
					return MessageDetail{}, err
				}
				detail.Text = string(data)
			case strings.HasPrefix(contentType, "text/html") && detail.HTML == "":
				data, err := io.ReadAll(part.Body)
				if err != nil {
					return MessageDetail{}, err
				}
				detail.HTML = string(data)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			size, err := io.Copy(io.Discard, part.Body)
			if err != nil {
				return MessageDetail{}, err
			}
			detail.Attachments = append(detail.Attachments, Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        size,
			})
		}
	}

	return detail, nil
}

func addressText(header mail.Header, field string) string {
	list, err := header.AddressList(field)
	if err != nil || len(list) == 0 {
		return decodeHeader(header.Get(field))
	}
	parts := make([]string, 0, len(list))
	for _, addr := range list {
		if addr == nil {
			continue
		}
		if addr.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", addr.Name, addr.Address))
		} else {
			parts = append(parts, addr.Address)
		}
	}
	return strings.Join(parts, ", ")
}
