package imap

// Folder is one mailbox in the account hierarchy, addressed by its full
// delimiter-joined path as reported by the server.
type Folder struct {
	Path        string   `json:"name"`
	DisplayName string   `json:"displayName"`
	Attributes  []string `json:"attributes"`
}

// MessageSummary is one row of a mailbox listing. Date carries the raw
// RFC 2822 header value; header fields that are absent on the message are
// empty strings.
type MessageSummary struct {
	SeqNum  uint32   `json:"seqno"`
	UID     uint32   `json:"uid"`
	From    string   `json:"from"`
	To      string   `json:"to"`
	Subject string   `json:"subject"`
	Date    string   `json:"date"`
	Preview string   `json:"body"`
	Flags   []string `json:"flags"`
}

// Attachment is metadata only; attachment content is never fetched.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type MessageDetail struct {
	UID         uint32       `json:"uid"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	Date        string       `json:"date"`
	Text        string       `json:"text"`
	HTML        string       `json:"html"`
	Attachments []Attachment `json:"attachments"`
}
