package imap

import (
	"bufio"
	"bytes"
	"io"
	"mime"
	"net/textproto"
	"sort"

	"github.com/emersion/go-imap"
)

// summaryAssembler rebuilds list rows from fetch deliveries that arrive in
// arbitrary order. The server may interleave messages and split one
// message's sections across deliveries, so everything accumulates keyed by
// sequence number and section; a row counts as complete only once its header
// section, its body section, and its attributes have all arrived.
type summaryAssembler struct {
	pending map[uint32]*pendingSummary
}

type pendingSummary struct {
	summary   MessageSummary
	gotHeader bool
	gotText   bool
	gotAttrs  bool
}

func newSummaryAssembler() *summaryAssembler {
	return &summaryAssembler{pending: make(map[uint32]*pendingSummary)}
}

// absorb merges one delivery into the per-message accumulator.
func (a *summaryAssembler) absorb(msg *imap.Message) {
	if msg == nil || msg.SeqNum == 0 {
		return
	}

	p, ok := a.pending[msg.SeqNum]
	if !ok {
		p = &pendingSummary{summary: MessageSummary{SeqNum: msg.SeqNum, Flags: []string{}}}
		a.pending[msg.SeqNum] = p
	}

	if msg.Uid != 0 {
		p.summary.UID = msg.Uid
		p.gotAttrs = true
	}
	if msg.Flags != nil {
		p.summary.Flags = append([]string{}, msg.Flags...)
		p.gotAttrs = true
	}

	for section, literal := range msg.Body {
		if section == nil || literal == nil {
			continue
		}
		switch section.Specifier {
		case imap.HeaderSpecifier:
			fields := readHeaderFields(literal)
			p.summary.From = decodeHeader(fields.Get("From"))
			p.summary.To = decodeHeader(fields.Get("To"))
			p.summary.Subject = decodeHeader(fields.Get("Subject"))
			p.summary.Date = fields.Get("Date")
			p.gotHeader = true
		case imap.TextSpecifier:
			data, err := io.ReadAll(literal)
			if err == nil {
				p.summary.Preview = string(data)
			}
			p.gotText = true
		}
	}
}

// complete returns the assembled summaries newest first. Ordering comes from
// this explicit sort, never from arrival order.
func (a *summaryAssembler) complete() []MessageSummary {
	out := make([]MessageSummary, 0, len(a.pending))
	for _, p := range a.pending {
		if p.gotHeader && p.gotText && p.gotAttrs {
			out = append(out, p.summary)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqNum > out[j].SeqNum })
	return out
}

// readHeaderFields parses a HEADER.FIELDS literal leniently: whatever fields
// are present are returned, everything else reads back as "".
func readHeaderFields(r io.Reader) textproto.MIMEHeader {
	data, err := io.ReadAll(r)
	if err != nil {
		return textproto.MIMEHeader{}
	}
	// The literal may or may not carry the terminating blank line.
	data = append(data, '\r', '\n')
	hdr, _ := textproto.NewReader(bufio.NewReader(bytes.NewReader(data))).ReadMIMEHeader()
	if hdr == nil {
		return textproto.MIMEHeader{}
	}
	return hdr
}

func decodeHeader(value string) string {
	decoded, err := new(mime.WordDecoder).DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
