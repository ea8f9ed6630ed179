package imap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"webmail/internal/config"
	"webmail/internal/session"

	"github.com/emersion/go-imap"
)

type mockClient struct {
	status           *imap.MailboxStatus
	selectErr        error
	selectedName     string
	selectedReadOnly bool

	boxes   []*imap.MailboxInfo
	listErr error

	fetchCalls  int
	fetchSeqSet string
	messages    []*imap.Message
	fetchErr    error

	uidFetchSeqSet string
	uidMessages    []*imap.Message
	uidFetchErr    error

	storedSeqSet string
	storedValue  interface{}
	storeErr     error

	expungeCalled bool
	expungeErr    error

	loggedOut  bool
	terminated bool
}

func (m *mockClient) Login(username, password string) error { return nil }

func (m *mockClient) Logout() error {
	m.loggedOut = true
	return nil
}

func (m *mockClient) Terminate() error {
	m.terminated = true
	return nil
}

func (m *mockClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	m.selectedName = name
	m.selectedReadOnly = readOnly
	if m.selectErr != nil {
		return nil, m.selectErr
	}
	if m.status != nil {
		return m.status, nil
	}
	return &imap.MailboxStatus{Name: name}, nil
}

func (m *mockClient) List(ref, name string, ch chan *imap.MailboxInfo) error {
	for _, box := range m.boxes {
		ch <- box
	}
	close(ch)
	return m.listErr
}

func (m *mockClient) Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	m.fetchCalls++
	m.fetchSeqSet = seqset.String()
	for _, msg := range m.messages {
		ch <- msg
	}
	close(ch)
	return m.fetchErr
}

func (m *mockClient) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	m.uidFetchSeqSet = seqset.String()
	for _, msg := range m.uidMessages {
		ch <- msg
	}
	close(ch)
	return m.uidFetchErr
}

func (m *mockClient) UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	m.storedSeqSet = seqset.String()
	m.storedValue = value
	if ch != nil {
		close(ch)
	}
	return m.storeErr
}

func (m *mockClient) Expunge(ch chan uint32) error {
	m.expungeCalled = true
	if ch != nil {
		close(ch)
	}
	return m.expungeErr
}

func newTestService(mock *mockClient) *Service {
	svc := NewService(config.Config{})
	svc.Connector = func(config.Config, session.Credential) (Client, error) {
		return mock, nil
	}
	return svc
}

func testCred() session.Credential {
	return session.Credential{Email: "user@example.com", Password: "pw"}
}

func headerSectionKey() *imap.BodySectionName {
	return &imap.BodySectionName{BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier}}
}

func textSectionKey() *imap.BodySectionName {
	return &imap.BodySectionName{BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier}}
}

func summaryMessage(seq, uid uint32, header, body string) *imap.Message {
	return &imap.Message{
		SeqNum: seq,
		Uid:    uid,
		Flags:  []string{imap.SeenFlag},
		Body: map[*imap.BodySectionName]imap.Literal{
			headerSectionKey(): bytes.NewBufferString(header),
			textSectionKey():   bytes.NewBufferString(body),
		},
	}
}

func TestListMessagesNewestRange(t *testing.T) {
	mock := &mockClient{status: &imap.MailboxStatus{Messages: 100}}
	// Deliver out of order: evens first, then odds.
	for seq := uint32(51); seq <= 100; seq += 2 {
		header := fmt.Sprintf("From: a@example.com\r\nTo: b@example.com\r\nSubject: msg %d\r\nDate: Mon, 01 Jan 2024 00:00:00 +0000\r\n\r\n", seq)
		mock.messages = append(mock.messages, summaryMessage(seq+1, seq+1000, header, "preview"))
		mock.messages = append(mock.messages, summaryMessage(seq, seq+1000, header, "preview"))
	}

	svc := newTestService(mock)
	summaries, err := svc.ListMessages(context.Background(), testCred(), "INBOX", 50)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}

	if mock.fetchSeqSet != "51:100" {
		t.Fatalf("expected fetch range 51:100, got %q", mock.fetchSeqSet)
	}
	if !mock.selectedReadOnly {
		t.Fatal("list must open the folder read-only")
	}
	if len(summaries) != 50 {
		t.Fatalf("expected 50 summaries, got %d", len(summaries))
	}
	if summaries[0].SeqNum != 100 || summaries[49].SeqNum != 51 {
		t.Fatalf("unexpected bounds: first=%d last=%d", summaries[0].SeqNum, summaries[49].SeqNum)
	}
	for i := 1; i < len(summaries); i++ {
		if summaries[i].SeqNum >= summaries[i-1].SeqNum {
			t.Fatalf("summaries not strictly descending at %d", i)
		}
	}
	if !mock.loggedOut {
		t.Fatal("expected logout after the request")
	}
}

func TestListMessagesSmallMailbox(t *testing.T) {
	mock := &mockClient{status: &imap.MailboxStatus{Messages: 3}}
	for seq := uint32(1); seq <= 3; seq++ {
		header := fmt.Sprintf("From: a@example.com\r\nSubject: msg %d\r\n\r\n", seq)
		mock.messages = append(mock.messages, summaryMessage(seq, seq, header, "body"))
	}

	svc := newTestService(mock)
	summaries, err := svc.ListMessages(context.Background(), testCred(), "INBOX", 50)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}

	if mock.fetchSeqSet != "1:3" {
		t.Fatalf("expected fetch range 1:3, got %q", mock.fetchSeqSet)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(summaries))
	}
}

func TestListMessagesOversizedLimit(t *testing.T) {
	if math.MaxInt == math.MaxInt32 {
		t.Skip("limit cannot exceed 32 bits on this platform")
	}

	mock := &mockClient{status: &imap.MailboxStatus{Messages: 3}}
	for seq := uint32(1); seq <= 3; seq++ {
		header := fmt.Sprintf("From: a@example.com\r\nSubject: msg %d\r\n\r\n", seq)
		mock.messages = append(mock.messages, summaryMessage(seq, seq, header, "body"))
	}

	// A limit that truncates to 1 as uint32 must still cover the whole
	// mailbox.
	big := int64(1)<<32 + 1

	svc := newTestService(mock)
	summaries, err := svc.ListMessages(context.Background(), testCred(), "INBOX", int(big))
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}

	if mock.fetchSeqSet != "1:3" {
		t.Fatalf("expected fetch range 1:3, got %q", mock.fetchSeqSet)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(summaries))
	}
}

func TestListMessagesEmptyMailboxSkipsFetch(t *testing.T) {
	mock := &mockClient{status: &imap.MailboxStatus{Messages: 0}}

	svc := newTestService(mock)
	summaries, err := svc.ListMessages(context.Background(), testCred(), "INBOX", 50)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}

	if mock.fetchCalls != 0 {
		t.Fatal("no fetch may be issued for an empty mailbox")
	}
	if summaries == nil || len(summaries) != 0 {
		t.Fatalf("expected empty summaries, got %v", summaries)
	}
}

func TestListMessagesMissingHeaderFieldIsEmpty(t *testing.T) {
	mock := &mockClient{status: &imap.MailboxStatus{Messages: 1}}
	mock.messages = []*imap.Message{
		summaryMessage(1, 10, "From: a@example.com\r\nDate: Mon, 01 Jan 2024 00:00:00 +0000\r\n\r\n", "body"),
	}

	svc := newTestService(mock)
	summaries, err := svc.ListMessages(context.Background(), testCred(), "INBOX", 20)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}

	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if summaries[0].Subject != "" || summaries[0].To != "" {
		t.Fatalf("missing fields must be empty strings: %+v", summaries[0])
	}
	if summaries[0].From != "a@example.com" {
		t.Fatalf("unexpected from: %q", summaries[0].From)
	}
}

func TestListMessagesSplitDelivery(t *testing.T) {
	mock := &mockClient{status: &imap.MailboxStatus{Messages: 1}}
	// Attributes and header arrive in one delivery, the body text in another.
	first := &imap.Message{
		SeqNum: 1,
		Uid:    42,
		Flags:  []string{imap.FlaggedFlag},
		Body: map[*imap.BodySectionName]imap.Literal{
			headerSectionKey(): bytes.NewBufferString("From: a@example.com\r\nSubject: split\r\n\r\n"),
		},
	}
	second := &imap.Message{
		SeqNum: 1,
		Body: map[*imap.BodySectionName]imap.Literal{
			textSectionKey(): bytes.NewBufferString("late body"),
		},
	}
	mock.messages = []*imap.Message{first, second}

	svc := newTestService(mock)
	summaries, err := svc.ListMessages(context.Background(), testCred(), "INBOX", 20)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}

	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	got := summaries[0]
	if got.UID != 42 || got.Subject != "split" || got.Preview != "late body" {
		t.Fatalf("split delivery not merged: %+v", got)
	}
}

func TestListMessagesDropsIncompleteMessages(t *testing.T) {
	mock := &mockClient{status: &imap.MailboxStatus{Messages: 2}}
	complete := summaryMessage(2, 20, "From: a@example.com\r\nSubject: ok\r\n\r\n", "body")
	incomplete := &imap.Message{
		SeqNum: 1,
		Uid:    10,
		Body: map[*imap.BodySectionName]imap.Literal{
			headerSectionKey(): bytes.NewBufferString("From: a@example.com\r\n\r\n"),
		},
	}
	mock.messages = []*imap.Message{incomplete, complete}

	svc := newTestService(mock)
	summaries, err := svc.ListMessages(context.Background(), testCred(), "INBOX", 20)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}

	if len(summaries) != 1 || summaries[0].SeqNum != 2 {
		t.Fatalf("expected only the complete message, got %+v", summaries)
	}
}

func TestListMessagesFetchErrorDiscardsPartials(t *testing.T) {
	mock := &mockClient{status: &imap.MailboxStatus{Messages: 2}}
	mock.messages = []*imap.Message{
		summaryMessage(1, 10, "From: a@example.com\r\nSubject: one\r\n\r\n", "body"),
	}
	mock.fetchErr = errors.New("connection reset")

	svc := newTestService(mock)
	summaries, err := svc.ListMessages(context.Background(), testCred(), "INBOX", 20)

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if summaries != nil {
		t.Fatalf("partial results must be discarded, got %v", summaries)
	}
	if !mock.loggedOut {
		t.Fatal("expected logout after the failed request")
	}
}

func TestListMessagesBadFolder(t *testing.T) {
	mock := &mockClient{selectErr: errors.New("no such mailbox")}

	svc := newTestService(mock)
	_, err := svc.ListMessages(context.Background(), testCred(), "Nope", 20)

	var folderErr *FolderListError
	if !errors.As(err, &folderErr) {
		t.Fatalf("expected FolderListError, got %v", err)
	}
}

func TestListFoldersFlattensHierarchy(t *testing.T) {
	mock := &mockClient{boxes: []*imap.MailboxInfo{
		{Name: "INBOX", Delimiter: "/"},
		{Name: "Work", Delimiter: "/"},
		{Name: "Work/2024", Delimiter: "/"},
		{Name: "[Gmail]/Sent Mail", Delimiter: "/", Attributes: []string{"\\Sent"}},
	}}

	svc := newTestService(mock)
	folders, err := svc.ListFolders(context.Background(), testCred())
	if err != nil {
		t.Fatalf("list folders: %v", err)
	}

	if len(folders) != 4 {
		t.Fatalf("expected 4 folders, got %d", len(folders))
	}
	if folders[2].Path != "Work/2024" || folders[2].DisplayName != "2024" {
		t.Fatalf("unexpected nested folder: %+v", folders[2])
	}
	if folders[3].DisplayName != "Sent Mail" || len(folders[3].Attributes) != 1 {
		t.Fatalf("unexpected gmail folder: %+v", folders[3])
	}

	// Resolving the same hierarchy twice yields identical paths.
	again, err := svc.ListFolders(context.Background(), testCred())
	if err != nil {
		t.Fatalf("list folders again: %v", err)
	}
	for i := range folders {
		if folders[i].Path != again[i].Path {
			t.Fatalf("folder resolution not idempotent at %d", i)
		}
	}
}

func TestListFoldersError(t *testing.T) {
	mock := &mockClient{listErr: errors.New("list refused")}

	svc := newTestService(mock)
	_, err := svc.ListFolders(context.Background(), testCred())

	var folderErr *FolderListError
	if !errors.As(err, &folderErr) {
		t.Fatalf("expected FolderListError, got %v", err)
	}
}

func TestGetMessageParsesDetail(t *testing.T) {
	raw := "From: Alice <alice@example.com>\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: Hello\r\n" +
		"Date: Mon, 01 Jan 2024 10:00:00 +0000\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=outer\r\n" +
		"\r\n" +
		"--outer\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain body\r\n" +
		"--outer\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
		"\r\n" +
		"fake pdf bytes\r\n" +
		"--outer--\r\n"

	mock := &mockClient{
		uidMessages: []*imap.Message{{
			SeqNum: 1,
			Uid:    7,
			Body: map[*imap.BodySectionName]imap.Literal{
				{}: bytes.NewBufferString(raw),
			},
		}},
	}

	svc := newTestService(mock)
	detail, err := svc.GetMessage(context.Background(), testCred(), "INBOX", 7)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}

	if mock.uidFetchSeqSet != "7" {
		t.Fatalf("expected uid fetch of 7, got %q", mock.uidFetchSeqSet)
	}
	if !mock.selectedReadOnly {
		t.Fatal("detail fetch must open the folder read-only")
	}
	if detail.UID != 7 {
		t.Fatalf("unexpected uid: %d", detail.UID)
	}
	if detail.From != "Alice <alice@example.com>" || detail.To != "bob@example.com" {
		t.Fatalf("unexpected participants: %q / %q", detail.From, detail.To)
	}
	if detail.Subject != "Hello" {
		t.Fatalf("unexpected subject: %q", detail.Subject)
	}
	if detail.Text != "plain body" {
		t.Fatalf("unexpected text body: %q", detail.Text)
	}
	if len(detail.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(detail.Attachments))
	}
	att := detail.Attachments[0]
	if att.Filename != "report.pdf" || att.ContentType != "application/pdf" || att.Size == 0 {
		t.Fatalf("unexpected attachment metadata: %+v", att)
	}
}

func TestGetMessageNotFound(t *testing.T) {
	mock := &mockClient{}

	svc := newTestService(mock)
	_, err := svc.GetMessage(context.Background(), testCred(), "INBOX", 99)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMessageFlagsThenPurges(t *testing.T) {
	mock := &mockClient{}

	svc := newTestService(mock)
	if err := svc.DeleteMessage(context.Background(), testCred(), "INBOX", 5); err != nil {
		t.Fatalf("delete message: %v", err)
	}

	if mock.selectedReadOnly {
		t.Fatal("delete must open the folder read-write")
	}
	if mock.storedSeqSet != "5" {
		t.Fatalf("expected store on uid 5, got %q", mock.storedSeqSet)
	}
	flags, ok := mock.storedValue.([]interface{})
	if !ok || len(flags) != 1 || flags[0] != imap.DeletedFlag {
		t.Fatalf("expected deleted flag, got %v", mock.storedValue)
	}
	if !mock.expungeCalled {
		t.Fatal("expected expunge after flagging")
	}
}

func TestDeleteMessageFlagFailure(t *testing.T) {
	mock := &mockClient{storeErr: errors.New("store rejected")}

	svc := newTestService(mock)
	err := svc.DeleteMessage(context.Background(), testCred(), "INBOX", 5)

	var deleteErr *DeleteError
	if !errors.As(err, &deleteErr) || deleteErr.Stage != DeleteStageFlag {
		t.Fatalf("expected flag-stage DeleteError, got %v", err)
	}
	if mock.expungeCalled {
		t.Fatal("expunge must not run after a failed flag")
	}
}

func TestDeleteMessagePurgeFailure(t *testing.T) {
	mock := &mockClient{expungeErr: errors.New("expunge rejected")}

	svc := newTestService(mock)
	err := svc.DeleteMessage(context.Background(), testCred(), "INBOX", 5)

	var deleteErr *DeleteError
	if !errors.As(err, &deleteErr) || deleteErr.Stage != DeleteStagePurge {
		t.Fatalf("expected purge-stage DeleteError, got %v", err)
	}
	// The message was flagged but not purged; the caller may retry.
	if mock.storedSeqSet != "5" {
		t.Fatal("expected the flag step to have run")
	}
}

func TestConnectionErrorPropagates(t *testing.T) {
	svc := NewService(config.Config{})
	svc.Connector = func(config.Config, session.Credential) (Client, error) {
		return nil, &ConnectionError{Auth: true, Err: errors.New("bad credentials")}
	}

	_, err := svc.ListMessages(context.Background(), testCred(), "INBOX", 20)

	var connErr *ConnectionError
	if !errors.As(err, &connErr) || !connErr.Auth {
		t.Fatalf("expected auth ConnectionError, got %v", err)
	}
}
