package imap

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that the requested UID does not exist in the folder.
var ErrNotFound = errors.New("message not found")

// ConnectionError covers failures establishing the protocol session. Auth
// distinguishes a rejected login from a transport problem; neither is
// retried, a second login attempt after a rejection risks a provider
// lockout.
type ConnectionError struct {
	Auth bool
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Auth {
		return fmt.Sprintf("imap login rejected: %v", e.Err)
	}
	return fmt.Sprintf("imap connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FolderListError covers mailbox resolution failures, including opening a
// folder that does not exist.
type FolderListError struct {
	Err error
}

func (e *FolderListError) Error() string { return fmt.Sprintf("list folders: %v", e.Err) }
func (e *FolderListError) Unwrap() error { return e.Err }

// FetchError covers transport failures during a message fetch. Partial
// results are always discarded.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch messages: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports malformed message content.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse message: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

type DeleteStage string

const (
	DeleteStageFlag  DeleteStage = "flag"
	DeleteStagePurge DeleteStage = "purge"
)

// DeleteError reports which step of the flag-then-purge sequence failed. A
// purge failure after a successful flag leaves the message flagged but
// present; the purge can be retried.
type DeleteError struct {
	Stage DeleteStage
	Err   error
}

func (e *DeleteError) Error() string { return fmt.Sprintf("delete message (%s): %v", e.Stage, e.Err) }
func (e *DeleteError) Unwrap() error { return e.Err }
