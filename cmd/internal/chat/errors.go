package chat

import (
	"errors"
	"fmt"
)

// Validation and permission sentinels. These are recoverable without I/O:
// the session layer checks them before touching the repository.
var (
	// ErrEmptyBody rejects a message whose body is empty after trimming.
	ErrEmptyBody = errors.New("chat: empty message body")

	// ErrAnnouncementLocked rejects a post into an announcement-mode chat
	// by anyone other than the owner.
	ErrAnnouncementLocked = errors.New("chat: announcement-locked: only the owner may post")

	// ErrNotAdmin rejects delete/add-member requests from non-admins.
	ErrNotAdmin = errors.New("chat: operation requires admin role")

	// ErrNotMember rejects reads/writes by users outside the chat.
	ErrNotMember = errors.New("chat: user is not a member of this chat")

	// ErrChatNotFound is returned when the target chat does not exist.
	ErrChatNotFound = errors.New("chat: chat not found")

	// ErrMessageNotFound is returned when the target message does not exist.
	ErrMessageNotFound = errors.New("chat: message not found")

	// ErrInvalidReaction rejects unknown reaction kinds.
	ErrInvalidReaction = errors.New("chat: invalid reaction kind")
)

var errInvalidInput = errors.New("invalid input")

// RepositoryError wraps a storage or connectivity failure. Callers surface
// these as retryable: local display state must be left untouched when one is
// returned.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("chat: repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// Retryable reports whether err is a repository failure worth retrying.
// Validation and permission errors are deliberately not retryable.
func Retryable(err error) bool {
	var re *RepositoryError
	return errors.As(err, &re)
}

// repoErr wraps err as a RepositoryError unless it already carries domain
// meaning (sentinels pass through unchanged).
func repoErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		ErrEmptyBody, ErrAnnouncementLocked, ErrNotAdmin, ErrNotMember,
		ErrChatNotFound, ErrMessageNotFound, ErrInvalidReaction,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return &RepositoryError{Op: op, Err: err}
}
