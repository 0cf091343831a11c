// Package mailstore abstracts the mail provider: searching threads by
// query, reading messages, and applying labels / read-marks / archival.
package mailstore

import (
	"context"
	"errors"
	"time"
)

// ErrMessageNotFound indicates no message matched the given identifier.
var ErrMessageNotFound = errors.New("message not found")

// Message is a single email within a thread.
type Message struct {
	ID        string
	RFC822ID  string
	From      string
	Subject   string
	Date      time.Time
	PlainBody string
	Unread    bool
	Starred   bool
	Important bool
}

// Thread is a conversation as returned by Search. Labels holds
// user-applied label names; provider-internal system labels are not
// included.
type Thread struct {
	ID           string
	FirstSubject string
	Labels       []string
	Inbox        bool
	Messages     []Message
}

// HasStarred reports whether any message in the thread is starred.
func (t Thread) HasStarred() bool {
	for _, m := range t.Messages {
		if m.Starred {
			return true
		}
	}
	return false
}

// HasImportant reports whether the provider flagged any message important.
func (t Thread) HasImportant() bool {
	for _, m := range t.Messages {
		if m.Important {
			return true
		}
	}
	return false
}

// Store is the mail provider capability consumed by the engine.
type Store interface {
	// Search returns up to limit threads matching the query, most recent
	// first.
	Search(ctx context.Context, query string, limit int) ([]Thread, error)

	// FindByRFC822ID resolves a message by its RFC-822 message id.
	FindByRFC822ID(ctx context.Context, rfc822ID string) (*Message, error)

	// AddLabel applies a label to a single message.
	AddLabel(ctx context.Context, messageID, label string) error

	// AddThreadLabel applies a label to a whole thread.
	AddThreadLabel(ctx context.Context, threadID, label string) error

	// MarkRead marks a message as read.
	MarkRead(ctx context.Context, messageID string) error

	// RemoveFromInbox archives the thread.
	RemoveFromInbox(ctx context.Context, threadID string) error
}
