package mailstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store used for local runs and tests. It
// applies the same query semantics the provider adapters do and records
// mutations so tests can assert on side effects.
type MemoryStore struct {
	mu      sync.Mutex
	threads map[string]*Thread

	// Mutation log, exported for assertions.
	Labeled  map[string][]string // message id -> labels applied
	ReadIDs  []string
	Archived []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]*Thread),
		Labeled: make(map[string][]string),
	}
}

// Put adds or replaces a thread.
func (s *MemoryStore) Put(t Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	cp.Messages = append([]Message(nil), t.Messages...)
	s.threads[t.ID] = &cp
}

// Search returns threads with at least one message matching the query,
// most recent first by latest message date.
func (s *MemoryStore) Search(_ context.Context, query string, limit int) ([]Thread, error) {
	q, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Thread
	for _, t := range s.threads {
		if q.InboxOnly && !t.Inbox {
			continue
		}
		matched := lo.Filter(t.Messages, func(m Message, _ int) bool {
			return q.MatchesMessage(m)
		})
		if len(q.Terms) > 0 && !threadMatchesTerms(*t, q.Terms) {
			continue
		}
		if len(matched) == 0 {
			continue
		}
		cp := *t
		cp.Messages = matched
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return latestDate(out[i]).After(latestDate(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindByRFC822ID resolves a message by its RFC-822 id.
func (s *MemoryStore) FindByRFC822ID(_ context.Context, rfc822ID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		for _, m := range t.Messages {
			if m.RFC822ID == rfc822ID {
				cp := m
				return &cp, nil
			}
		}
	}
	return nil, ErrMessageNotFound
}

// AddLabel applies a label to a single message.
func (s *MemoryStore) AddLabel(_ context.Context, messageID, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		for _, m := range t.Messages {
			if m.ID == messageID {
				s.Labeled[messageID] = append(s.Labeled[messageID], label)
				return nil
			}
		}
	}
	return ErrMessageNotFound
}

// AddThreadLabel applies a label to a whole thread.
func (s *MemoryStore) AddThreadLabel(_ context.Context, threadID, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return ErrMessageNotFound
	}
	t.Labels = append(t.Labels, label)
	s.Labeled[threadID] = append(s.Labeled[threadID], label)
	return nil
}

// MarkRead marks a message as read.
func (s *MemoryStore) MarkRead(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		for i := range t.Messages {
			if t.Messages[i].ID == messageID {
				t.Messages[i].Unread = false
				s.ReadIDs = append(s.ReadIDs, messageID)
				return nil
			}
		}
	}
	return ErrMessageNotFound
}

// RemoveFromInbox archives the thread.
func (s *MemoryStore) RemoveFromInbox(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return ErrMessageNotFound
	}
	t.Inbox = false
	s.Archived = append(s.Archived, threadID)
	return nil
}

func threadMatchesTerms(t Thread, terms []string) bool {
	for _, term := range terms {
		found := false
		for _, m := range t.Messages {
			if containsFold(m.Subject, term) || containsFold(m.PlainBody, term) || containsFold(m.From, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func latestDate(t Thread) time.Time {
	var latest time.Time
	for _, m := range t.Messages {
		if m.Date.After(latest) {
			latest = m.Date
		}
	}
	return latest
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
