// Package gmail implements mailstore.Store against the Gmail REST API.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mailsift/mailsift/internal/logger"
	"github.com/mailsift/mailsift/internal/mailstore"
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

// System label ids used by the adapter.
const (
	labelUnread    = "UNREAD"
	labelInbox     = "INBOX"
	labelStarred   = "STARRED"
	labelImportant = "IMPORTANT"
)

var _ mailstore.Store = (*Store)(nil)

// Store talks to the Gmail API for a single authenticated user ("me").
type Store struct {
	client *resty.Client

	mu         sync.Mutex
	labels     map[string]label // name -> label
	labelsByID map[string]label
}

// Config configures the Gmail adapter.
type Config struct {
	// AccessToken is the OAuth bearer token.
	AccessToken string
	// BaseURL overrides the API endpoint, used in tests.
	BaseURL string
	// Timeout applies per request.
	Timeout time.Duration
}

// New creates a Gmail-backed Store.
func New(cfg Config) (*Store, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("gmail access token is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(cfg.AccessToken).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &Store{client: client}, nil
}

type label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type threadRef struct {
	ID string `json:"id"`
}

type threadList struct {
	Threads []threadRef `json:"threads"`
}

type header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type messagePart struct {
	MimeType string        `json:"mimeType"`
	Headers  []header      `json:"headers"`
	Body     partBody      `json:"body"`
	Parts    []messagePart `json:"parts"`
}

type partBody struct {
	Data string `json:"data"`
}

type apiMessage struct {
	ID           string      `json:"id"`
	ThreadID     string      `json:"threadId"`
	LabelIDs     []string    `json:"labelIds"`
	InternalDate string      `json:"internalDate"`
	Payload      messagePart `json:"payload"`
}

type apiThread struct {
	ID       string       `json:"id"`
	Messages []apiMessage `json:"messages"`
}

type messageList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Search returns up to limit threads matching the query.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]mailstore.Thread, error) {
	params := map[string]string{"q": query}
	if limit > 0 {
		params["maxResults"] = strconv.Itoa(limit)
	}

	var list threadList
	if err := s.get(ctx, "/users/me/threads", params, &list); err != nil {
		return nil, fmt.Errorf("thread search failed: %w", err)
	}

	byID, err := s.labelIndex(ctx)
	if err != nil {
		return nil, err
	}

	threads := make([]mailstore.Thread, 0, len(list.Threads))
	for _, ref := range list.Threads {
		var at apiThread
		if err := s.get(ctx, "/users/me/threads/"+ref.ID, map[string]string{"format": "full"}, &at); err != nil {
			return nil, fmt.Errorf("failed to fetch thread %s: %w", ref.ID, err)
		}
		threads = append(threads, convertThread(at, byID))
	}
	return threads, nil
}

// FindByRFC822ID resolves a message by its RFC-822 message id.
func (s *Store) FindByRFC822ID(ctx context.Context, rfc822ID string) (*mailstore.Message, error) {
	var list messageList
	q := mailstore.Query{RFC822ID: rfc822ID}
	if err := s.get(ctx, "/users/me/messages", map[string]string{"q": q.String(), "maxResults": "1"}, &list); err != nil {
		return nil, fmt.Errorf("rfc822 lookup failed: %w", err)
	}
	if len(list.Messages) == 0 {
		return nil, mailstore.ErrMessageNotFound
	}

	var am apiMessage
	if err := s.get(ctx, "/users/me/messages/"+list.Messages[0].ID, map[string]string{"format": "full"}, &am); err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", list.Messages[0].ID, err)
	}
	m := convertMessage(am)
	return &m, nil
}

// AddLabel applies a label to a single message, creating the label if it
// does not exist yet.
func (s *Store) AddLabel(ctx context.Context, messageID, name string) error {
	id, err := s.ensureLabel(ctx, name)
	if err != nil {
		return err
	}
	return s.modify(ctx, "/users/me/messages/"+messageID+"/modify", []string{id}, nil)
}

// AddThreadLabel applies a label to a whole thread.
func (s *Store) AddThreadLabel(ctx context.Context, threadID, name string) error {
	id, err := s.ensureLabel(ctx, name)
	if err != nil {
		return err
	}
	return s.modify(ctx, "/users/me/threads/"+threadID+"/modify", []string{id}, nil)
}

// MarkRead marks a message as read.
func (s *Store) MarkRead(ctx context.Context, messageID string) error {
	return s.modify(ctx, "/users/me/messages/"+messageID+"/modify", nil, []string{labelUnread})
}

// RemoveFromInbox archives the thread.
func (s *Store) RemoveFromInbox(ctx context.Context, threadID string) error {
	return s.modify(ctx, "/users/me/threads/"+threadID+"/modify", nil, []string{labelInbox})
}

func (s *Store) get(ctx context.Context, path string, params map[string]string, out any) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(out).
		Get(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("gmail api %s: %s", path, resp.Status())
	}
	return nil
}

func (s *Store) modify(ctx context.Context, path string, add, remove []string) error {
	body := map[string][]string{}
	if len(add) > 0 {
		body["addLabelIds"] = add
	}
	if len(remove) > 0 {
		body["removeLabelIds"] = remove
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("gmail api %s: %s", path, resp.Status())
	}
	return nil
}

// labelIndex returns the id-indexed label map, fetching it once.
func (s *Store) labelIndex(ctx context.Context) (map[string]label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.labelsByID != nil {
		return s.labelsByID, nil
	}
	var out struct {
		Labels []label `json:"labels"`
	}
	if err := s.get(ctx, "/users/me/labels", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	s.labels = make(map[string]label, len(out.Labels))
	s.labelsByID = make(map[string]label, len(out.Labels))
	for _, l := range out.Labels {
		s.labels[l.Name] = l
		s.labelsByID[l.ID] = l
	}
	return s.labelsByID, nil
}

// ensureLabel resolves a label name to its id, creating the label when
// missing.
func (s *Store) ensureLabel(ctx context.Context, name string) (string, error) {
	if _, err := s.labelIndex(ctx); err != nil {
		return "", err
	}

	s.mu.Lock()
	if l, ok := s.labels[name]; ok {
		s.mu.Unlock()
		return l.ID, nil
	}
	s.mu.Unlock()

	var created label
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": name}).
		SetResult(&created).
		Post("/users/me/labels")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("failed to create label %q: %s", name, resp.Status())
	}

	logger.Info(ctx, "created label", "name", name, "id", created.ID)

	s.mu.Lock()
	s.labels[name] = created
	s.labelsByID[created.ID] = created
	s.mu.Unlock()
	return created.ID, nil
}

func convertThread(at apiThread, labelsByID map[string]label) mailstore.Thread {
	t := mailstore.Thread{ID: at.ID}
	userLabels := map[string]struct{}{}
	for i, am := range at.Messages {
		m := convertMessage(am)
		if i == 0 {
			t.FirstSubject = m.Subject
		}
		for _, id := range am.LabelIDs {
			if id == labelInbox {
				t.Inbox = true
			}
			if l, ok := labelsByID[id]; ok && l.Type == "user" {
				userLabels[l.Name] = struct{}{}
			}
		}
		t.Messages = append(t.Messages, m)
	}
	for name := range userLabels {
		t.Labels = append(t.Labels, name)
	}
	return t
}

func convertMessage(am apiMessage) mailstore.Message {
	m := mailstore.Message{ID: am.ID}
	for _, id := range am.LabelIDs {
		switch id {
		case labelUnread:
			m.Unread = true
		case labelStarred:
			m.Starred = true
		case labelImportant:
			m.Important = true
		}
	}
	if ms, err := strconv.ParseInt(am.InternalDate, 10, 64); err == nil {
		m.Date = time.UnixMilli(ms)
	}
	for _, h := range am.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			m.From = h.Value
		case "subject":
			m.Subject = h.Value
		case "message-id":
			m.RFC822ID = strings.Trim(h.Value, "<>")
		}
	}
	m.PlainBody = extractPlainBody(am.Payload)
	return m
}

// extractPlainBody walks the MIME tree for the first text/plain part.
func extractPlainBody(p messagePart) string {
	if strings.HasPrefix(p.MimeType, "text/plain") && p.Body.Data != "" {
		if data, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(p.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, part := range p.Parts {
		if body := extractPlainBody(part); body != "" {
			return body
		}
	}
	return ""
}
