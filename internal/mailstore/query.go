package mailstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Query is the parsed form of the provider search grammar. The grammar
// recognised is the subset the engine emits: after:<unix>, before:<unix>,
// is:unread, in:inbox, rfc822msgid:<id>, plus free-text terms.
type Query struct {
	After     time.Time
	Before    time.Time
	Unread    bool
	InboxOnly bool
	RFC822ID  string
	Terms     []string
}

// ParseQuery parses a query string. Unknown operators are treated as
// free-text terms, matching provider behaviour.
func ParseQuery(q string) (Query, error) {
	var out Query
	for _, tok := range strings.Fields(q) {
		switch {
		case strings.HasPrefix(tok, "after:"):
			ts, err := parseUnix(strings.TrimPrefix(tok, "after:"))
			if err != nil {
				return Query{}, fmt.Errorf("invalid after: operand %q: %w", tok, err)
			}
			out.After = ts
		case strings.HasPrefix(tok, "before:"):
			ts, err := parseUnix(strings.TrimPrefix(tok, "before:"))
			if err != nil {
				return Query{}, fmt.Errorf("invalid before: operand %q: %w", tok, err)
			}
			out.Before = ts
		case tok == "is:unread":
			out.Unread = true
		case tok == "in:inbox":
			out.InboxOnly = true
		case strings.HasPrefix(tok, "rfc822msgid:"):
			out.RFC822ID = strings.TrimPrefix(tok, "rfc822msgid:")
		default:
			out.Terms = append(out.Terms, tok)
		}
	}
	return out, nil
}

// String renders the query back into provider syntax.
func (q Query) String() string {
	var parts []string
	if !q.After.IsZero() {
		parts = append(parts, fmt.Sprintf("after:%d", q.After.Unix()))
	}
	if !q.Before.IsZero() {
		parts = append(parts, fmt.Sprintf("before:%d", q.Before.Unix()))
	}
	if q.Unread {
		parts = append(parts, "is:unread")
	}
	if q.InboxOnly {
		parts = append(parts, "in:inbox")
	}
	if q.RFC822ID != "" {
		parts = append(parts, "rfc822msgid:"+q.RFC822ID)
	}
	parts = append(parts, q.Terms...)
	return strings.Join(parts, " ")
}

// MatchesMessage reports whether the message satisfies the query's
// message-level predicates.
func (q Query) MatchesMessage(m Message) bool {
	if !q.After.IsZero() && m.Date.Before(q.After) {
		return false
	}
	if !q.Before.IsZero() && !m.Date.Before(q.Before) {
		return false
	}
	if q.Unread && !m.Unread {
		return false
	}
	if q.RFC822ID != "" && m.RFC822ID != q.RFC822ID {
		return false
	}
	return true
}

func parseUnix(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
