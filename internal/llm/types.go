// Package llm provides the classifier client layer: configuration,
// a retrying HTTP transport, and the provider-agnostic classification
// contract.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrMalformedResult indicates the model returned output that does not
// satisfy the JSON contract. The batch that produced it is lost and the
// run fails.
var ErrMalformedResult = errors.New("malformed classification result")

// Email is a single email presented to the classifier.
type Email struct {
	ID       string    `json:"id"`
	RFC822ID string    `json:"rfc822Id,omitempty"`
	Sender   string    `json:"sender"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	Date     time.Time `json:"date"`
}

// Thread is a conversation presented to the classifier.
type Thread struct {
	ThreadID string  `json:"threadId"`
	Subject  string  `json:"subject"`
	Emails   []Email `json:"emails"`
}

// Topics is the user's classification configuration.
type Topics struct {
	MustDo        []string
	MustKnow      []string
	MustDoOther   bool
	MustKnowOther bool
}

// Finding is one classified email.
type Finding struct {
	EmailID      string `json:"emailId"`
	RFC822ID     string `json:"rfc822Id,omitempty"`
	Subject      string `json:"subject"`
	Sender       string `json:"sender"`
	Topic        string `json:"topic"`
	KeyAction    string `json:"keyAction,omitempty"`
	KeyKnowledge string `json:"keyKnowledge,omitempty"`
	Date         string `json:"date,omitempty"`
}

// Result is the structured classification output for one batch.
type Result struct {
	MustDo   []Finding `json:"mustDo"`
	MustKnow []Finding `json:"mustKnow"`
}

// Classifier classifies a batch of threads against the configured topics.
// Implementations must return a structurally valid Result or an error.
type Classifier interface {
	Classify(ctx context.Context, batch []Thread, topics Topics) (Result, error)
}
