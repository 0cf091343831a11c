// Package config loads and validates the application configuration.
package config

import (
	"errors"
	"time"
)

// Errors reported by Config.CheckComplete. The passive workflow silently
// skips on an incomplete config; the active workflow surfaces the error.
var (
	ErrMissingAPIKey    = errors.New("llm api key is not configured")
	ErrMissingUserEmail = errors.New("user email is not configured")
)

// Config is the fully validated application configuration.
type Config struct {
	Global Global
	Triage Triage
	SMTP   SMTP
	Gmail  Gmail
	LLM    LLM
	Server Server
	Paths  Paths
}

// Global holds settings that apply across the application.
type Global struct {
	Debug     bool
	LogFormat string
	AddonName string
	UserEmail string

	// TZ is the IANA timezone name; Location is its resolved form and is
	// never nil after loading.
	TZ       string
	Location *time.Location

	// DispatcherInterval is the recurring trigger cadence. The host
	// grammar treats one hour as the lower bound.
	DispatcherInterval time.Duration
}

// Triage holds the classification and side-effect policy.
type Triage struct {
	MustDoTopics   []string
	MustKnowTopics []string
	MustDoOther    bool
	MustKnowOther  bool

	UnreadOnly bool
	InboxOnly  bool

	MustDoLabel   string
	MustKnowLabel string

	MarkProcessedAsRead          bool
	RemoveUninterestingFromInbox bool
}

// SMTP configures the notification mailer.
type SMTP struct {
	Host     string
	Port     string
	Username string
	Password string
}

// Gmail configures the mail provider adapter.
type Gmail struct {
	AccessToken string
	BaseURL     string
}

// LLM configures the classifier client.
type LLM struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Server configures the HTTP frontend.
type Server struct {
	Host string
	Port int
}

// Paths holds resolved filesystem locations.
type Paths struct {
	DataDir string
	LogDir  string
}

// CheckComplete reports whether scanning can run at all.
func (c *Config) CheckComplete() error {
	if c.LLM.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Global.UserEmail == "" {
		return ErrMissingUserEmail
	}
	return nil
}

// IsComplete is CheckComplete as a predicate.
func (c *Config) IsComplete() bool {
	return c.CheckComplete() == nil
}
