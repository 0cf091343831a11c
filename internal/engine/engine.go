// Package engine implements the triage orchestration core: a persistent
// state machine driven by timer wake-ups. Two workflows cooperate under a
// single-writer lock: an on-demand active scan processed in fixed-size
// chunks, and an hourly passive scan feeding the daily digest. All
// progress lives in the KV store so the engine survives process death
// between wake-ups.
package engine

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/llm"
	"github.com/mailsift/mailsift/internal/logger"
	"github.com/mailsift/mailsift/internal/mailer"
	"github.com/mailsift/mailsift/internal/mailstore"
	"github.com/mailsift/mailsift/internal/persistence"
	"github.com/mailsift/mailsift/internal/trigger"
)

// Deps are the injected capabilities the engine consumes.
type Deps struct {
	KV         persistence.KVStore
	Blobs      persistence.BlobStore
	Mail       mailstore.Store
	Classifier llm.Classifier
	Mailer     mailer.Mailer
	Triggers   trigger.Service
	Clock      clockwork.Clock
}

// Engine is the orchestration core. It holds no authoritative state in
// memory; every method reloads what it needs from the KV store.
type Engine struct {
	cfg        *config.Config
	kv         persistence.KVStore
	blobs      persistence.BlobStore
	mail       mailstore.Store
	classifier llm.Classifier
	mailer     mailer.Mailer
	triggers   trigger.Service
	clock      clockwork.Clock
}

// New creates an Engine. Clock defaults to the real clock.
func New(cfg *config.Config, deps Deps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		cfg:        cfg,
		kv:         deps.KV,
		blobs:      deps.Blobs,
		mail:       deps.Mail,
		classifier: deps.Classifier,
		mailer:     deps.Mailer,
		triggers:   deps.Triggers,
		clock:      clock,
	}
}

// notify sends a terminal-transition email. Failures are logged and
// swallowed: notification is best effort and must never mask the state
// transition that triggered it.
func (e *Engine) notify(ctx context.Context, subject, body string) {
	if e.cfg.Global.UserEmail == "" {
		return
	}
	if err := e.mailer.Send(ctx, e.cfg.Global.UserEmail, subject, body, e.cfg.Global.AddonName); err != nil {
		logger.Warn(ctx, "failed to send notification email", "subject", subject, "err", err)
	}
}
