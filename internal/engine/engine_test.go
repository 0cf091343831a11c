package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/llm"
	"github.com/mailsift/mailsift/internal/mailstore"
	"github.com/mailsift/mailsift/internal/persistence/fileblob"
	"github.com/mailsift/mailsift/internal/persistence/filekv"
	"github.com/mailsift/mailsift/internal/stringutil"
	"github.com/mailsift/mailsift/internal/trigger"
)

type scriptedClassifier struct {
	mu      sync.Mutex
	results []llm.Result
	err     error
	calls   int
}

func (c *scriptedClassifier) Classify(_ context.Context, _ []llm.Thread, _ llm.Topics) (llm.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return llm.Result{}, c.err
	}
	if len(c.results) == 0 {
		return llm.Result{}, nil
	}
	r := c.results[0]
	c.results = c.results[1:]
	return r, nil
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type recordingMailer struct {
	mu       sync.Mutex
	sent     []sentMail
	failWith error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, htmlBody, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: htmlBody})
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *recordingMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type testEnv struct {
	eng        *Engine
	cfg        *config.Config
	mail       *mailstore.MemoryStore
	classifier *scriptedClassifier
	mailer     *recordingMailer
	triggers   *trigger.MemoryService
	clock      *clockwork.FakeClock
}

func testConfig(loc *time.Location) *config.Config {
	return &config.Config{
		Global: config.Global{
			AddonName:          "MailSift",
			UserEmail:          "user@example.com",
			TZ:                 loc.String(),
			Location:           loc,
			DispatcherInterval: time.Hour,
		},
		Triage: config.Triage{
			MustDoTopics:        []string{"invoices"},
			MustKnowTopics:      []string{"announcements"},
			MustDoLabel:         "MustDo",
			MustKnowLabel:       "MustKnow",
			MarkProcessedAsRead: true,
		},
		LLM: config.LLM{APIKey: "test-key"},
	}
}

func newTestEnv(t *testing.T, now time.Time, loc *time.Location) *testEnv {
	t.Helper()

	kv, err := filekv.New(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	blobs, err := fileblob.New(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		cfg:        testConfig(loc),
		mail:       mailstore.NewMemoryStore(),
		classifier: &scriptedClassifier{},
		mailer:     &recordingMailer{},
		triggers:   trigger.NewMemoryService(),
		clock:      clockwork.NewFakeClockAt(now),
	}
	env.eng = New(env.cfg, Deps{
		KV:         kv,
		Blobs:      blobs,
		Mail:       env.mail,
		Classifier: env.classifier,
		Mailer:     env.mailer,
		Triggers:   env.triggers,
		Clock:      env.clock,
	})
	return env
}

func inboxThread(id string, msgs ...mailstore.Message) mailstore.Thread {
	return mailstore.Thread{
		ID:           id,
		FirstSubject: msgs[0].Subject,
		Inbox:        true,
		Messages:     msgs,
	}
}

func message(id, from, subject string, date time.Time) mailstore.Message {
	return mailstore.Message{
		ID:      id,
		From:    from,
		Subject: subject,
		Date:    date,
		Unread:  true,
	}
}

func mustDoFinding(emailID string) llm.Finding {
	return llm.Finding{
		EmailID:   emailID,
		Subject:   "subject of " + emailID,
		Sender:    "sender@example.com",
		Topic:     "invoices",
		KeyAction: "pay it",
	}
}

func TestStart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("initializes chunk state and kickoff trigger", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)

		require.NoError(t, env.eng.Start(ctx, "7days"))

		assert.True(t, env.triggers.Has(KickoffTriggerName))
		assert.False(t, env.triggers.Has(DispatcherTriggerName))

		snap, err := env.eng.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, "running", snap.Status)
		assert.Equal(t, 0, snap.ChunkIndex)
		assert.Equal(t, 4, snap.ChunkTotal)
		assert.Equal(t, "7days", snap.TimeRange)

		rec, held, err := env.eng.readLock(ctx)
		require.NoError(t, err)
		require.True(t, held)
		assert.Equal(t, LockActive, rec.Kind)
	})

	t.Run("refuses while passive lock is held", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		require.NoError(t, env.eng.writeLock(ctx, lockRecord{Kind: LockPassive, AcquiredAt: now}))

		err := env.eng.Start(ctx, "1day")
		require.ErrorIs(t, err, ErrLockConflict)
		assert.Contains(t, err.Error(), "another passive workflow is already running")

		status, serr := env.eng.getStatus(ctx)
		require.NoError(t, serr)
		assert.Equal(t, StatusNone, status)
		assert.False(t, env.triggers.Has(KickoffTriggerName))
	})

	t.Run("rejects invalid time range", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		require.Error(t, env.eng.Start(ctx, "yesterday"))
	})

	t.Run("refuses on incomplete config", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		env.cfg.LLM.APIKey = ""
		require.ErrorIs(t, env.eng.Start(ctx, "1day"), config.ErrMissingAPIKey)
	})
}

func TestActiveRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("single chunk run completes with side effects", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		env.mail.Put(inboxThread("t1",
			message("m1", "billing@vendor.com", "Invoice due", now.Add(-2*time.Hour)),
		))
		env.classifier.results = []llm.Result{
			{MustDo: []llm.Finding{mustDoFinding("m1")}},
		}

		require.NoError(t, env.eng.Start(ctx, "1day"))
		require.NoError(t, env.triggers.Fire(ctx, KickoffTriggerName))

		snap, err := env.eng.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, "completed", snap.Status)

		_, held, err := env.eng.readLock(ctx)
		require.NoError(t, err)
		assert.False(t, held)
		assert.True(t, env.triggers.Has(DispatcherTriggerName))

		assert.Contains(t, env.mail.Labeled["m1"], "MustDo")
		assert.Contains(t, env.mail.ReadIDs, "m1")

		require.Equal(t, 1, env.mailer.count())
		assert.Contains(t, env.mailer.last().Subject, "scan complete")

		stats, ok, err := env.eng.LatestRunStats(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "completed", stats.Status)
		assert.Equal(t, 1, stats.Processed)
		assert.Equal(t, 1, stats.MustDo)
	})

	t.Run("seven day run advances one chunk per tick", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		env.mail.Put(inboxThread("t1",
			message("m1", "billing@vendor.com", "Invoice due", now.Add(-3*24*time.Hour)),
		))
		env.classifier.results = []llm.Result{
			{MustDo: []llm.Finding{mustDoFinding("m1")}},
		}

		require.NoError(t, env.eng.Start(ctx, "7days"))
		require.NoError(t, env.triggers.Fire(ctx, KickoffTriggerName))

		for i := 1; i < 4; i++ {
			snap, err := env.eng.Snapshot(ctx)
			require.NoError(t, err)
			require.Equal(t, "running", snap.Status)
			require.Equal(t, i, snap.ChunkIndex)
			env.eng.Tick(ctx)
		}

		snap, err := env.eng.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, "completed", snap.Status)

		stats, ok, err := env.eng.LatestRunStats(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 1, stats.Processed)
		assert.Equal(t, 1, stats.MustDo)
	})

	t.Run("classification error fails the run", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		env.mail.Put(inboxThread("t1",
			message("m1", "billing@vendor.com", "Invoice due", now.Add(-2*time.Hour)),
		))
		env.classifier.err = llm.ErrMalformedResult

		require.NoError(t, env.eng.Start(ctx, "1day"))
		require.NoError(t, env.triggers.Fire(ctx, KickoffTriggerName))

		snap, err := env.eng.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, "error", snap.Status)
		assert.Contains(t, snap.StatusMsg, "classification failed")

		_, held, err := env.eng.readLock(ctx)
		require.NoError(t, err)
		assert.False(t, held)
		assert.True(t, env.triggers.Has(DispatcherTriggerName))

		require.Equal(t, 1, env.mailer.count())
		assert.Contains(t, env.mailer.last().Subject, "scan failed")
	})

	t.Run("stale step after terminal state is a no-op", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		env.eng.Step(ctx)
		assert.Equal(t, 0, env.classifier.calls)
		assert.Equal(t, 0, env.mailer.count())
	})
}

func TestCheckAndHandleTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	seedRunning := func(t *testing.T, env *testEnv) {
		t.Helper()
		require.NoError(t, env.eng.kv.Set(ctx, keyStatus, StatusRunning.String()))
		require.NoError(t, env.eng.writeLock(ctx, lockRecord{Kind: LockActive, AcquiredAt: now}))
	}

	t.Run("does nothing when idle", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		fired, err := env.eng.CheckAndHandleTimeout(ctx, now)
		require.NoError(t, err)
		assert.False(t, fired)
	})

	t.Run("reaps a chunk running too long", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		seedRunning(t, env)
		require.NoError(t, env.eng.kv.Set(ctx, keyChunkStartedAt, stringutil.FormatTime(now.Add(-11*time.Minute))))

		fired, err := env.eng.CheckAndHandleTimeout(ctx, now)
		require.NoError(t, err)
		require.True(t, fired)

		status, err := env.eng.getStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusTimeout, status)

		_, held, err := env.eng.readLock(ctx)
		require.NoError(t, err)
		assert.False(t, held)

		require.Equal(t, 1, env.mailer.count())
		assert.Contains(t, env.mailer.last().Subject, "timed out")
	})

	t.Run("tolerates a chunk inside the budget", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		seedRunning(t, env)
		require.NoError(t, env.eng.kv.Set(ctx, keyChunkStartedAt, stringutil.FormatTime(now.Add(-5*time.Minute))))

		fired, err := env.eng.CheckAndHandleTimeout(ctx, now)
		require.NoError(t, err)
		assert.False(t, fired)

		status, err := env.eng.getStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, status)
	})

	t.Run("reaps a chunk that never started", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		seedRunning(t, env)
		require.NoError(t, env.eng.kv.Set(ctx, keyExpectedChunkStartBy, stringutil.FormatTime(now.Add(-time.Minute))))

		fired, err := env.eng.CheckAndHandleTimeout(ctx, now)
		require.NoError(t, err)
		require.True(t, fired)

		status, err := env.eng.getStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusTimeout, status)
	})

	t.Run("waits for a pending start inside its deadline", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		seedRunning(t, env)
		require.NoError(t, env.eng.kv.Set(ctx, keyExpectedChunkStartBy, stringutil.FormatTime(now.Add(time.Hour))))

		fired, err := env.eng.CheckAndHandleTimeout(ctx, now)
		require.NoError(t, err)
		assert.False(t, fired)
	})
}

func TestPassivePass(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	// 22:30 local, inside the digest window.
	est := time.FixedZone("EST", -5*3600)
	evening := time.Date(2024, 1, 15, 22, 30, 0, 0, est)

	t.Run("accumulates findings and sends the daily digest", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, evening, est)
		env.mail.Put(inboxThread("t1",
			message("m1", "billing@vendor.com", "Invoice due", evening.Add(-2*time.Hour)),
		))
		env.classifier.results = []llm.Result{
			{MustDo: []llm.Finding{mustDoFinding("m1")}},
		}

		require.NoError(t, env.eng.PassivePass(ctx))

		require.Equal(t, 1, env.mailer.count())
		assert.Contains(t, env.mailer.last().Subject, "daily digest")
		assert.Contains(t, env.mailer.last().Body, "subject of m1")

		date, ok, err := env.eng.kv.Get(ctx, keyPassiveLastSummaryDate)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "2024-01-15", date)

		acc, _, err := env.eng.loadAccumulator(ctx)
		require.NoError(t, err)
		assert.True(t, acc.IsEmpty())

		hw, ok, err := env.eng.getTime(ctx, keyPassiveLastMsgTs)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, hw.Equal(evening.Add(-2*time.Hour)))

		_, held, err := env.eng.readLock(ctx)
		require.NoError(t, err)
		assert.False(t, held)
	})

	t.Run("sends at most one digest per local day", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, evening, est)
		env.mail.Put(inboxThread("t1",
			message("m1", "billing@vendor.com", "Invoice due", evening.Add(-2*time.Hour)),
		))
		env.classifier.results = []llm.Result{
			{MustDo: []llm.Finding{mustDoFinding("m1")}},
			{MustKnow: []llm.Finding{{EmailID: "m2", Subject: "Town hall", Topic: "announcements", KeyKnowledge: "it moved"}}},
		}

		require.NoError(t, env.eng.PassivePass(ctx))
		require.Equal(t, 1, env.mailer.count())

		env.clock.Advance(65 * time.Minute)
		env.mail.Put(inboxThread("t2",
			message("m2", "hr@corp.com", "Town hall moved", env.clock.Now().Add(-10*time.Minute)),
		))

		require.NoError(t, env.eng.PassivePass(ctx))
		assert.Equal(t, 1, env.mailer.count())

		acc, _, err := env.eng.loadAccumulator(ctx)
		require.NoError(t, err)
		assert.False(t, acc.IsEmpty())
	})

	t.Run("holds the digest before the window opens", func(t *testing.T) {
		t.Parallel()
		beforeWindow := time.Date(2024, 1, 15, 20, 59, 0, 0, est)
		env := newTestEnv(t, beforeWindow, est)
		env.mail.Put(inboxThread("t1",
			message("m1", "billing@vendor.com", "Invoice due", beforeWindow.Add(-2*time.Hour)),
		))
		env.classifier.results = []llm.Result{
			{MustDo: []llm.Finding{mustDoFinding("m1")}},
		}

		require.NoError(t, env.eng.PassivePass(ctx))
		assert.Equal(t, 0, env.mailer.count())

		acc, _, err := env.eng.loadAccumulator(ctx)
		require.NoError(t, err)
		assert.False(t, acc.IsEmpty())

		_, ok, err := env.eng.kv.Get(ctx, keyPassiveLastSummaryDate)
		require.NoError(t, err)
		assert.False(t, ok)

		// At 21:00 the accumulated findings go out.
		env.clock.Advance(time.Minute)
		require.NoError(t, env.eng.PassivePass(ctx))
		require.Equal(t, 1, env.mailer.count())
		assert.Contains(t, env.mailer.last().Body, "subject of m1")
	})

	t.Run("send failure keeps the accumulator for retry", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, evening, est)
		env.mailer.failWith = errors.New("smtp unavailable")
		env.mail.Put(inboxThread("t1",
			message("m1", "billing@vendor.com", "Invoice due", evening.Add(-2*time.Hour)),
		))
		env.classifier.results = []llm.Result{
			{MustDo: []llm.Finding{mustDoFinding("m1")}},
		}

		require.Error(t, env.eng.PassivePass(ctx))

		acc, _, err := env.eng.loadAccumulator(ctx)
		require.NoError(t, err)
		assert.False(t, acc.IsEmpty())

		_, ok, err := env.eng.kv.Get(ctx, keyPassiveLastSummaryDate)
		require.NoError(t, err)
		assert.False(t, ok)

		// The lock must still be released on the error path.
		_, held, err := env.eng.readLock(ctx)
		require.NoError(t, err)
		assert.False(t, held)
	})

	t.Run("high-water mark never decreases", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, evening, est)
		later := evening.Add(-time.Hour)
		require.NoError(t, env.eng.kv.SetMany(ctx, map[string]*string{
			keyPassiveLastMsgTs: value(stringutil.FormatTime(later)),
			keyPassiveLastMsgID: value("m-old"),
		}))

		run := batchRun{EarliestTs: evening.Add(-3 * time.Hour), EarliestID: "m-older"}
		require.NoError(t, env.eng.advanceHighWater(ctx, run, later, true))

		hw, ok, err := env.eng.getTime(ctx, keyPassiveLastMsgTs)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, hw.Equal(later))
	})

	t.Run("skips when the window is empty", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, evening, est)
		require.NoError(t, env.eng.kv.Set(ctx, keyPassiveLastMsgTs, stringutil.FormatTime(evening)))

		require.NoError(t, env.eng.PassivePass(ctx))
		assert.Equal(t, 0, env.classifier.calls)
	})
}

func TestTick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("runs a passive pass when idle", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		env.mail.Put(inboxThread("t1",
			message("m1", "billing@vendor.com", "Invoice due", now.Add(-2*time.Hour)),
		))

		env.eng.Tick(ctx)
		assert.Equal(t, 1, env.classifier.calls)

		last, ok, err := env.eng.getTime(ctx, keyPassiveLastRunAt)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, last.Equal(now))
	})

	t.Run("enforces the hourly passive cadence", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		env.mail.Put(inboxThread("t1",
			message("m1", "billing@vendor.com", "Invoice due", now.Add(-2*time.Hour)),
		))

		env.eng.Tick(ctx)
		require.Equal(t, 1, env.classifier.calls)

		env.clock.Advance(30 * time.Minute)
		env.eng.Tick(ctx)
		assert.Equal(t, 1, env.classifier.calls)

		env.clock.Advance(31 * time.Minute)
		env.eng.Tick(ctx)
		assert.Equal(t, 2, env.classifier.calls)
	})

	t.Run("skips passive on incomplete config", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		env.cfg.LLM.APIKey = ""
		env.eng.Tick(ctx)
		assert.Equal(t, 0, env.classifier.calls)

		_, ok, err := env.eng.kv.Get(ctx, keyPassiveLastRunAt)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("leaves an executing chunk alone", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		require.NoError(t, env.eng.kv.Set(ctx, keyStatus, StatusRunning.String()))
		require.NoError(t, env.eng.kv.Set(ctx, keyChunkStartedAt, stringutil.FormatTime(now.Add(-time.Minute))))

		env.eng.Tick(ctx)
		assert.Equal(t, 0, env.classifier.calls)

		status, err := env.eng.getStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, status)
	})
}

func TestEnsureDispatcher(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	env := newTestEnv(t, now, time.UTC)
	require.NoError(t, env.eng.EnsureDispatcher(ctx))
	assert.True(t, env.triggers.Has(DispatcherTriggerName))

	// Idempotent.
	require.NoError(t, env.eng.EnsureDispatcher(ctx))

	names, err := env.triggers.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{DispatcherTriggerName}, names)
}

func TestLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("refresh of own kind succeeds", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		require.NoError(t, env.eng.acquireLock(ctx, LockActive))
		require.NoError(t, env.eng.acquireLock(ctx, LockActive))
	})

	t.Run("conflicting kind refuses", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		require.NoError(t, env.eng.acquireLock(ctx, LockPassive))
		err := env.eng.acquireLock(ctx, LockActive)
		require.ErrorIs(t, err, ErrLockConflict)
	})

	t.Run("release of absent lock is a no-op", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		require.NoError(t, env.eng.releaseLock(ctx, LockActive))
	})

	t.Run("release of other kind is refused", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, now, time.UTC)
		require.NoError(t, env.eng.acquireLock(ctx, LockPassive))
		require.NoError(t, env.eng.releaseLock(ctx, LockActive))

		rec, held, err := env.eng.readLock(ctx)
		require.NoError(t, err)
		require.True(t, held)
		assert.Equal(t, LockPassive, rec.Kind)
	})
}

func value(s string) *string { return &s }
