package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/engine"
	"github.com/mailsift/mailsift/internal/llm"
	"github.com/mailsift/mailsift/internal/mailstore"
	"github.com/mailsift/mailsift/internal/persistence/fileblob"
	"github.com/mailsift/mailsift/internal/persistence/filekv"
	"github.com/mailsift/mailsift/internal/trigger"
)

type nopMailer struct{}

func (nopMailer) Send(_ context.Context, _, _, _, _ string) error { return nil }

type nopClassifier struct{}

func (nopClassifier) Classify(_ context.Context, _ []llm.Thread, _ llm.Topics) (llm.Result, error) {
	return llm.Result{}, nil
}

func newTestServer(t *testing.T) (*Server, *trigger.MemoryService) {
	t.Helper()

	kv, err := filekv.New(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	blobs, err := fileblob.New(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		Global: config.Global{
			AddonName:          "MailSift",
			UserEmail:          "user@example.com",
			Location:           time.UTC,
			DispatcherInterval: time.Hour,
		},
		LLM:    config.LLM{APIKey: "test-key"},
		Server: config.Server{Host: "127.0.0.1", Port: 0},
	}

	triggers := trigger.NewMemoryService()
	eng := engine.New(cfg, engine.Deps{
		KV:         kv,
		Blobs:      blobs,
		Mail:       mailstore.NewMemoryStore(),
		Classifier: nopClassifier{},
		Mailer:     nopMailer{},
		Triggers:   triggers,
		Clock:      clockwork.NewFakeClockAt(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)),
	})
	return NewServer(cfg, eng), triggers
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()
	srv, triggers := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "idle", snap.Status)

	// Opening the UI reinstates the dispatcher.
	assert.True(t, triggers.Has(engine.DispatcherTriggerName))
}

func TestHandleStartScan(t *testing.T) {
	t.Parallel()

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()
		srv, triggers := newTestServer(t)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", strings.NewReader(`{"timeRange":"7days"}`))
		srv.handleStartScan(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)

		var snap engine.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, "running", snap.Status)
		assert.Equal(t, 4, snap.ChunkTotal)
		assert.True(t, triggers.Has(engine.KickoffTriggerName))
	})

	t.Run("conflict while a scan is running", func(t *testing.T) {
		t.Parallel()
		srv, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", strings.NewReader(`{"timeRange":"1day"}`))
		srv.handleStartScan(httptest.NewRecorder(), req)

		rec := httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodPost, "/api/v1/scans", strings.NewReader(`{"timeRange":"1day"}`))
		srv.handleStartScan(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "another active workflow is already running")
	})

	t.Run("invalid time range", func(t *testing.T) {
		t.Parallel()
		srv, _ := newTestServer(t)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", strings.NewReader(`{"timeRange":"whenever"}`))
		srv.handleStartScan(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("incomplete config", func(t *testing.T) {
		t.Parallel()
		srv, _ := newTestServer(t)
		srv.cfg.LLM.APIKey = ""

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", strings.NewReader(`{"timeRange":"1day"}`))
		srv.handleStartScan(rec, req)

		assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		srv, _ := newTestServer(t)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", strings.NewReader(`{`))
		srv.handleStartScan(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
