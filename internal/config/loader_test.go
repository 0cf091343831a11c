package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(WithConfigFile(writeConfigFile(t, "")))
		require.NoError(t, err)

		assert.Equal(t, "text", cfg.Global.LogFormat)
		assert.Equal(t, "UTC", cfg.Global.TZ)
		assert.NotNil(t, cfg.Global.Location)
		assert.Equal(t, time.Hour, cfg.Global.DispatcherInterval)
		assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
		assert.Equal(t, 300*time.Second, cfg.LLM.Timeout)
		assert.Equal(t, "587", cfg.SMTP.Port)
		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 8090, cfg.Server.Port)
		assert.NotEmpty(t, cfg.Paths.DataDir)
		assert.False(t, cfg.IsComplete())
	})

	t.Run("full config file", func(t *testing.T) {
		cfg, err := Load(WithConfigFile(writeConfigFile(t, `
userEmail: user@example.com
openaiApiKey: sk-test
timeZone: America/New_York
dispatcherIntervalHours: 2
mustDoTopics: |
  invoices
  deadlines
mustKnowTopics: announcements
mustDoLabel: MustDo
markProcessedAsRead: true
removeUninterestingFromInbox: true
unreadOnly: true
smtp:
  host: smtp.example.com
  username: bot
  password: secret
llm:
  model: gpt-4o
  timeoutSeconds: 60
port: 9000
`)))
		require.NoError(t, err)

		assert.Equal(t, "user@example.com", cfg.Global.UserEmail)
		assert.Equal(t, "America/New_York", cfg.Global.TZ)
		assert.Equal(t, 2*time.Hour, cfg.Global.DispatcherInterval)
		assert.Equal(t, []string{"invoices", "deadlines"}, cfg.Triage.MustDoTopics)
		assert.Equal(t, []string{"announcements"}, cfg.Triage.MustKnowTopics)
		assert.Equal(t, "MustDo", cfg.Triage.MustDoLabel)
		assert.True(t, cfg.Triage.MarkProcessedAsRead)
		assert.True(t, cfg.Triage.RemoveUninterestingFromInbox)
		assert.True(t, cfg.Triage.UnreadOnly)
		assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
		assert.Equal(t, "sk-test", cfg.LLM.APIKey)
		assert.Equal(t, "gpt-4o", cfg.LLM.Model)
		assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.True(t, cfg.IsComplete())
	})

	t.Run("invalid timezone", func(t *testing.T) {
		_, err := Load(WithConfigFile(writeConfigFile(t, "timeZone: Mars/Olympus\n")))
		require.Error(t, err)
	})

	t.Run("interval below the host floor is clamped", func(t *testing.T) {
		cfg, err := Load(WithConfigFile(writeConfigFile(t, "dispatcherIntervalHours: 0\n")))
		require.NoError(t, err)
		assert.Equal(t, time.Hour, cfg.Global.DispatcherInterval)
	})
}

func TestCheckComplete(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.ErrorIs(t, cfg.CheckComplete(), ErrMissingAPIKey)

	cfg.LLM.APIKey = "sk-test"
	assert.ErrorIs(t, cfg.CheckComplete(), ErrMissingUserEmail)

	cfg.Global.UserEmail = "user@example.com"
	assert.NoError(t, cfg.CheckComplete())
}
