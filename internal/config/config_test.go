package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrealm/chatrealm/internal/types"
)

const testSecret = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

func Test_New(t *testing.T) {
	cfg, err := New("localhost:8000", "dsn", "", testSecret, "mock", "", "", "https://gateway.example/v1", "", nil)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8000", cfg.ServerAddr)
	assert.Equal(t, "https://gateway.example/v1", cfg.ProviderBaseURL)
	assert.NotEmpty(t, cfg.SigningKey)
	assert.Equal(t, 120*time.Second, cfg.Tuning.UserSilenceThreshold)
	assert.Equal(t, 45*time.Second, cfg.Tuning.GroupSilenceThreshold)
	assert.True(t, cfg.Tuning.ResumeOnRejoin)

	for _, rt := range []types.RoomType{types.RoomStudyGroup, types.RoomSupportCircle, types.RoomCasualLounge, types.RoomTutorial} {
		p, ok := cfg.Personas[rt]
		require.True(t, ok, "expected a default persona for %q", rt)
		assert.NotEmpty(t, p.Name)
		assert.NotEmpty(t, p.Prompt)
	}
}

func Test_New_validation(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		dsn     string
		secret  string
		prov    string
		wantErr string
	}{
		{"missing addr", "", "dsn", testSecret, "mock", "server address"},
		{"missing dsn", "addr", "", testSecret, "mock", "database DSN"},
		{"missing secret", "addr", "dsn", "", "mock", "signing secret"},
		{"bad secret", "addr", "dsn", "not base64!!!", "mock", "decode signing secret"},
		{"unknown provider", "addr", "dsn", testSecret, "llamafile", "unknown provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.addr, tt.dsn, "", tt.secret, tt.prov, "", "", "", "", nil)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func Test_New_fileOverlay(t *testing.T) {
	path := writeConfigFile(t, `
personas:
  study_group:
    name: Prof. Nova
    prompt: You are Prof. Nova, a tutor.
tuning:
  user_silence_threshold: 90s
  fallback_reply: "Give me a moment."
`)

	cfg, err := New("addr", "dsn", "", testSecret, "mock", "", "", "", path, nil)
	require.NoError(t, err)

	assert.Equal(t, "Prof. Nova", cfg.Personas[types.RoomStudyGroup].Name, "expected file persona to override the default")
	assert.Equal(t, "Sam", cfg.Personas[types.RoomSupportCircle].Name, "expected untouched personas to keep defaults")

	assert.Equal(t, 90*time.Second, cfg.Tuning.UserSilenceThreshold)
	assert.Equal(t, "Give me a moment.", cfg.Tuning.FallbackReply)
	assert.Equal(t, 20, cfg.Tuning.HistoryLimit, "expected absent tuning fields to keep defaults")
}

func Test_New_personaMustBeComplete(t *testing.T) {
	path := writeConfigFile(t, `
personas:
  tutorial:
    name: ""
    prompt: ""
`)

	_, err := New("addr", "dsn", "", testSecret, "mock", "", "", "", path, nil)
	assert.ErrorContains(t, err, "no persona configured", "expected a blanked persona to fail startup")
}

func Test_New_missingFile(t *testing.T) {
	_, err := New("addr", "dsn", "", testSecret, "mock", "", "", "", "/nonexistent/config.yaml", nil)
	assert.ErrorContains(t, err, "read config file")
}
