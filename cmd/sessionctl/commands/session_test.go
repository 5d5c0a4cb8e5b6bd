package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/pkg/sessionclient"
)

func TestSessionFile_SaveLoad(t *testing.T) {
	f := sessionFile{path: filepath.Join(t.TempDir(), "nested", "session.json")}
	want := savedSession{APIURL: "http://shop.test", AccessToken: "a.b.c", RefreshToken: "secret"}

	require.NoError(t, f.save(want))

	info, err := os.Stat(f.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := f.load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSessionFile_MissingIsEmpty(t *testing.T) {
	f := sessionFile{path: filepath.Join(t.TempDir(), "session.json")}

	got, err := f.load()
	require.NoError(t, err)
	assert.True(t, got.empty())
}

func TestSessionFile_EmptySessionRemovesFile(t *testing.T) {
	f := sessionFile{path: filepath.Join(t.TempDir(), "session.json")}
	require.NoError(t, f.save(savedSession{APIURL: "http://shop.test", RefreshToken: "secret"}))

	require.NoError(t, f.save(savedSession{APIURL: "http://shop.test"}))

	_, err := os.Stat(f.path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NoError(t, f.save(savedSession{}), "removing a missing file is not an error")
}

func TestSessionFile_Corrupt(t *testing.T) {
	f := sessionFile{path: filepath.Join(t.TempDir(), "session.json")}
	require.NoError(t, os.WriteFile(f.path, []byte("{not json"), 0o600))

	_, err := f.load()
	assert.ErrorContains(t, err, "decode session file")
}

func TestRestoreCapture(t *testing.T) {
	for _, api := range []string{"http://shop.test", "http://shop.test/"} {
		t.Run(api, func(t *testing.T) {
			client, err := sessionclient.New(sessionclient.DefaultConfig(api))
			require.NoError(t, err)

			restore(client, api, savedSession{APIURL: api, AccessToken: "a.b.c", RefreshToken: "secret"})
			assert.Equal(t, "a.b.c", client.AccessToken())
			assert.True(t, client.HasRefreshCookie())

			assert.Equal(t, savedSession{APIURL: api, AccessToken: "a.b.c", RefreshToken: "secret"}, capture(client, api))
		})
	}
}

func TestRestore_OtherAPIIgnored(t *testing.T) {
	client, err := sessionclient.New(sessionclient.DefaultConfig("http://shop.test"))
	require.NoError(t, err)

	restore(client, "http://shop.test", savedSession{APIURL: "http://other.test", AccessToken: "a.b.c", RefreshToken: "secret"})

	assert.Empty(t, client.AccessToken())
	assert.False(t, client.HasRefreshCookie())
	assert.Equal(t, savedSession{APIURL: "http://shop.test"}, capture(client, "http://shop.test"))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", Config{APIURL: "http://localhost:8006", Timeout: 1}, true},
		{"relative url", Config{APIURL: "/api", Timeout: 1}, false},
		{"no timeout", Config{APIURL: "http://localhost:8006"}, false},
		{"breaker ratio", Config{APIURL: "http://localhost:8006", Timeout: 1, BreakerEnabled: true, BreakerFailureRatio: 0.5}, true},
		{"breaker ratio zero", Config{APIURL: "http://localhost:8006", Timeout: 1, BreakerEnabled: true}, false},
		{"breaker ratio above one", Config{APIURL: "http://localhost:8006", Timeout: 1, BreakerEnabled: true, BreakerFailureRatio: 1.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfig_ClientConfig(t *testing.T) {
	cfg := Config{APIURL: "http://shop.test"}
	assert.Nil(t, cfg.clientConfig().CircuitBreaker)

	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 3
	cfg.BreakerFailureRatio = 0.25
	cfg.BreakerTimeout = 5 * time.Second
	got := cfg.clientConfig()
	assert.Equal(t, "http://shop.test", got.BaseURL)
	require.NotNil(t, got.CircuitBreaker)
	assert.Equal(t, "sessionctl", got.CircuitBreaker.Name)
	assert.Equal(t, uint32(3), got.CircuitBreaker.MinRequests)
	assert.Equal(t, 0.25, got.CircuitBreaker.FailureRatio)
	assert.Equal(t, 5*time.Second, got.CircuitBreaker.Timeout)
}
