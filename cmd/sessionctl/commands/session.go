package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/utafrali/storefront/pkg/sessionclient"
)

// savedSession is the on-disk form of one session.
type savedSession struct {
	APIURL       string `json:"api_url"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (s savedSession) empty() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// sessionFile persists the credentials of a sessionclient.Client between runs.
type sessionFile struct {
	path string
}

// load reads the saved session. A missing file yields an empty session.
func (f sessionFile) load() (savedSession, error) {
	var s savedSession
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read session file: %w", err)
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return savedSession{}, fmt.Errorf("decode session file %s: %w", f.path, err)
	}
	return s, nil
}

// save writes s through a temp file and rename. An empty session removes
// the file instead.
func (f sessionFile) save(s savedSession) error {
	if s.empty() {
		return f.remove()
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (f sessionFile) remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// restore loads s into client. A session saved against another API URL is
// ignored.
func restore(client *sessionclient.Client, apiURL string, s savedSession) {
	if s.APIURL != apiURL {
		return
	}
	client.SetAccessToken(s.AccessToken)
	if s.RefreshToken != "" {
		client.SetRefreshCookie(s.RefreshToken)
	}
}

// capture reads the credentials currently held by client.
func capture(client *sessionclient.Client, apiURL string) savedSession {
	return savedSession{
		APIURL:       apiURL,
		AccessToken:  client.AccessToken(),
		RefreshToken: client.RefreshCookie(),
	}
}
