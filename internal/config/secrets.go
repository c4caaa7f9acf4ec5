package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// secretStore reads API keys that are not in the environment.
type secretStore interface {
	Get(account string) (string, error)
}

// secretsFile is a JSON object of account -> value under the data dir.
type secretsFile struct {
	path string
}

func defaultSecrets() secretsFile {
	return secretsFile{path: filepath.Join(defaultDataDir(), "secrets.json")}
}

func (s secretsFile) Get(account string) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("secrets file not available: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	val, ok := secrets[account]
	if !ok {
		return "", fmt.Errorf("secret %q not found", account)
	}
	return val, nil
}

// Set writes one secret, creating the file with owner-only permissions.
func (s secretsFile) Set(account, value string) error {
	secrets := make(map[string]string)
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &secrets); err != nil {
			return fmt.Errorf("parsing secrets file: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("reading secrets file: %w", err)
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[account] = value

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, out, 0o600)
}

const apiTokenAccount = "server.api_token"

// EnsureAPIToken returns the bearer token for the HTTP API. PACHAI_API_TOKEN
// wins; otherwise the token is read from the secrets file, generating and
// storing a new one on first use.
func EnsureAPIToken() (string, error) {
	return ensureAPIToken(defaultSecrets())
}

// APIToken returns the existing token without generating one.
func APIToken() (string, error) {
	if v := os.Getenv("PACHAI_API_TOKEN"); v != "" {
		return v, nil
	}
	return defaultSecrets().Get(apiTokenAccount)
}

func ensureAPIToken(s secretsFile) (string, error) {
	if v := os.Getenv("PACHAI_API_TOKEN"); v != "" {
		return v, nil
	}
	if v, err := s.Get(apiTokenAccount); err == nil && v != "" {
		return v, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := s.Set(apiTokenAccount, token); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return token, nil
}
