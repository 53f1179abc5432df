package helix

import (
	"os"
	"strings"
	"sync"
)

// SecretSource yields the current base64 extension secret.
type SecretSource interface {
	Secret() (string, error)
}

// StaticSecret is a fixed secret, usually from the environment.
type StaticSecret string

func (s StaticSecret) Secret() (string, error) {
	v := strings.TrimSpace(string(s))
	if v == "" {
		return "", ErrEmptySecret
	}
	return v, nil
}

// FileSecretLoader rereads the secret file on every call. While the file
// is missing the last good value is returned.
type FileSecretLoader struct {
	path   string
	mu     sync.Mutex
	cached string
}

func NewFileSecretLoader(path string) *FileSecretLoader {
	return &FileSecretLoader{path: path}
}

func (l *FileSecretLoader) Secret() (string, error) {
	v, _, err := l.Load()
	return v, err
}

// Load returns the secret and whether it differs from the previous value.
func (l *FileSecretLoader) Load() (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if l.cached != "" && os.IsNotExist(err) {
			return l.cached, false, nil
		}
		return "", false, err
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		l.cached = ""
		return "", false, ErrEmptySecret
	}
	if secret == l.cached {
		return secret, false, nil
	}
	l.cached = secret
	return secret, true, nil
}
