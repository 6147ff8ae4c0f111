package config

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	secretService   = "voicepad"
	apiTokenAccount = "api_token"
)

// ErrSecretNotFound is returned by the platform secret store for an account
// that has never been set.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore reads and writes secrets by service and account.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store: macOS Keychain, or a
// secrets.json file under the XDG data directory elsewhere.
func NewKeychain() SecretStore {
	return keychainReader{}
}

// GetAPIToken returns the bearer token that guards the local HTTP API,
// generating and storing one on first use. Read failures other than
// ErrSecretNotFound are returned and leave the stored token untouched.
func GetAPIToken(s SecretStore) (string, error) {
	tok, err := s.Get(secretService, apiTokenAccount)
	switch {
	case err == nil && tok != "":
		return tok, nil
	case err != nil && !errors.Is(err, ErrSecretNotFound):
		return "", fmt.Errorf("reading API token: %w", err)
	}
	tok = uuid.NewString()
	if err := s.Set(secretService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
