// Package settings provides typed access to the settings collection,
// including encrypted storage of the API bearer token.
package settings

import (
	"github.com/mensahk/fieldcite/internal/crypto"
	apperrors "github.com/mensahk/fieldcite/internal/errors"
	"github.com/mensahk/fieldcite/internal/logging"
	"github.com/mensahk/fieldcite/internal/models"
	"github.com/mensahk/fieldcite/internal/store"
)

// KeyAPIToken is the settings key holding the encrypted bearer token.
const KeyAPIToken = "api_token"

// Settings reads and writes key-value settings in the local store.
type Settings struct {
	store     *store.Store
	deviceKey string
}

// New creates a Settings facade. deviceKey seals sensitive values; it
// should be stable for the lifetime of the device installation.
func New(s *store.Store, deviceKey string) *Settings {
	return &Settings{store: s, deviceKey: deviceKey}
}

// Get returns the value for key, or "" when the key is absent.
func (s *Settings) Get(key string) (string, error) {
	var setting models.Setting
	if err := s.store.GetInto(models.CollectionSettings, key, &setting); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return setting.Value, nil
}

// Set writes a value under key, replacing any existing value.
func (s *Settings) Set(key, value string) error {
	return s.store.Put(models.CollectionSettings, &models.Setting{Key: key, Value: value})
}

// Delete removes a key. Absent keys are not an error.
func (s *Settings) Delete(key string) error {
	return s.store.Delete(models.CollectionSettings, key)
}

// SetAPIToken seals and stores the bearer token.
func (s *Settings) SetAPIToken(token string) error {
	if token == "" {
		return s.Delete(KeyAPIToken)
	}
	sealed, err := crypto.EncryptString(token, s.deviceKey)
	if err != nil {
		return err
	}
	return s.Set(KeyAPIToken, sealed)
}

// APIToken returns the stored bearer token, or "" when none is set.
func (s *Settings) APIToken() (string, error) {
	sealed, err := s.Get(KeyAPIToken)
	if err != nil {
		return "", err
	}
	if sealed == "" {
		return "", nil
	}
	return crypto.DecryptString(sealed, s.deviceKey)
}

// Token implements the sync engine's credential source. Failures log
// and degrade to an unauthenticated request rather than blocking the
// pass.
func (s *Settings) Token() string {
	token, err := s.APIToken()
	if err != nil {
		logging.Error("Failed to read API token", err, nil)
		return ""
	}
	return token
}
