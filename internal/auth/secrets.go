package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/google/uuid"
)

// LicenseStore looks up licenses by their external key.
type LicenseStore interface {
	GetLicenseByKey(ctx context.Context, key uuid.UUID) (*models.License, error)
}

// Decrypter opens secrets stored encrypted at rest.
type Decrypter interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// LicenseSecrets resolves the signing secret for a plugin request.
type LicenseSecrets struct {
	store     LicenseStore
	decrypter Decrypter
	serverKey []byte
}

// NewLicenseSecrets creates a resolver using serverKey for licenses without
// a dedicated secret.
func NewLicenseSecrets(store LicenseStore, decrypter Decrypter, serverKey []byte) *LicenseSecrets {
	return &LicenseSecrets{store: store, decrypter: decrypter, serverKey: serverKey}
}

// SigningSecret returns the license's dedicated secret when it has one, and the
// derived default otherwise. Unknown keys get the derived default so the
// request can still be answered with license_not_found.
func (s *LicenseSecrets) SigningSecret(ctx context.Context, licenseKey string) ([]byte, error) {
	key, err := uuid.Parse(licenseKey)
	if err != nil {
		return DefaultLicenseSecret(licenseKey, s.serverKey), nil
	}

	l, err := s.store.GetLicenseByKey(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return DefaultLicenseSecret(licenseKey, s.serverKey), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	if !l.HasSigningSecret() {
		return DefaultLicenseSecret(l.Key.String(), s.serverKey), nil
	}

	secret, err := s.decrypter.Decrypt(l.SigningSecretEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt license secret: %w", err)
	}
	return secret, nil
}
