// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package secrets

import (
	"strings"

	"github.com/feedfuse/feedfuse/internal/config"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// URI scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseKeyringURI extracts the secret name from a keyring://<name> URI.
func ParseKeyringURI(uri string) (string, error) {
	if !IsKeyringURI(uri) {
		return "", fferr.Errorf(fferr.CodeSecretNameInvalid, "not a keyring URI: %q", uri)
	}

	name := strings.TrimPrefix(uri, keyringScheme)
	if err := validateName(name); err != nil {
		return "", fferr.Wrapf(err, fferr.CodeSecretNameInvalid,
			"invalid keyring URI %q: expected keyring://<name>", uri)
	}
	return name, nil
}

// Resolve rewrites every keyring:// provider api_key in cfg with the value
// stored in the keychain. A missing or malformed reference fails startup
// with the provider name attached.
func (s *Store) Resolve(cfg *config.Config) error {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if !IsKeyringURI(p.APIKey) {
			continue
		}

		name, err := ParseKeyringURI(p.APIKey)
		if err != nil {
			return fferr.With(err, fferr.FieldProvider(p.Name))
		}

		secret, err := s.Get(name)
		if err != nil {
			return fferr.With(err, fferr.FieldProvider(p.Name))
		}
		p.APIKey = secret
	}
	return nil
}
