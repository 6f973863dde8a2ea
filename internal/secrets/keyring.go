// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

// Package secrets stores provider API keys in the OS keychain under the
// fixed service name "feedfuse". Config values reference stored secrets
// with keyring://<name> URIs, resolved once at startup.
package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"sort"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/zalando/go-keyring"
)

// service is the keychain service every feedfuse secret lives under.
const service = "feedfuse"

// indexName is the keychain entry holding the JSON index of stored secret
// names. go-keyring has no native enumeration, so List works off this
// index. The name is unreachable by users: validateName rejects colons.
const indexName = "::index"

// nameRE constrains secret names to a portable keychain-safe charset.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store reads and writes feedfuse secrets in the OS keyring. On macOS that
// is Keychain, on Linux secret-service (D-Bus), and on Windows the
// Credential Manager.
type Store struct{}

// NewStore returns a keyring-backed Store.
func NewStore() *Store {
	return &Store{}
}

func validateName(name string) error {
	if name == "" {
		return fferr.New(fferr.CodeSecretNameInvalid, "secret name must not be empty")
	}
	if !nameRE.MatchString(name) {
		return fferr.Errorf(fferr.CodeSecretNameInvalid,
			"secret name %q must match %s", name, nameRE.String())
	}
	return nil
}

// Set stores a secret value under name, creating or overwriting it.
func (s *Store) Set(name, value string) error {
	if err := validateName(name); err != nil {
		return err
	}

	if err := keyring.Set(service, name, value); err != nil {
		return fferr.Wrapf(err, fferr.CodeSecretStoreFailure, "storing secret %s", name)
	}

	return s.addToIndex(name)
}

// Get fetches the secret value stored under name.
func (s *Store) Get(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	val, err := keyring.Get(service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fferr.Errorf(fferr.CodeSecretNotFound, "secret %s not found", name)
		}
		return "", fferr.Wrapf(err, fferr.CodeSecretStoreFailure, "retrieving secret %s", name)
	}
	return val, nil
}

// Delete removes the secret stored under name.
func (s *Store) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	if err := keyring.Delete(service, name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fferr.Errorf(fferr.CodeSecretNotFound, "secret %s not found", name)
		}
		return fferr.Wrapf(err, fferr.CodeSecretStoreFailure, "deleting secret %s", name)
	}

	return s.removeFromIndex(name)
}

// List returns the names of every stored secret, sorted.
func (s *Store) List() ([]string, error) {
	names, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// loadIndex reads the JSON name index from the keyring.
func (s *Store) loadIndex() ([]string, error) {
	raw, err := keyring.Get(service, indexName)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fferr.Wrapf(err, fferr.CodeSecretStoreFailure, "loading secret name index")
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fferr.Wrapf(err, fferr.CodeSecretStoreFailure, "decoding secret name index")
	}

	return names, nil
}

// saveIndex writes the JSON name index to the keyring.
func (s *Store) saveIndex(names []string) error {
	if len(names) == 0 {
		// Clean up the index entry when empty.
		if delErr := keyring.Delete(service, indexName); delErr != nil {
			slog.Debug("failed to clean up empty secret name index", "error", delErr)
		}
		return nil
	}

	data, err := json.Marshal(names)
	if err != nil {
		return fferr.Wrapf(err, fferr.CodeSecretStoreFailure, "encoding secret name index")
	}

	if err := keyring.Set(service, indexName, string(data)); err != nil {
		return fferr.Wrapf(err, fferr.CodeSecretStoreFailure, "saving secret name index")
	}

	return nil
}

// addToIndex adds a name to the index (idempotent).
func (s *Store) addToIndex(name string) error {
	names, err := s.loadIndex()
	if err != nil {
		return err
	}

	for _, n := range names {
		if n == name {
			return nil // already present
		}
	}

	names = append(names, name)
	return s.saveIndex(names)
}

// removeFromIndex removes a name from the index.
func (s *Store) removeFromIndex(name string) error {
	names, err := s.loadIndex()
	if err != nil {
		return err
	}

	filtered := names[:0]
	for _, n := range names {
		if n != name {
			filtered = append(filtered, n)
		}
	}

	return s.saveIndex(filtered)
}
