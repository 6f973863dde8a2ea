// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package quality

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

// Trust holds one provider's fixed accuracy and consistency reputation.
type Trust struct {
	Accuracy    float64 `yaml:"accuracy" json:"accuracy"`
	Consistency float64 `yaml:"consistency" json:"consistency"`
}

// DefaultTrust applies to providers absent from the table.
var DefaultTrust = Trust{Accuracy: 0.9, Consistency: 0.9}

// TrustTable maps provider name to its trust scores.
type TrustTable map[string]Trust

// Lookup returns the provider's trust, falling back to DefaultTrust.
func (t TrustTable) Lookup(source string) Trust {
	if t == nil {
		return DefaultTrust
	}
	if trust, ok := t[source]; ok {
		return trust
	}
	return DefaultTrust
}

// trustFile is the on-disk YAML structure.
type trustFile struct {
	Providers map[string]Trust `yaml:"providers"`
}

// LoadTrustTable reads a trust table from a YAML file. Every score must lie
// in [0,1]; all violations are reported together.
func LoadTrustTable(path string) (TrustTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fferr.Wrapf(err, fferr.CodeQualityTrustTableRead, "reading trust table %s", path)
	}

	var f trustFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fferr.Wrapf(err, fferr.CodeQualityTrustTableInvalid, "parsing trust table %s", path)
	}

	var errs []error
	for name, trust := range f.Providers {
		if trust.Accuracy < 0 || trust.Accuracy > 1 {
			errs = append(errs, fferr.Errorf(fferr.CodeQualityTrustTableInvalid,
				"provider %q accuracy %v outside [0,1]", name, trust.Accuracy))
		}
		if trust.Consistency < 0 || trust.Consistency > 1 {
			errs = append(errs, fferr.Errorf(fferr.CodeQualityTrustTableInvalid,
				"provider %q consistency %v outside [0,1]", name, trust.Consistency))
		}
	}
	if len(errs) > 0 {
		return nil, fferr.Errorf(fferr.CodeQualityTrustTableInvalid, "validating trust table %s: %w", path, errors.Join(errs...))
	}

	return TrustTable(f.Providers), nil
}
