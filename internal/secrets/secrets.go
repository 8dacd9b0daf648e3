// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package secrets resolves `${secrets.*}` references against a secret
// store. spec.md §6 names the secret store only as an out-of-scope
// interface boundary ("assume secret material arrives already resolved
// into the environment, or is fetched from an external store through an
// interface not specified here"); this package is that interface's
// concrete Vault-backed implementation.
package secrets

import (
	"context"

	vault "github.com/hashicorp/vault/api"

	"github.com/buildit-ci/buildit/internal/engineerr"
)

// Store resolves secret names to values.
type Store interface {
	// Resolve returns the values for names, keyed by name. A missing name
	// yields an error rather than an empty string. The orchestrator logs
	// that error and runs on with every `${secrets.x}` token left
	// uninterpolated.
	Resolve(ctx context.Context, names []string) (map[string]string, error)
}

// VaultStore resolves secrets from a single KV v2 mount and path, where
// every key under that path is one secret name.
type VaultStore struct {
	client *vault.Client
	mount  string
	path   string
}

// NewVaultStore builds a VaultStore against an already-configured client
// (address, token/auth method set up by the caller per the teacher's own
// config conventions).
func NewVaultStore(client *vault.Client, mount, path string) *VaultStore {
	return &VaultStore{client: client, mount: mount, path: path}
}

// Resolve implements Store.
func (s *VaultStore) Resolve(ctx context.Context, names []string) (map[string]string, error) {
	secret, err := s.client.KVv2(s.mount).Get(ctx, s.path)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindInternal, "reading secrets from vault", err)
	}

	out := make(map[string]string, len(names))
	for _, name := range names {
		raw, ok := secret.Data[name]
		if !ok {
			return nil, engineerr.Newf(engineerr.KindNotFound, "secret %q not found at %s/%s", name, s.mount, s.path)
		}
		str, ok := raw.(string)
		if !ok {
			return nil, engineerr.Newf(engineerr.KindInvalidInput, "secret %q is not a string value", name)
		}
		out[name] = str
	}
	return out, nil
}
