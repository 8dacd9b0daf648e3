// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	values map[string]string
}

func (f *fakeStore) Resolve(ctx context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, n := range names {
		v, ok := f.values[n]
		if !ok {
			return nil, errMissing(n)
		}
		out[n] = v
	}
	return out, nil
}

type missingSecretError string

func (e missingSecretError) Error() string { return "secret not found: " + string(e) }

func errMissing(name string) error { return missingSecretError(name) }

func TestStore_ResolveKnownNames(t *testing.T) {
	s := &fakeStore{values: map[string]string{"api_token": "xyz"}}
	out, err := s.Resolve(context.Background(), []string{"api_token"})
	require.NoError(t, err)
	require.Equal(t, "xyz", out["api_token"])
}

func TestStore_ResolveUnknownNameErrors(t *testing.T) {
	s := &fakeStore{values: map[string]string{}}
	_, err := s.Resolve(context.Background(), []string{"missing"})
	require.Error(t, err)
}
