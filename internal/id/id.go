// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package id defines the engine's identifier type: a time-ordered UUIDv7
// wrapped so that every resource (pipeline, run, stage result, queue entry)
// shares one ID type instead of bare strings or uuid.UUID values scattered
// across packages.
package id

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is a UUIDv7 resource identifier. Being time-ordered, IDs sort in
// creation order.
type ID struct {
	u uuid.UUID
}

// New generates a fresh time-ordered ID.
func New() ID {
	u, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if crypto/rand is unreadable, which means
		// the process is unable to generate any secure randomness at all.
		panic(fmt.Sprintf("id: failed to generate uuidv7: %v", err))
	}
	return ID{u: u}
}

// FromUUID wraps an existing uuid.UUID (e.g. one read back from storage).
func FromUUID(u uuid.UUID) ID { return ID{u: u} }

// Parse parses a canonical UUID string into an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("id: invalid id %q: %w", s, err)
	}
	return ID{u: u}, nil
}

// MustParse is Parse but panics on error; intended for literals in tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// UUID returns the underlying uuid.UUID.
func (id ID) UUID() uuid.UUID { return id.u }

// IsZero reports whether id is the zero value (never generated).
func (id ID) IsZero() bool { return id.u == uuid.Nil }

func (id ID) String() string { return id.u.String() }

func (id ID) MarshalText() ([]byte, error) { return []byte(id.u.String()), nil }

func (id *ID) UnmarshalText(text []byte) error {
	u, err := uuid.ParseBytes(text)
	if err != nil {
		return fmt.Errorf("id: invalid id %q: %w", text, err)
	}
	id.u = u
	return nil
}

// Value implements driver.Valuer so an ID can be passed directly as a pgx
// query argument.
func (id ID) Value() (driver.Value, error) {
	return id.u.String(), nil
}

// Scan implements sql.Scanner so an ID can be read directly out of a pgx row.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		id.u = uuid.Nil
		return nil
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		id.u = u
		return nil
	case [16]byte:
		id.u = uuid.UUID(v)
		return nil
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
