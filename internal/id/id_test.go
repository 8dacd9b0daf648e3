// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_TimeOrdered(t *testing.T) {
	a := New()
	time.Sleep(2 * time.Millisecond)
	b := New()

	require.Equal(t, byte(0x07), a.UUID()[6]>>4, "version nibble must be 7")
	require.True(t, a.String() < b.String(), "uuidv7 values generated later must sort later")
}

func TestParse_RoundTrip(t *testing.T) {
	a := New()
	parsed, err := Parse(a.String())
	require.NoError(t, err)
	require.Equal(t, a, parsed)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("not-a-uuid")
	require.Error(t, err)
}

func TestMarshalUnmarshalText(t *testing.T) {
	a := New()
	text, err := a.MarshalText()
	require.NoError(t, err)

	var b ID
	require.NoError(t, b.UnmarshalText(text))
	require.Equal(t, a, b)
}

func TestScanValue(t *testing.T) {
	a := New()
	v, err := a.Value()
	require.NoError(t, err)

	var b ID
	require.NoError(t, b.Scan(v))
	require.Equal(t, a, b)
}

func TestIsZero(t *testing.T) {
	var zero ID
	require.True(t, zero.IsZero())
	require.False(t, New().IsZero())
}
