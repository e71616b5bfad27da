// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"bytes"
	"testing"
)

func TestSecurity_ClearBytes(t *testing.T) {
	sm := &SecureMemory{}
	data := []byte("password")
	sm.ClearBytes(data)

	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d = %d after ClearBytes, want 0", i, b)
		}
	}
	sm.ClearBytes(nil)
}

func TestSecurity_GenerateBytes(t *testing.T) {
	sr := &SecureRandom{}

	a, err := sr.GenerateBytes(32)
	if err != nil {
		t.Fatalf("GenerateBytes() error = %v", err)
	}
	if len(a) != 32 {
		t.Errorf("GenerateBytes() length = %d, want 32", len(a))
	}
	b, err := sr.GenerateBytes(32)
	if err != nil {
		t.Fatalf("GenerateBytes() error = %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two GenerateBytes() calls returned the same bytes")
	}

	for _, n := range []int{0, -1} {
		if _, err := sr.GenerateBytes(n); !IsXpraError(err, ErrValidation) {
			t.Errorf("GenerateBytes(%d) error = %v, want validation error", n, err)
		}
	}
}

func TestSecurity_XorBytes(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []byte
		expected []byte
	}{
		{"same length", []byte{0x0f, 0xf0}, []byte{0xff, 0xff}, []byte{0xf0, 0x0f}},
		{"shorter second", []byte{1, 2, 3}, []byte{1, 2}, []byte{0, 0}},
		{"empty", nil, []byte{1}, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := xorBytes(tt.a, tt.b); !bytes.Equal(got, tt.expected) {
				t.Errorf("xorBytes() = %v, want %v", got, tt.expected)
			}
		})
	}
}
