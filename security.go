// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"crypto/rand"
)

// MinSaltLength is the shortest server salt accepted in a challenge.
const MinSaltLength = 16

// SecureMemory scrubs passwords and combined salts once they have been
// used.
type SecureMemory struct{}

// ClearBytes zeroes data in place.
func (sm *SecureMemory) ClearBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// SecureRandom generates challenge salts.
type SecureRandom struct{}

// GenerateBytes returns length bytes from crypto/rand.
func (sr *SecureRandom) GenerateBytes(length int) ([]byte, error) {
	if length <= 0 {
		return nil, validationError("SecureRandom.GenerateBytes", "length must be positive", nil)
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, WrapError("SecureRandom.GenerateBytes", ErrAuthentication, "failed to read random bytes", err)
	}
	return b, nil
}

// xorBytes combines a and b byte by byte over the shorter length.
func xorBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}
