// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"crypto"
	"crypto/hmac"
	_ "crypto/md5"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// DigestAuth computes the response to a server challenge for one digest.
type DigestAuth interface {
	// Digest returns the wire name, e.g. "hmac+sha256".
	Digest() string

	// Respond combines the secret with the salt.
	Respond(secret, salt []byte) ([]byte, error)

	String() string
}

// HMACDigest answers challenges with a hex encoded HMAC of the salt keyed by
// the password.
type HMACDigest struct {
	Name string
	Hash crypto.Hash
}

// Digest returns the wire name.
func (d *HMACDigest) Digest() string {
	return d.Name
}

// Respond returns hex(HMAC(secret, salt)).
func (d *HMACDigest) Respond(secret, salt []byte) ([]byte, error) {
	if !d.Hash.Available() {
		return nil, unsupportedError("HMACDigest.Respond", "hash not available for "+d.Name, nil)
	}
	mac := hmac.New(d.Hash.New, secret)
	mac.Write(salt)
	sum := mac.Sum(nil)
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum)
	return out, nil
}

func (d *HMACDigest) String() string {
	return strings.ToUpper(d.Name)
}

// XORDigest answers challenges by xor-ing the password with the salt. It
// only makes sense over an encrypted transport.
type XORDigest struct{}

// Digest returns the wire name.
func (d *XORDigest) Digest() string {
	return "xor"
}

// Respond returns secret xor salt. The salt must be at least as long as the secret.
func (d *XORDigest) Respond(secret, salt []byte) ([]byte, error) {
	if len(salt) < len(secret) {
		return nil, authenticationError("XORDigest.Respond",
			fmt.Sprintf("salt too short for xor: %d < %d", len(salt), len(secret)), nil)
	}
	return xorBytes(secret, salt[:len(secret)]), nil
}

func (d *XORDigest) String() string {
	return "XOR"
}

// DigestFactory creates new instances of a digest.
type DigestFactory func() DigestAuth

// hashCandidates are probed in order; only hashes linked into the binary
// are advertised.
var hashCandidates = []struct {
	name string
	hash crypto.Hash
}{
	{"md5", crypto.MD5},
	{"sha1", crypto.SHA1},
	{"sha224", crypto.SHA224},
	{"sha256", crypto.SHA256},
	{"sha384", crypto.SHA384},
	{"sha512", crypto.SHA512},
	{"sha3_256", crypto.SHA3_256},
	{"sha3_512", crypto.SHA3_512},
	{"blake2b", crypto.BLAKE2b_512},
}

// AuthRegistry manages the digests the client can answer challenges with.
type AuthRegistry struct {
	factories map[string]DigestFactory
	order     []string
	mu        sync.RWMutex
	logger    Logger
}

// NewAuthRegistry creates a registry with "hmac", "hmac+md5", "xor" and one
// "hmac+<hash>" entry for every hash implementation available at runtime.
func NewAuthRegistry() *AuthRegistry {
	registry := &AuthRegistry{
		factories: make(map[string]DigestFactory),
		logger:    &NoOpLogger{},
	}

	registry.Register("hmac", func() DigestAuth { return &HMACDigest{Name: "hmac", Hash: crypto.MD5} })
	registry.Register("hmac+md5", func() DigestAuth { return &HMACDigest{Name: "hmac+md5", Hash: crypto.MD5} })
	registry.Register("xor", func() DigestAuth { return &XORDigest{} })

	for _, candidate := range hashCandidates {
		if !candidate.hash.Available() {
			continue
		}
		name := "hmac+" + candidate.name
		hash := candidate.hash
		registry.Register(name, func() DigestAuth { return &HMACDigest{Name: name, Hash: hash} })
	}

	return registry
}

// Register adds or replaces a digest factory.
func (r *AuthRegistry) Register(digest string, factory DigestFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[digest]; !exists {
		r.order = append(r.order, digest)
	}
	r.factories[digest] = factory

	if r.logger != nil {
		r.logger.Debug("Registered challenge digest", Field{Key: "digest", Value: digest})
	}
}

// Unregister removes a digest from the registry.
func (r *AuthRegistry) Unregister(digest string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[digest]; !exists {
		return false
	}
	delete(r.factories, digest)
	for i, name := range r.order {
		if name == digest {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// CreateDigest creates the digest named by the server.
func (r *AuthRegistry) CreateDigest(digest string) (DigestAuth, error) {
	r.mu.RLock()
	factory, exists := r.factories[digest]
	r.mu.RUnlock()

	if !exists {
		if r.logger != nil {
			r.logger.Warn("Unsupported challenge digest requested", Field{Key: "digest", Value: digest})
		}
		return nil, unsupportedError("AuthRegistry.CreateDigest",
			fmt.Sprintf("unsupported digest: %s", digest), nil)
	}
	return factory(), nil
}

// SupportedDigests returns the registered digest names in registration order.
func (r *AuthRegistry) SupportedDigests() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// IsSupported checks if a digest is registered.
func (r *AuthRegistry) IsSupported(digest string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.factories[digest]
	return exists
}

// SetLogger sets the logger for the registry.
func (r *AuthRegistry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger = logger
}

// Challenge is a parsed server challenge packet.
type Challenge struct {
	ServerSalt []byte
	Digest     string
	SaltDigest string
	Prompt     string
}

// parseChallenge reads challenge(salt, cipher_caps, digest, salt_digest, prompt).
func parseChallenge(p Packet) (*Challenge, error) {
	r := newArgReader(p)
	ch := &Challenge{
		ServerSalt: r.Bytes(0),
		Digest:     r.OptString(2, "hmac"),
		SaltDigest: r.OptString(3, ""),
		Prompt:     r.OptString(4, "password"),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if len(ch.ServerSalt) < MinSaltLength {
		return nil, authenticationError("parseChallenge",
			fmt.Sprintf("server salt too short: %d bytes", len(ch.ServerSalt)), nil)
	}
	return ch, nil
}

// ChallengeResponse is what the client returns in its second hello.
type ChallengeResponse struct {
	Response   []byte
	ClientSalt []byte
}

// Respond answers ch with password. When the server asks for a salt digest
// the client contributes its own random salt, which the server needs back.
func (r *AuthRegistry) Respond(ch *Challenge, password []byte) (*ChallengeResponse, error) {
	digest, err := r.CreateDigest(ch.Digest)
	if err != nil {
		return nil, err
	}

	salt := ch.ServerSalt
	var clientSalt []byte
	if ch.SaltDigest != "" {
		saltDigest, err := r.CreateDigest(ch.SaltDigest)
		if err != nil {
			return nil, err
		}
		clientSalt, err = (&SecureRandom{}).GenerateBytes(len(ch.ServerSalt))
		if err != nil {
			return nil, err
		}
		salt, err = saltDigest.Respond(clientSalt, ch.ServerSalt)
		if err != nil {
			return nil, WrapError("AuthRegistry.Respond", ErrAuthentication, "failed to combine salts", err)
		}
	}

	response, err := digest.Respond(password, salt)
	if ch.SaltDigest != "" {
		(&SecureMemory{}).ClearBytes(salt)
	}
	if err != nil {
		return nil, WrapError("AuthRegistry.Respond", ErrAuthentication, "failed to compute response", err)
	}

	if r.logger != nil {
		r.logger.Debug("Computed challenge response",
			Field{Key: "digest", Value: digest.Digest()},
			Field{Key: "salt_digest", Value: ch.SaltDigest})
	}
	return &ChallengeResponse{Response: response, ClientSalt: clientSalt}, nil
}

