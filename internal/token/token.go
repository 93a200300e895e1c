// Package token hashes and verifies the cluster's shared token.
//
// Every broadcast carries a freshly salted argon2id hash of the token encoded
// as a PHC string, so the salt travels with the hash and a receiver can verify
// it without any shared nonce. All nodes hash with the same parameters and
// reject any other cost, so a sender cannot choose how much work a
// verification takes.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Default argon2id parameters.
const (
	DefaultMemory  uint32 = 19 * 1024 // KiB
	DefaultTime    uint32 = 2
	DefaultThreads uint8  = 1

	SaltSize = 16
	KeySize  = 32
)

var (
	ErrMalformed = errors.New("malformed token hash")
	ErrMismatch  = errors.New("token hash does not match")
)

var b64 = base64.RawStdEncoding

// Hash returns a PHC-encoded argon2id hash of token under a new random salt.
func Hash(token string) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return HashWithSalt(token, salt), nil
}

// HashWithSalt returns a PHC-encoded argon2id hash of token under salt.
func HashWithSalt(token string, salt []byte) string {
	key := argon2.IDKey([]byte(token), salt, DefaultTime, DefaultMemory, DefaultThreads, KeySize)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, DefaultMemory, DefaultTime, DefaultThreads,
		b64.EncodeToString(salt), b64.EncodeToString(key))
}

// Verify checks encoded against token. It returns ErrMalformed if encoded is
// not an acceptable argon2id PHC string and ErrMismatch if it was produced
// from a different token.
func Verify(encoded, token string) error {
	p, err := parse(encoded)
	if err != nil {
		return err
	}
	key := argon2.IDKey([]byte(token), p.salt, DefaultTime, DefaultMemory, DefaultThreads, KeySize)
	if subtle.ConstantTimeCompare(key, p.key) != 1 {
		return ErrMismatch
	}
	return nil
}

type params struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func parse(encoded string) (*params, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("%w: expected 5 fields", ErrMalformed)
	}
	if parts[1] != "argon2id" {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformed, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrMalformed, parts[2])
	}

	p := &params{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return nil, fmt.Errorf("%w: parameters %q: %v", ErrMalformed, parts[3], err)
	}
	if p.memory != DefaultMemory || p.time != DefaultTime || p.threads != DefaultThreads {
		return nil, fmt.Errorf("%w: unexpected parameters %q", ErrMalformed, parts[3])
	}

	var err error
	if p.salt, err = b64.DecodeString(parts[4]); err != nil || len(p.salt) < 8 {
		return nil, fmt.Errorf("%w: bad salt", ErrMalformed)
	}
	if p.key, err = b64.DecodeString(parts[5]); err != nil || len(p.key) != KeySize {
		return nil, fmt.Errorf("%w: bad hash", ErrMalformed)
	}
	return p, nil
}
