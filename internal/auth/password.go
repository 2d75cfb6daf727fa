package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// HashParams are the Argon2id cost parameters used for new hashes.
// Verification always reads the parameters back out of the stored hash.
type HashParams struct {
	Time      uint32 // iterations
	MemoryKiB uint32
	Threads   uint8
	KeyLen    uint32
	SaltLen   uint32
}

// DefaultHashParams follows the OWASP Argon2id recommendation.
func DefaultHashParams() HashParams {
	return HashParams{
		Time:      3,
		MemoryKiB: 64 * 1024,
		Threads:   1,
		KeyLen:    32,
		SaltLen:   16,
	}
}

// Upper bounds accepted when decoding a stored hash, so a corrupted row
// cannot make a single login allocate gigabytes.
const (
	maxHashTime      = 16
	maxHashMemoryKiB = 1024 * 1024
	minHashKeyLen    = 16
	maxHashKeyLen    = 128
)

var errMalformedHash = errors.New("malformed argon2id hash")

// Argon2Hasher hashes and verifies passwords with Argon2id. It holds no
// mutable state and is safe for concurrent use.
type Argon2Hasher struct {
	params HashParams
}

// NewArgon2Hasher returns a hasher using p. Zero fields fall back to
// DefaultHashParams.
func NewArgon2Hasher(p HashParams) *Argon2Hasher {
	def := DefaultHashParams()
	if p.Time == 0 {
		p.Time = def.Time
	}
	if p.MemoryKiB == 0 {
		p.MemoryKiB = def.MemoryKiB
	}
	if p.Threads == 0 {
		p.Threads = def.Threads
	}
	if p.KeyLen == 0 {
		p.KeyLen = def.KeyLen
	}
	if p.SaltLen == 0 {
		p.SaltLen = def.SaltLen
	}
	return &Argon2Hasher{params: p}
}

// Hash returns plaintext hashed with a fresh random salt, encoded as
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>.
func (h *Argon2Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches encoded. A malformed or
// unsupported hash is a mismatch, never an error.
func (h *Argon2Hasher) Verify(plaintext, encoded string) bool {
	p, salt, key, err := decodeHash(encoded)
	if err != nil {
		return false
	}

	candidate := argon2.IDKey([]byte(plaintext), salt, p.Time, p.MemoryKiB, p.Threads, uint32(len(key))) //nolint:gosec // G115: bounded by maxHashKeyLen
	return subtle.ConstantTimeCompare(key, candidate) == 1
}

func decodeHash(encoded string) (HashParams, []byte, []byte, error) {
	var p HashParams

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" { //nolint:mnd // PHC layout
		return p, nil, nil, errMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, errMalformedHash
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Threads); err != nil {
		return p, nil, nil, errMalformedHash
	}
	if p.Time == 0 || p.Time > maxHashTime || p.MemoryKiB == 0 || p.MemoryKiB > maxHashMemoryKiB || p.Threads == 0 {
		return p, nil, nil, errMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, errMalformedHash
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) < minHashKeyLen || len(key) > maxHashKeyLen {
		return p, nil, nil, errMalformedHash
	}

	return p, salt, key, nil
}
