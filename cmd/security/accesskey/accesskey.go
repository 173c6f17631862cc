// Package accesskey hashes and verifies gateway access keys with Argon2id.
//
// Access keys are high-entropy machine credentials (not human passwords), so
// the default cost is lighter than an interactive-login profile while still
// making offline attacks on a leaked hash expensive.
package accesskey

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Version = 19 // argon2.Version is 0x13 (19)

// Package errors.
var (
	ErrInvalidHash = errors.New("accesskey: malformed or unsupported hash")
	ErrKeyTooShort = errors.New("accesskey: key too short")
)

// Params controls Argon2id hashing cost. MemoryKiB is in KiB as required by
// argon2.IDKey.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams is the baseline cost for access-key hashing.
func DefaultParams() Params {
	return Params{
		MemoryKiB:   19 * 1024,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// MinKeyLength is the minimum accepted key length in bytes.
const MinKeyLength = 16

// Hash hashes key using Argon2id and returns an encoded hash string.
// Format: $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
func Hash(key string, p Params) (string, error) {
	if len(key) < MinKeyLength {
		return "", ErrKeyTooShort
	}

	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	derived := argon2.IDKey([]byte(key), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	enc := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		p.MemoryKiB,
		p.Iterations,
		p.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(derived),
	)
	return enc, nil
}

// Verify checks whether key matches the encoded hash. Returns (true, nil) on
// match, (false, nil) on mismatch, and (false, ErrInvalidHash) for
// malformed or unreasonably costly hashes.
func Verify(encodedHash, key string) (bool, error) {
	params, salt, expected, err := decode(encodedHash)
	if err != nil {
		return false, err
	}

	// Refuse attacker-controlled hashes whose params would cause
	// pathological resource usage.
	if !withinReasonableBounds(params) {
		return false, ErrInvalidHash
	}

	derived := argon2.IDKey(
		[]byte(key),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		uint32(len(expected)), // #nosec G115 -- bounded by decode; safe conversion.
	)

	if subtle.ConstantTimeCompare(derived, expected) == 1 {
		return true, nil
	}
	return false, nil
}

func withinReasonableBounds(got Params) bool {
	limits := DefaultParams()
	if got.MemoryKiB > limits.MemoryKiB*8 {
		return false
	}
	if got.Iterations > limits.Iterations*8 {
		return false
	}
	if got.Parallelism > 8 {
		return false
	}
	if got.SaltLength < 8 || got.SaltLength > 64 {
		return false
	}
	if got.KeyLength < 16 || got.KeyLength > 128 {
		return false
	}
	return true
}

// decode parses the encoded hash and returns params, salt and expected key.
func decode(encoded string) (Params, []byte, []byte, error) {
	// Expected: $argon2id$v=19$m=19456,t=2,p=1$<salt>$<hash>
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var mem, it uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	hash, err := b64.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}

	p := Params{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: par,
		SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by withinReasonableBounds.
		KeyLength:   uint32(len(hash)), // #nosec G115 -- bounded by withinReasonableBounds.
	}
	return p, salt, hash, nil
}
