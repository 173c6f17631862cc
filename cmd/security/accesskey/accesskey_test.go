package accesskey

import (
	"errors"
	"strings"
	"testing"
)

func testParams() Params {
	// Cheap parameters keep the test fast; Verify honors whatever the hash
	// encodes.
	return Params{
		MemoryKiB:   8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerifyRoundTrip(t *testing.T) {
	key := "super-secret-access-key-123"

	enc, err := Hash(key, testParams())
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(enc, "$argon2id$v=19$") {
		t.Fatalf("encoded hash %q lacks the argon2id prefix", enc)
	}

	ok, err := Verify(enc, key)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("correct key must verify")
	}

	ok, err = Verify(enc, "wrong-key-wrong-key-wrong")
	if err != nil {
		t.Fatalf("Verify wrong key: %v", err)
	}
	if ok {
		t.Fatal("wrong key must not verify")
	}
}

func TestHashRejectsShortKeys(t *testing.T) {
	if _, err := Hash("short", testParams()); !errors.Is(err, ErrKeyTooShort) {
		t.Fatalf("short key = %v, want ErrKeyTooShort", err)
	}
}

func TestHashesAreSalted(t *testing.T) {
	key := "super-secret-access-key-123"
	a, err := Hash(key, testParams())
	if err != nil {
		t.Fatalf("Hash a: %v", err)
	}
	b, err := Hash(key, testParams())
	if err != nil {
		t.Fatalf("Hash b: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same key must differ (random salt)")
	}
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	cases := []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA", // wrong variant
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA", // wrong version
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",    // zero params
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",                    // bad base64
	}
	for _, enc := range cases {
		if _, err := Verify(enc, "whatever-key-whatever"); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("hash %q: err = %v, want ErrInvalidHash", enc, err)
		}
	}
}

func TestVerifyRejectsPathologicalCost(t *testing.T) {
	// Params beyond the sanity bounds must be refused before hashing.
	enc := "$argon2id$v=19$m=999999999,t=64,p=64$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA"
	if _, err := Verify(enc, "whatever-key-whatever"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("err = %v, want ErrInvalidHash for oversized params", err)
	}
}
