package app

import (
	"testing"

	"huddle/cmd/security/accesskey"
)

func TestValidateSecurityConfig(t *testing.T) {
	hash, err := accesskey.Hash("a-real-access-key-for-tests", accesskey.Params{
		MemoryKiB:   8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"policy off", Config{}, false},
		{"policy off with hash", Config{AccessKeyHash: hash}, false},
		{"policy on, valid hash", Config{RequireAccessKey: true, AccessKeyHash: hash}, false},
		{"policy on, missing hash", Config{RequireAccessKey: true}, true},
		{"policy on, garbage hash", Config{RequireAccessKey: true, AccessKeyHash: "not-a-hash"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSecurityConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}
