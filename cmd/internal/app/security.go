package app

import (
	"errors"
	"fmt"

	"huddle/cmd/security/accesskey"
)

// ValidateSecurityConfig enforces the access-key policy at startup.
// Fail-fast: silently running an open gateway when the operator asked for
// authentication is unacceptable.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireAccessKey {
		return nil
	}
	if cfg.AccessKeyHash == "" {
		return errors.New("security policy: HUDDLE_REQUIRE_ACCESS_KEY=true but HUDDLE_ACCESS_KEY_HASH is missing")
	}

	// Verify against a throwaway key to prove the hash parses. A malformed
	// hash would otherwise reject every client at runtime.
	if _, err := accesskey.Verify(cfg.AccessKeyHash, "startup-self-check"); err != nil {
		return fmt.Errorf("security policy: HUDDLE_ACCESS_KEY_HASH is not a usable argon2id hash: %w", err)
	}
	return nil
}
