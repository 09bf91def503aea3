package nwc

import "errors"

var (
	// ErrInvalidFormat is returned when a connection string does not match
	// the nostr+walletconnect grammar.
	ErrInvalidFormat = errors.New("invalid connection string format")

	// ErrMissingMasterSecret is returned at construction time when the
	// master encryption secret is absent or too short.
	ErrMissingMasterSecret = errors.New("master encryption secret is missing or shorter than 32 characters")

	// ErrDecryptionFailed covers tag mismatches and malformed bundles. The
	// cipher fails closed, it never returns partially decrypted data.
	ErrDecryptionFailed = errors.New("credential decryption failed")

	// ErrCorruptPlaintext is returned when decryption succeeds but the
	// output no longer matches the connection-string grammar, which points
	// at a master-secret rotation mismatch.
	ErrCorruptPlaintext = errors.New("decrypted credential is corrupt")

	// ErrNotFoundOrDenied is the uniform answer for both a missing
	// subscription and one owned by somebody else, so callers cannot probe
	// which ids exist.
	ErrNotFoundOrDenied = errors.New("subscription not found")

	// ErrNoCredentialStored is returned by Fetch when the subscription has
	// no stored credential.
	ErrNoCredentialStored = errors.New("no wallet connection stored for subscription")
)
