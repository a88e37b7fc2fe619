// Package historyerr holds the sentinel error kinds from spec section 7.
// Every fatal condition the history engine raises wraps one of these with
// fmt.Errorf("...: %w", ...) so callers can classify failures with
// errors.Is, the same wrapped-stdlib-error idiom used throughout the
// teacher codebase (no third-party error library is in scope — see
// DESIGN.md).
package historyerr

import "errors"

var (
	// ErrMalformedLog covers JSON parse failures, wrong line arity, and a
	// bad or unrecognized header.
	ErrMalformedLog = errors.New("malformed log")

	// ErrChainBroken means a recomputed version_hash did not match the
	// hash recorded in the log line, or an entry's timestamp precedes its
	// predecessor's.
	ErrChainBroken = errors.New("chain broken")

	// ErrIdentityDrift means SCID derivation failed at v1, or document.id
	// changed at v>1.
	ErrIdentityDrift = errors.New("identity drift")

	// ErrAuthorityMissing means the DID was absent from the prior
	// controllers, or a proof referenced an unknown verification method.
	ErrAuthorityMissing = errors.New("authority missing")

	// ErrCryptoRejected means an unsupported proof type/cryptosuite/codec
	// was encountered, or a signature failed to verify.
	ErrCryptoRejected = errors.New("crypto rejected")

	// ErrCutoffUnmet means a requested version_id or version_time was
	// never reached while iterating the history.
	ErrCutoffUnmet = errors.New("cutoff unmet")

	// ErrKeyStoreError covers key-not-found and unreadable-store
	// conditions from the key-store adapter.
	ErrKeyStoreError = errors.New("key store error")
)
