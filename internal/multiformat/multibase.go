// Package multiformat wraps the multibase/multihash/multicodec
// self-describing encodings used throughout the history log: log-line
// hashes, SCID digests, and verification-method public keys are all
// multiformat-wrapped rather than raw bytes.
package multiformat

import (
	"fmt"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// FormatHash wraps digest as a sha2-256 multihash and encodes it with
// multibase base58btc, e.g. the "prev_hash"/"log_hash" values that appear
// in every log line.
func FormatHash(digest []byte) (string, error) {
	wrapped, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("multiformat: wrap sha2-256 multihash: %w", err)
	}
	encoded, err := multibase.Encode(multibase.Base58BTC, wrapped)
	if err != nil {
		return "", fmt.Errorf("multiformat: encode multibase: %w", err)
	}
	return encoded, nil
}

// DecodeMultibase decodes a multibase string, supporting at least
// base58btc and base32 (lower), as required by spec section 4.B.
func DecodeMultibase(s string) ([]byte, error) {
	_, data, err := multibase.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("multiformat: decode multibase: %w", err)
	}
	return data, nil
}

// EncodeBase58BTC multibase-encodes raw bytes (e.g. a proof signature)
// using base58btc, without the sha2-256 multihash wrapping FormatHash
// applies.
func EncodeBase58BTC(raw []byte) (string, error) {
	encoded, err := multibase.Encode(multibase.Base58BTC, raw)
	if err != nil {
		return "", fmt.Errorf("multiformat: encode multibase: %w", err)
	}
	return encoded, nil
}
