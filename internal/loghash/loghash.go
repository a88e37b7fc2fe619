// Package loghash computes the chained content hash covered by spec
// section 4.D: H(prev_hash, version_id, timestamp, patch).
package loghash

import (
	"crypto/sha256"
	"fmt"

	"github.com/stackdump/did-history/internal/canonicaljson"
	"github.com/stackdump/did-history/internal/jsonpatch"
	"github.com/stackdump/did-history/internal/multiformat"
)

// Hash canonicalizes [prevHash, versionID, timestamp, patch] as a JSON
// array, sha2-256s the result, and multiformat-encodes the digest.
func Hash(prevHash string, versionID int, timestamp string, patch jsonpatch.Patch) (string, error) {
	canonical, err := canonicaljson.MarshalArray(prevHash, versionID, timestamp, patch)
	if err != nil {
		return "", fmt.Errorf("loghash: canonicalize entry: %w", err)
	}
	digest := sha256.Sum256(canonical)
	hash, err := multiformat.FormatHash(digest[:])
	if err != nil {
		return "", fmt.Errorf("loghash: format hash: %w", err)
	}
	return hash, nil
}

// HashBaseProto seeds prev_hash for the header line: format_hash(sha256(base_proto)).
func HashBaseProto(baseProto string) (string, error) {
	digest := sha256.Sum256([]byte(baseProto))
	hash, err := multiformat.FormatHash(digest[:])
	if err != nil {
		return "", fmt.Errorf("loghash: format base proto hash: %w", err)
	}
	return hash, nil
}
