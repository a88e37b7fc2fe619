// Package canonicaljson produces JSON Canonicalization Scheme (RFC 8785)
// bytes for any value that will be hashed or signed by this module. It is
// the sole allowed serialization path for hash/signature input: nothing
// else in this repository may feed encoding/json output directly into a
// hasher.
package canonicaljson

import (
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// Marshal encodes v with encoding/json and then runs the result through
// jcs.Transform to obtain RFC 8785 canonical bytes: object keys sorted by
// UTF-16 code unit, no insignificant whitespace, and numbers in their
// shortest round-trip form. This two-step shape (marshal, then transform)
// mirrors normalizeJSON in the eddsa-jcs-2022 proof implementation this
// package is grounded on.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// MarshalArray is a convenience wrapper for canonicalizing a literal JSON
// array, used by the log-line hash (a canonicalized 4-tuple).
func MarshalArray(items ...any) ([]byte, error) {
	return Marshal(items)
}
