package multiformat

import (
	"fmt"

	varint "github.com/multiformats/go-varint"
)

// codecTable is the tiny multicodec subset this module needs. Only
// ed25519-pub is in scope per spec section 9 ("only ed25519 is in
// scope"); any other codec name is a CryptoRejected-class error upstream.
var codecTable = map[string]uint64{
	"ed25519-pub": 0xed,
}

var codecNames = func() map[uint64]string {
	out := make(map[uint64]string, len(codecTable))
	for name, code := range codecTable {
		out[code] = name
	}
	return out
}()

// WrapMulticodec prefixes key with the varint-encoded multicodec tag for
// name, e.g. producing the familiar 0xed01 two-byte ed25519-pub prefix
// used by Multikey verification methods.
func WrapMulticodec(name string, key []byte) ([]byte, error) {
	code, ok := codecTable[name]
	if !ok {
		return nil, fmt.Errorf("multiformat: unsupported multicodec %q", name)
	}
	prefix := varint.ToUvarint(code)
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	out = append(out, key...)
	return out, nil
}

// UnwrapMulticodec reads the varint multicodec tag off the front of data
// and returns its registered name plus the remaining key bytes.
func UnwrapMulticodec(data []byte) (name string, key []byte, err error) {
	code, n, err := varint.FromUvarint(data)
	if err != nil {
		return "", nil, fmt.Errorf("multiformat: read multicodec varint: %w", err)
	}
	resolved, ok := codecNames[code]
	if !ok {
		return "", nil, fmt.Errorf("multiformat: unrecognized multicodec 0x%x", code)
	}
	return resolved, data[n:], nil
}
