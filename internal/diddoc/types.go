// Package diddoc implements the per-version document state machine from
// spec section 4.F: applying a patch, validating the resulting document's
// id/controllers/verification methods, and exposing the pieces the
// history iterator and document writer need.
package diddoc

import "github.com/stackdump/did-history/internal/jsonpatch"

// HistoryProto and the base_proto format are the two protocol strings a
// log header must carry, per spec section 6.
const HistoryProto = "history:1"

// BaseProto returns "did:<method>:1", the base_proto string for method.
func BaseProto(method string) string {
	return "did:" + method + ":1"
}

// DocumentState is the resolved state after applying log entries 1..n, per
// spec section 3. It is immutable once constructed; callers must treat it
// as a snapshot and not mutate Document/Controllers/AuthKeys in place.
type DocumentState struct {
	Document    map[string]any
	VersionID   int
	VersionHash string
	Timestamp   string
	Controllers []string
	AuthKeys    map[string]map[string]any
	Deactivated bool
	Proofs      []map[string]any
}

// DocumentMetadata is the aggregate summary load_history returns alongside
// the final DocumentState.
type DocumentMetadata struct {
	Created     string
	Updated     string
	Deactivated bool
	VersionID   int
}

// LogHeader is line 0 of the log file: [history_proto, base_proto, meta].
type LogHeader struct {
	HistoryProto string
	BaseProto    string
	Meta         map[string]any
}

// LogEntry is lines 1..n of the log file: [log_hash, version_id, timestamp, patch, proofs].
type LogEntry struct {
	LogHash   string
	VersionID int
	Timestamp string
	Patch     jsonpatch.Patch
	Proofs    []map[string]any
}
