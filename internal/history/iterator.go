// Package history implements the sliding-window traversal (component G),
// append-only writer (component H), and loader entry points (component I)
// of the history engine, directly grounded on the Python original's
// iter_history/load_history generator and write_document function.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/stackdump/did-history/internal/diddoc"
	"github.com/stackdump/did-history/internal/historyerr"
	"github.com/stackdump/did-history/internal/jsonpatch"
	"github.com/stackdump/did-history/internal/loghash"
	"github.com/stackdump/did-history/internal/proof"
)

// timestampLayout is the ISO-8601-seconds-with-Z layout spec section 6 requires.
const timestampLayout = "2006-01-02T15:04:05Z"

// LineSource yields the raw lines of a log file one at a time. ReadLine
// returns io.EOF (wrapped or bare) once exhausted. Implementations may
// block on I/O; Next passes ctx through so callers can cancel a read.
type LineSource interface {
	ReadLine(ctx context.Context) (string, error)
}

// Options configures an Iterator's traversal and its verification strength.
type Options struct {
	// VersionID, if non-zero, stops the traversal at the entry with this
	// version_id (the last one yielded has exactly this VersionID).
	VersionID int
	// VersionTime, if non-zero, stops the traversal at the latest state
	// whose timestamp is at or before VersionTime.
	VersionTime time.Time
	// VerifyHash disables chain-hash verification when false (default true
	// via DefaultOptions).
	VerifyHash bool
	// VerifySignature disables authority/proof verification when false
	// (default true via DefaultOptions).
	VerifySignature bool
}

// DefaultOptions returns the always-verify traversal options used unless a
// caller opts out explicitly.
func DefaultOptions() Options {
	return Options{VerifyHash: true, VerifySignature: true}
}

// Iterator is the pull-based sliding three-state window over a log's
// entries: prevYielded supplies the authority (controllers/auth keys) a
// proof is checked against, curState is what gets yielded, and nextState is
// the lookahead used to detect both "last entry" and a version_time
// cutoff one step early, exactly as the Python iter_history does.
type Iterator struct {
	src  LineSource
	opts Options

	prevHash string

	prevYielded *diddoc.DocumentState
	curState    *diddoc.DocumentState
	nextState   *diddoc.DocumentState

	done    bool
	started bool
}

// NewIterator reads and validates the log's header line (line 0) from src
// and returns an Iterator ready to yield entries 1..n via Next.
func NewIterator(ctx context.Context, src LineSource, opts Options) (*Iterator, error) {
	line, err := src.ReadLine(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: read log header: %w: %v", historyerr.ErrMalformedLog, err)
	}
	var header diddoc.LogHeader
	if err := unmarshalHeader(line, &header); err != nil {
		return nil, fmt.Errorf("history: parse log header: %w: %v", historyerr.ErrMalformedLog, err)
	}
	if header.HistoryProto != diddoc.HistoryProto {
		return nil, fmt.Errorf("history: unsupported history_proto %q: %w", header.HistoryProto, historyerr.ErrMalformedLog)
	}
	if baseParts := strings.Split(header.BaseProto, ":"); len(baseParts) != 3 || baseParts[0] != "did" || baseParts[1] == "" || baseParts[2] != "1" {
		return nil, fmt.Errorf("history: unsupported base_proto %q: %w", header.BaseProto, historyerr.ErrMalformedLog)
	}
	prevHash, err := loghash.HashBaseProto(header.BaseProto)
	if err != nil {
		return nil, fmt.Errorf("history: seed prev_hash: %w", err)
	}
	return &Iterator{src: src, opts: opts, prevHash: prevHash}, nil
}

func unmarshalHeader(line string, out *diddoc.LogHeader) error {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("history: header has %d elements, want 3", len(raw))
	}
	if err := json.Unmarshal(raw[0], &out.HistoryProto); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &out.BaseProto); err != nil {
		return err
	}
	return json.Unmarshal(raw[2], &out.Meta)
}

type rawEntry struct {
	LogHash   string
	VersionID int
	Timestamp string
	Patch     jsonpatch.Patch
	Proofs    []map[string]any
}

func parseEntryLine(line string) (rawEntry, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(line), &parts); err != nil {
		return rawEntry{}, err
	}
	if len(parts) != 5 {
		return rawEntry{}, fmt.Errorf("history: entry has %d elements, want 5", len(parts))
	}
	var e rawEntry
	if err := json.Unmarshal(parts[0], &e.LogHash); err != nil {
		return rawEntry{}, err
	}
	if err := json.Unmarshal(parts[1], &e.VersionID); err != nil {
		return rawEntry{}, err
	}
	if err := json.Unmarshal(parts[2], &e.Timestamp); err != nil {
		return rawEntry{}, err
	}
	if err := json.Unmarshal(parts[3], &e.Patch); err != nil {
		return rawEntry{}, err
	}
	if err := json.Unmarshal(parts[4], &e.Proofs); err != nil {
		return rawEntry{}, err
	}
	return e, nil
}

// Next advances the window by one entry and returns the next DocumentState
// in version order. It returns (nil, false, nil) once the traversal is
// exhausted with no error, and (nil, false, err) on any verification or
// I/O failure.
func (it *Iterator) Next(ctx context.Context) (*diddoc.DocumentState, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if it.done {
		return nil, false, nil
	}

	for {
		it.curState = it.nextState

		line, err := it.src.ReadLine(ctx)
		switch {
		case errors.Is(err, io.EOF):
			it.nextState = nil
		case err != nil:
			return nil, false, err
		default:
			entry, perr := parseEntryLine(line)
			if perr != nil {
				return nil, false, fmt.Errorf("history: parse entry: %w: %v", historyerr.ErrMalformedLog, perr)
			}
			if it.opts.VerifyHash {
				checkHash, herr := loghash.Hash(it.prevHash, entry.VersionID, entry.Timestamp, entry.Patch)
				if herr != nil {
					return nil, false, fmt.Errorf("history: recompute hash: %w", herr)
				}
				if checkHash != entry.LogHash {
					return nil, false, fmt.Errorf("history: log hash mismatch at version %d: %w", entry.VersionID, historyerr.ErrChainBroken)
				}
			}
			built, berr := diddoc.BuildState(it.curState, diddoc.LogEntry{
				LogHash:   entry.LogHash,
				VersionID: entry.VersionID,
				Timestamp: entry.Timestamp,
				Patch:     entry.Patch,
				Proofs:    entry.Proofs,
			})
			if berr != nil {
				return nil, false, berr
			}
			if it.curState != nil {
				if err := checkMonotonicTimestamp(it.curState.Timestamp, built.Timestamp); err != nil {
					return nil, false, err
				}
			}
			it.nextState = built
			it.prevHash = entry.LogHash

			if !it.opts.VersionTime.IsZero() {
				ts, terr := time.Parse(timestampLayout, built.Timestamp)
				if terr == nil && ts.After(it.opts.VersionTime) {
					it.done = true
				}
			}
		}

		if it.curState != nil {
			if it.curState.VersionID == it.opts.VersionID || it.nextState == nil {
				it.done = true
			}
			if it.opts.VerifySignature {
				if err := it.verifySignature(it.curState); err != nil {
					return nil, false, err
				}
			}
			it.prevYielded = it.curState
			return it.curState, true, nil
		}

		// curState is still nil: nothing has been yielded yet. A
		// version_time cutoff earlier than the first entry sets done here,
		// matching iter_history's generator exiting its while loop before
		// ever yielding — the traversal produced no state at all.
		if it.done {
			return nil, false, fmt.Errorf("history: version_time cutoff never reached: %w", historyerr.ErrCutoffUnmet)
		}
		if it.nextState == nil {
			return nil, false, fmt.Errorf("history: empty document history: %w", historyerr.ErrMalformedLog)
		}
	}
}

// verifySignature checks state's authority (its DID must appear in the
// controllers of the previously yielded state, or of itself at genesis)
// and verifies each of its proofs against that same prior auth-key set,
// mirroring load_log's prev_controllers/prev_auth_keys bookkeeping.
func (it *Iterator) verifySignature(state *diddoc.DocumentState) error {
	authorityControllers := state.Controllers
	authorityKeys := state.AuthKeys
	if it.prevYielded != nil {
		authorityControllers = it.prevYielded.Controllers
		authorityKeys = it.prevYielded.AuthKeys
	}

	docID, _ := state.Document["id"].(string)
	if !containsString(authorityControllers, docID) {
		return fmt.Errorf("history: %q missing from controller set: %w", docID, historyerr.ErrAuthorityMissing)
	}

	if len(state.Proofs) == 0 {
		return fmt.Errorf("history: no proof attached: %w", historyerr.ErrAuthorityMissing)
	}
	for _, p := range state.Proofs {
		methodID, _ := p["verificationMethod"].(string)
		if methodID == "" {
			return fmt.Errorf("history: proof missing verificationMethod: %w", historyerr.ErrAuthorityMissing)
		}
		if len(methodID) > 0 && methodID[0] == '#' {
			methodID = docID + methodID
		}
		method, ok := authorityKeys[methodID]
		if !ok {
			return fmt.Errorf("history: cannot resolve verification method %q: %w", methodID, historyerr.ErrAuthorityMissing)
		}
		if err := proof.Verify(state.Document, p, method); err != nil {
			return fmt.Errorf("history: %w: %v", historyerr.ErrCryptoRejected, err)
		}
	}
	return nil
}

// checkMonotonicTimestamp enforces spec section 6's timestamp_n >=
// timestamp_{n-1} invariant between consecutive entries.
func checkMonotonicTimestamp(prev, next string) error {
	prevTS, err := time.Parse(timestampLayout, prev)
	if err != nil {
		return fmt.Errorf("history: parse previous timestamp %q: %w: %v", prev, historyerr.ErrMalformedLog, err)
	}
	nextTS, err := time.Parse(timestampLayout, next)
	if err != nil {
		return fmt.Errorf("history: parse timestamp %q: %w: %v", next, historyerr.ErrMalformedLog, err)
	}
	if nextTS.Before(prevTS) {
		return fmt.Errorf("history: timestamp %q precedes previous entry's %q: %w", next, prev, historyerr.ErrChainBroken)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
