package history

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stackdump/did-history/internal/diddoc"
	"github.com/stackdump/did-history/internal/docdir"
	"github.com/stackdump/did-history/internal/jsonpatch"
	"github.com/stackdump/did-history/internal/loghash"
	"github.com/stackdump/did-history/internal/proof"
)

// Clock is a time source. WriteInception and WriteEntry do not take one:
// they take the time directly as their now argument, which tests fix and
// the cmd binaries set from time.Now.
type Clock func() time.Time

// WriteInception creates dir's log file, writes the header line, and
// appends the document's first entry (version_id 1, prev_document nil).
// document must already carry its final (post-SCID) id.
func WriteInception(dir *docdir.Dir, document map[string]any, sk ed25519.PrivateKey, verificationMethod string, now time.Time) (string, error) {
	if err := dir.Ensure(); err != nil {
		return "", fmt.Errorf("history: create document directory: %w", err)
	}

	method, err := methodFromDocID(document)
	if err != nil {
		return "", err
	}
	baseProto := diddoc.BaseProto(method)
	header := []any{diddoc.HistoryProto, baseProto, map[string]any{}}
	headerLine, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("history: marshal header: %w", err)
	}
	if err := os.WriteFile(dir.LogPath(), append(headerLine, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("history: write log header: %w", err)
	}

	prevHash, err := loghash.HashBaseProto(baseProto)
	if err != nil {
		return "", fmt.Errorf("history: seed prev_hash: %w", err)
	}

	return writeEntry(dir, nil, document, prevHash, 1, sk, verificationMethod, now)
}

// WriteEntry appends a new version to an already-initialized log,
// diffing prevDocument against document to produce the RFC 6902 patch.
func WriteEntry(dir *docdir.Dir, prevDocument, document map[string]any, prevHash string, versionID int, sk ed25519.PrivateKey, verificationMethod string, now time.Time) (string, error) {
	return writeEntry(dir, prevDocument, document, prevHash, versionID, sk, verificationMethod, now)
}

func writeEntry(dir *docdir.Dir, prevDocument, document map[string]any, prevHash string, versionID int, sk ed25519.PrivateKey, verificationMethod string, now time.Time) (string, error) {
	var patch jsonpatch.Patch
	var err error
	if prevDocument == nil {
		patch, err = jsonpatch.Diff(nil, document)
	} else {
		patch, err = jsonpatch.Diff(prevDocument, document)
	}
	if err != nil {
		return "", fmt.Errorf("history: diff document: %w", err)
	}

	timestamp := now.UTC().Format(timestampLayout)

	curHash, err := loghash.Hash(prevHash, versionID, timestamp, patch)
	if err != nil {
		return "", fmt.Errorf("history: compute log hash: %w", err)
	}

	p, err := proof.Create(document, sk, verificationMethod, curHash, now)
	if err != nil {
		return "", fmt.Errorf("history: create proof: %w", err)
	}

	line := []any{curHash, versionID, timestamp, patch, []any{p}}
	encoded, err := json.Marshal(line)
	if err != nil {
		return "", fmt.Errorf("history: marshal log entry: %w", err)
	}

	f, err := os.OpenFile(dir.LogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("history: open log for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(encoded, '\n')); err != nil {
		return "", fmt.Errorf("history: append log entry: %w", err)
	}

	pretty, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return "", fmt.Errorf("history: marshal document snapshot: %w", err)
	}
	if err := os.WriteFile(dir.VersionPath(versionID), pretty, 0o644); err != nil {
		return "", fmt.Errorf("history: write versioned snapshot: %w", err)
	}
	if err := os.WriteFile(dir.CurrentPath(), pretty, 0o644); err != nil {
		return "", fmt.Errorf("history: write current snapshot: %w", err)
	}

	return curHash, nil
}

func methodFromDocID(document map[string]any) (string, error) {
	id, ok := document["id"].(string)
	if !ok {
		return "", fmt.Errorf("history: document missing string id")
	}
	parts := strings.Split(id, ":")
	if len(parts) < 3 || parts[0] != "did" {
		return "", fmt.Errorf("history: invalid document id %q", id)
	}
	return parts[1], nil
}
