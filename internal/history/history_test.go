package history

import (
	"context"
	"crypto/ed25519"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stackdump/did-history/internal/docdir"
	"github.com/stackdump/did-history/internal/historyerr"
	"github.com/stackdump/did-history/internal/multiformat"
	"github.com/stackdump/did-history/internal/proof"
	"github.com/stackdump/did-history/internal/scid"
)

type fixture struct {
	dir  *docdir.Dir
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
	doc  map[string]any
	kid  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	wrapped, err := multiformat.WrapMulticodec(proof.MulticodecPubKey, pub)
	if err != nil {
		t.Fatalf("WrapMulticodec failed: %v", err)
	}
	pkMultibase, err := multiformat.EncodeBase58BTC(wrapped)
	if err != nil {
		t.Fatalf("EncodeBase58BTC failed: %v", err)
	}

	draft := map[string]any{
		"id": "did:tdw:example.com:" + scid.Placeholder,
		"verificationMethod": []any{
			map[string]any{
				"id":                 "did:tdw:example.com:" + scid.Placeholder + "#key-1",
				"type":               "Multikey",
				"controller":         "did:tdw:example.com:" + scid.Placeholder,
				"publicKeyMultibase": pkMultibase,
			},
		},
		"authentication": []any{"did:tdw:example.com:" + scid.Placeholder + "#key-1"},
	}
	_, doc, err := scid.Derive(draft)
	if err != nil {
		t.Fatalf("scid.Derive failed: %v", err)
	}

	tmp := t.TempDir()
	docID := doc["id"].(string)
	parts := strings.Split(docID, ":")
	dir, err := docdir.Open(tmp, parts[1], parts[len(parts)-1])
	if err != nil {
		t.Fatalf("docdir.Open failed: %v", err)
	}

	return &fixture{dir: dir, pub: pub, priv: priv, doc: doc, kid: docID + "#key-1"}
}

func TestWriteInceptionThenLoadHistory(t *testing.T) {
	fx := newFixture(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := WriteInception(fx.dir, fx.doc, fx.priv, fx.kid, now); err != nil {
		t.Fatalf("WriteInception failed: %v", err)
	}

	src, closeFn, err := OpenFileLineSource(fx.dir.LogPath())
	if err != nil {
		t.Fatalf("OpenFileLineSource failed: %v", err)
	}
	defer closeFn()

	state, meta, err := LoadHistory(context.Background(), src, DefaultOptions())
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if state.VersionID != 1 {
		t.Fatalf("expected version 1, got %d", state.VersionID)
	}
	if meta.Created != meta.Updated {
		t.Fatalf("expected created == updated at genesis, got %q vs %q", meta.Created, meta.Updated)
	}
	if meta.VersionID != 1 {
		t.Fatalf("expected metadata version 1, got %d", meta.VersionID)
	}
}

func TestWriteEntryThenLoadHistoryAcrossTwoVersions(t *testing.T) {
	fx := newFixture(t)
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	hash1, err := WriteInception(fx.dir, fx.doc, fx.priv, fx.kid, t1)
	if err != nil {
		t.Fatalf("WriteInception failed: %v", err)
	}

	v2 := map[string]any{}
	for k, v := range fx.doc {
		v2[k] = v
	}
	v2["alsoKnownAs"] = []any{"did:web:example.com"}

	if _, err := WriteEntry(fx.dir, fx.doc, v2, hash1, 2, fx.priv, fx.kid, t2); err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}

	src, closeFn, err := OpenFileLineSource(fx.dir.LogPath())
	if err != nil {
		t.Fatalf("OpenFileLineSource failed: %v", err)
	}
	defer closeFn()

	state, meta, err := LoadHistory(context.Background(), src, DefaultOptions())
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if state.VersionID != 2 {
		t.Fatalf("expected version 2, got %d", state.VersionID)
	}
	if meta.Created == meta.Updated {
		t.Fatalf("expected created != updated across two versions")
	}
	akas, _ := state.Document["alsoKnownAs"].([]any)
	if len(akas) != 1 {
		t.Fatalf("expected alsoKnownAs to survive, got %v", state.Document["alsoKnownAs"])
	}
}

func TestLoadHistoryCutoffByVersionID(t *testing.T) {
	fx := newFixture(t)
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	t3 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	hash1, err := WriteInception(fx.dir, fx.doc, fx.priv, fx.kid, t1)
	if err != nil {
		t.Fatalf("WriteInception failed: %v", err)
	}
	v2 := cloneMap(fx.doc)
	v2["alsoKnownAs"] = []any{"did:web:example.com"}
	hash2, err := WriteEntry(fx.dir, fx.doc, v2, hash1, 2, fx.priv, fx.kid, t2)
	if err != nil {
		t.Fatalf("WriteEntry v2 failed: %v", err)
	}
	v3 := cloneMap(v2)
	v3["alsoKnownAs"] = []any{"did:web:example.com", "did:web:example.org"}
	if _, err := WriteEntry(fx.dir, v2, v3, hash2, 3, fx.priv, fx.kid, t3); err != nil {
		t.Fatalf("WriteEntry v3 failed: %v", err)
	}

	src, closeFn, err := OpenFileLineSource(fx.dir.LogPath())
	if err != nil {
		t.Fatalf("OpenFileLineSource failed: %v", err)
	}
	defer closeFn()

	opts := DefaultOptions()
	opts.VersionID = 2
	state, _, err := LoadHistory(context.Background(), src, opts)
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if state.VersionID != 2 {
		t.Fatalf("expected version 2, got %d", state.VersionID)
	}
}

func TestLoadHistoryCutoffByVersionTime(t *testing.T) {
	fx := newFixture(t)
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	t3 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	hash1, err := WriteInception(fx.dir, fx.doc, fx.priv, fx.kid, t1)
	if err != nil {
		t.Fatalf("WriteInception failed: %v", err)
	}
	v2 := cloneMap(fx.doc)
	v2["alsoKnownAs"] = []any{"did:web:example.com"}
	hash2, err := WriteEntry(fx.dir, fx.doc, v2, hash1, 2, fx.priv, fx.kid, t2)
	if err != nil {
		t.Fatalf("WriteEntry v2 failed: %v", err)
	}
	v3 := cloneMap(v2)
	v3["alsoKnownAs"] = []any{"did:web:example.com", "did:web:example.org"}
	if _, err := WriteEntry(fx.dir, v2, v3, hash2, 3, fx.priv, fx.kid, t3); err != nil {
		t.Fatalf("WriteEntry v3 failed: %v", err)
	}

	between := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	src, closeFn, err := OpenFileLineSource(fx.dir.LogPath())
	if err != nil {
		t.Fatalf("OpenFileLineSource failed: %v", err)
	}
	defer closeFn()
	opts := DefaultOptions()
	opts.VersionTime = between
	state, _, err := LoadHistory(context.Background(), src, opts)
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if state.VersionID != 2 {
		t.Fatalf("expected latest state at-or-before cutoff (v2), got v%d", state.VersionID)
	}

	before := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	src2, closeFn2, err := OpenFileLineSource(fx.dir.LogPath())
	if err != nil {
		t.Fatalf("OpenFileLineSource failed: %v", err)
	}
	defer closeFn2()
	opts2 := DefaultOptions()
	opts2.VersionTime = before
	if _, _, err := LoadHistory(context.Background(), src2, opts2); err == nil {
		t.Fatalf("expected CutoffUnmet for a cutoff before the first entry")
	}
}

func TestLoadHistoryDetectsTamperedChain(t *testing.T) {
	fx := newFixture(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := WriteInception(fx.dir, fx.doc, fx.priv, fx.kid, now); err != nil {
		t.Fatalf("WriteInception failed: %v", err)
	}

	raw, err := os.ReadFile(fx.dir.LogPath())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	tampered := strings.Replace(string(raw), "example.com", "example.net", 1)
	if err := os.WriteFile(fx.dir.LogPath(), []byte(tampered), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	src, closeFn, err := OpenFileLineSource(fx.dir.LogPath())
	if err != nil {
		t.Fatalf("OpenFileLineSource failed: %v", err)
	}
	defer closeFn()

	if _, _, err := LoadHistory(context.Background(), src, DefaultOptions()); err == nil {
		t.Fatalf("expected tampered chain to fail verification")
	}
}

func TestLoadHistoryRejectsNonMonotonicTimestamp(t *testing.T) {
	fx := newFixture(t)
	t1 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	tEarlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	hash1, err := WriteInception(fx.dir, fx.doc, fx.priv, fx.kid, t1)
	if err != nil {
		t.Fatalf("WriteInception failed: %v", err)
	}
	v2 := cloneMap(fx.doc)
	v2["alsoKnownAs"] = []any{"did:web:example.com"}
	if _, err := WriteEntry(fx.dir, fx.doc, v2, hash1, 2, fx.priv, fx.kid, tEarlier); err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}

	src, closeFn, err := OpenFileLineSource(fx.dir.LogPath())
	if err != nil {
		t.Fatalf("OpenFileLineSource failed: %v", err)
	}
	defer closeFn()

	_, _, err = LoadHistory(context.Background(), src, DefaultOptions())
	if err == nil {
		t.Fatalf("expected a decreasing timestamp to be rejected")
	}
	if !errors.Is(err, historyerr.ErrChainBroken) {
		t.Fatalf("expected ErrChainBroken, got %v", err)
	}
}

func TestIterHistoryYieldsEachVersionOnce(t *testing.T) {
	fx := newFixture(t)
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hash1, err := WriteInception(fx.dir, fx.doc, fx.priv, fx.kid, t1)
	if err != nil {
		t.Fatalf("WriteInception failed: %v", err)
	}
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	v2 := cloneMap(fx.doc)
	v2["alsoKnownAs"] = []any{"did:web:example.com"}
	if _, err := WriteEntry(fx.dir, fx.doc, v2, hash1, 2, fx.priv, fx.kid, t2); err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}

	src, closeFn, err := OpenFileLineSource(fx.dir.LogPath())
	if err != nil {
		t.Fatalf("OpenFileLineSource failed: %v", err)
	}
	defer closeFn()

	var seen []int
	for state, err := range IterHistory(context.Background(), src, DefaultOptions()) {
		if err != nil {
			t.Fatalf("iteration error: %v", err)
		}
		seen = append(seen, state.VersionID)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("expected [1 2], got %v", seen)
	}
}

func TestIterHistoryStopsEarlyOnBreak(t *testing.T) {
	fx := newFixture(t)
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hash1, err := WriteInception(fx.dir, fx.doc, fx.priv, fx.kid, t1)
	if err != nil {
		t.Fatalf("WriteInception failed: %v", err)
	}
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	v2 := cloneMap(fx.doc)
	v2["alsoKnownAs"] = []any{"did:web:example.com"}
	if _, err := WriteEntry(fx.dir, fx.doc, v2, hash1, 2, fx.priv, fx.kid, t2); err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}

	src, closeFn, err := OpenFileLineSource(fx.dir.LogPath())
	if err != nil {
		t.Fatalf("OpenFileLineSource failed: %v", err)
	}
	defer closeFn()

	var seen []int
	for state, err := range IterHistory(context.Background(), src, DefaultOptions()) {
		if err != nil {
			t.Fatalf("iteration error: %v", err)
		}
		seen = append(seen, state.VersionID)
		break
	}
	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("expected traversal to stop after the first state, got %v", seen)
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
