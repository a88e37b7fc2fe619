// Command did-history-gen creates a new did:tdw document: it generates an
// inception key, derives the document's SCID, and writes the first entry
// of its history log, mirroring the flag-driven shape of the teacher's
// cmd/keygen and cmd/seal.
package main

import (
	"crypto/ed25519"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stackdump/did-history/internal/docdir"
	"github.com/stackdump/did-history/internal/history"
	"github.com/stackdump/did-history/internal/keystore"
	"github.com/stackdump/did-history/internal/logx"
	"github.com/stackdump/did-history/internal/multiformat"
	"github.com/stackdump/did-history/internal/passphrase"
	"github.com/stackdump/did-history/internal/proof"
	"github.com/stackdump/did-history/internal/scid"
)

func main() {
	base := flag.String("base", "data", "base directory for document directories")
	method := flag.String("method", "tdw", "DID method token")
	domain := flag.String("id", "", "method-specific id segment, e.g. a domain (required)")
	kid := flag.String("kid", "key-1", "fragment identifier for the inception key")
	pass := flag.String("pass", "", "passphrase for the document's key store (omit to be prompted)")
	docPath := flag.String("doc", "", "optional JSON file of extra top-level document fields to merge into the draft")
	flag.Parse()

	log := logx.NewTextLogger()

	if *domain == "" {
		fmt.Fprintln(os.Stderr, "Error: -id is required")
		flag.Usage()
		os.Exit(1)
	}
	if *pass == "" {
		prompted, err := passphrase.Prompt("Enter key store passphrase: ")
		if err != nil {
			log.Error("read passphrase", err)
			os.Exit(1)
		}
		*pass = prompted
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		log.Error("generate inception key", err)
		os.Exit(1)
	}

	placeholderID := "did:" + *method + ":" + *domain + ":" + scid.Placeholder
	pkMultibase, err := wrapPublicKey(pub)
	if err != nil {
		log.Error("encode public key", err)
		os.Exit(1)
	}

	draft := map[string]any{
		"id": placeholderID,
		"verificationMethod": []any{
			map[string]any{
				"id":                 placeholderID + "#" + *kid,
				"type":               "Multikey",
				"controller":         placeholderID,
				"publicKeyMultibase": pkMultibase,
			},
		},
		"authentication": []any{placeholderID + "#" + *kid},
	}

	if *docPath != "" {
		if err := mergeExtraFields(draft, *docPath); err != nil {
			log.Error("merge extra document fields", err)
			os.Exit(1)
		}
	}

	finalID, final, err := scid.Derive(draft)
	if err != nil {
		log.Error("derive scid", err)
		os.Exit(1)
	}

	dir, err := docdir.Open(*base, *method, scidFromID(finalID))
	if err != nil {
		log.Error("open document directory", err)
		os.Exit(1)
	}
	if dir.Exists() {
		log.Error("document directory already initialized", fmt.Errorf("%s", dir.Path()))
		os.Exit(1)
	}
	if err := dir.Ensure(); err != nil {
		log.Error("create document directory", err)
		os.Exit(1)
	}

	ks := keystore.NewSQLiteStore()
	if err := ks.Provision(dir.StorePath(), *pass); err != nil {
		log.Error("provision key store", err)
		os.Exit(1)
	}
	defer ks.Close()

	verificationMethod := finalID + "#" + *kid
	if err := ks.InsertKey(verificationMethod, priv); err != nil {
		log.Error("store inception key", err)
		os.Exit(1)
	}

	if _, err := history.WriteInception(dir, final, priv, verificationMethod, time.Now()); err != nil {
		log.Error("write inception entry", err)
		os.Exit(1)
	}

	log.Info("document created", logx.F("id", finalID), logx.F("dir", dir.Path()))
	fmt.Println(finalID)
}

func wrapPublicKey(pub ed25519.PublicKey) (string, error) {
	wrapped, err := multiformat.WrapMulticodec(proof.MulticodecPubKey, pub)
	if err != nil {
		return "", err
	}
	return multiformat.EncodeBase58BTC(wrapped)
}

func mergeExtraFields(draft map[string]any, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var extra map[string]any
	if err := json.Unmarshal(raw, &extra); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for k, v := range extra {
		if k == "id" || k == "verificationMethod" || k == "authentication" {
			continue
		}
		draft[k] = v
	}
	return nil
}

// scidFromID extracts the trailing SCID segment from a did:<method>:...:<scid> id.
func scidFromID(id string) string {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == ':' {
			return id[i+1:]
		}
	}
	return id
}
