// Command did-history-update appends a new version to an existing
// did:tdw document's history log, merging the top-level fields of a
// caller-supplied JSON file into the current document and signing the
// result with a key
// already held in the document's key store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stackdump/did-history/internal/docdir"
	"github.com/stackdump/did-history/internal/history"
	"github.com/stackdump/did-history/internal/keystore"
	"github.com/stackdump/did-history/internal/logx"
	"github.com/stackdump/did-history/internal/passphrase"
)

func main() {
	base := flag.String("base", "data", "base directory for document directories")
	method := flag.String("method", "tdw", "DID method token")
	scidArg := flag.String("scid", "", "the document's SCID (required)")
	kid := flag.String("kid", "key-1", "fragment identifier of the signing key")
	pass := flag.String("pass", "", "passphrase for the document's key store (omit to be prompted)")
	docPath := flag.String("doc", "", "JSON file of top-level fields to merge into the current document (required)")
	flag.Parse()

	log := logx.NewTextLogger()

	if *scidArg == "" || *docPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -scid and -doc are both required")
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

	dir, err := docdir.Open(*base, *method, *scidArg)
	if err != nil {
		log.Error("open document directory", err)
		os.Exit(1)
	}
	if !dir.Exists() {
		log.Error("document not initialized", fmt.Errorf("%s", dir.Path()))
		os.Exit(1)
	}

	ctx := context.Background()
	src, closeSrc, err := history.OpenFileLineSource(dir.LogPath())
	if err != nil {
		log.Error("open history log", err)
		os.Exit(1)
	}
	latest, _, err := history.LoadHistory(ctx, src, history.DefaultOptions())
	closeSrc()
	if err != nil {
		log.Error("load current document state", err)
		os.Exit(1)
	}

	raw, err := os.ReadFile(*docPath)
	if err != nil {
		log.Error("read patch fields", err)
		os.Exit(1)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		log.Error("parse patch fields", err)
		os.Exit(1)
	}

	next := cloneDocument(latest.Document)
	for k, v := range fields {
		if k == "id" {
			continue
		}
		next[k] = v
	}

	verificationMethod := latest.Document["id"].(string) + "#" + *kid
	if _, ok := latest.AuthKeys[verificationMethod]; !ok {
		log.Error("resolve signing key", fmt.Errorf("%q is not in the document's authentication set", verificationMethod))
		os.Exit(1)
	}

	ks := keystore.NewSQLiteStore()
	if err := ks.Open(dir.StorePath(), *pass); err != nil {
		log.Error("open key store", err)
		os.Exit(1)
	}
	defer ks.Close()

	priv, err := ks.FetchKey(verificationMethod)
	if err != nil {
		log.Error("fetch signing key", err)
		os.Exit(1)
	}

	hash, err := history.WriteEntry(dir, latest.Document, next, latest.VersionHash, latest.VersionID+1, priv, verificationMethod, time.Now())
	if err != nil {
		log.Error("write update entry", err)
		os.Exit(1)
	}

	log.Info("document updated", logx.F("version_id", latest.VersionID+1), logx.F("log_hash", hash))
	fmt.Println(hash)
}

func cloneDocument(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
