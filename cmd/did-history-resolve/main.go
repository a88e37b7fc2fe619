// Command did-history-resolve loads a did:tdw document's history log and
// prints the resolved document plus its metadata, optionally cut off at a
// requested version_id or version_time.
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
	"github.com/stackdump/did-history/internal/logx"
)

const timestampLayout = "2006-01-02T15:04:05Z"

type resolveOutput struct {
	Document map[string]any    `json:"document"`
	Metadata resolveOutputMeta `json:"documentMetadata"`
	Proofs   []map[string]any  `json:"proofs,omitempty"`
}

type resolveOutputMeta struct {
	Created     string `json:"created"`
	Updated     string `json:"updated"`
	Deactivated bool   `json:"deactivated"`
	VersionID   int    `json:"versionId"`
}

func main() {
	base := flag.String("base", "data", "base directory for document directories")
	method := flag.String("method", "tdw", "DID method token")
	scidArg := flag.String("scid", "", "the document's SCID (required)")
	versionID := flag.Int("version-id", 0, "optional version_id cutoff")
	versionTime := flag.String("version-time", "", "optional version_time cutoff, RFC 3339 UTC (e.g. 2024-01-01T00:00:00Z)")
	noVerify := flag.Bool("no-verify", false, "skip hash-chain and signature verification (debugging only)")
	flag.Parse()

	log := logx.NewTextLogger()

	if *scidArg == "" {
		fmt.Fprintln(os.Stderr, "Error: -scid is required")
		flag.Usage()
		os.Exit(1)
	}

	opts := history.DefaultOptions()
	opts.VersionID = *versionID
	if *versionTime != "" {
		t, err := time.Parse(timestampLayout, *versionTime)
		if err != nil {
			log.Error("parse -version-time", err)
			os.Exit(1)
		}
		opts.VersionTime = t
	}
	if *noVerify {
		opts.VerifyHash = false
		opts.VerifySignature = false
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
	defer closeSrc()

	state, meta, err := history.LoadHistory(ctx, src, opts)
	if err != nil {
		log.Error("resolve document", err)
		os.Exit(1)
	}

	out := resolveOutput{
		Document: state.Document,
		Metadata: resolveOutputMeta{
			Created:     meta.Created,
			Updated:     meta.Updated,
			Deactivated: meta.Deactivated,
			VersionID:   meta.VersionID,
		},
		Proofs: state.Proofs,
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Error("marshal resolved document", err)
		os.Exit(1)
	}
	fmt.Println(string(encoded))
}
