// Package seal computes a content identifier for an evidence attachment
// carried alongside a resolved DID document (see SPEC_FULL.md's sealed
// evidence attachments section), adapted from the teacher's JSON-LD
// sealing pipeline: URDNA2015 normalization via piprate/json-gold,
// SHA2-256, and a CIDv1 DagJSON identifier encoded base58btc. Unlike the
// teacher's pipeline, the document loader is not a package-level
// singleton: the set of JSON-LD contexts it preloads is assembled fresh
// per call from whatever the caller's own document declares (see
// internal/diddoc's evidenceContexts), since a fixed process-wide set
// can't anticipate every vocabulary a resolved did:tdw document pulls in.
package seal

import (
	"encoding/json"
	"errors"
	"net/http"

	cid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	mh "github.com/multiformats/go-multihash"
	"github.com/piprate/json-gold/ld"
)

// DefaultContexts is the minimal offline context set this package falls
// back to when a caller seals a document without naming any contexts of
// its own (e.g. this package's standalone tests).
func DefaultContexts() map[string]any {
	return map[string]any{
		"https://www.w3.org/ns/did/v1": map[string]any{
			"@context": map[string]any{
				"@vocab": "https://www.w3.org/ns/did#",
				"id":     "@id",
				"type":   "@type",
			},
		},
		"https://w3id.org/security/data-integrity/v2": map[string]any{
			"@context": map[string]any{"@vocab": "https://w3id.org/security#"},
		},
		"https://w3id.org/security/multikey/v1": map[string]any{
			"@context": map[string]any{"@vocab": "https://w3id.org/security#"},
		},
		"https://schema.org": map[string]any{
			"@context": map[string]any{"@vocab": "https://schema.org/"},
		},
	}
}

// buildLoader preloads contexts (falling back to DefaultContexts when the
// caller names none) into a fresh caching loader, so URDNA2015
// normalization never depends on a live network fetch and stays
// deterministic across runs.
func buildLoader(contexts []map[string]any) ld.DocumentLoader {
	httpLoader := ld.NewDefaultDocumentLoader(http.DefaultClient)
	loader := ld.NewCachingDocumentLoader(httpLoader)

	merged := contexts
	if len(merged) == 0 {
		merged = []map[string]any{DefaultContexts()}
	}
	for _, set := range merged {
		for iri, doc := range set {
			loader.AddDocument(iri, doc)
		}
	}
	return loader
}

// Seal takes a raw JSON-LD evidence attachment, canonicalizes it with
// URDNA2015, and returns (cidString, canonicalBytes, error). contexts, if
// given, are preloaded into the normalization loader in place of
// DefaultContexts (which is used only when no contexts are passed), so
// remote context IRIs the document references resolve offline.
//
// canonicalBytes are the N-Quads string returned by Normalize() encoded as
// UTF-8 bytes. The CID is a CIDv1 with the DagJSON codec, SHA2-256
// multihash, encoded base58btc (the "z" prefix) for filesystem-safe
// storage alongside the resolved document.
func Seal(raw []byte, contexts ...map[string]any) (string, []byte, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", nil, err
	}

	proc := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions("")
	opts.Format = "application/n-quads"
	opts.Algorithm = "URDNA2015"
	opts.DocumentLoader = buildLoader(contexts)

	normalized, err := proc.Normalize(doc, opts)
	if err != nil {
		return "", nil, err
	}

	nqStr, ok := normalized.(string)
	if !ok {
		return "", nil, errors.New("seal: unexpected normalized output type")
	}
	normalizedBytes := []byte(nqStr)

	multihash, err := mh.Sum(normalizedBytes, mh.SHA2_256, -1)
	if err != nil {
		return "", nil, err
	}

	c := cid.NewCidV1(cid.DagJSON, multihash)

	cidStr, err := c.StringOfBase(multibase.Base58BTC)
	if err != nil {
		return "", nil, err
	}

	return cidStr, normalizedBytes, nil
}
