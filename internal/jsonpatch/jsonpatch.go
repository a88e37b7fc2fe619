// Package jsonpatch implements the subset of RFC 6902 (JSON Patch) the
// history engine needs: applying a patch to reconstruct a document version,
// and diffing two versions to produce the patch that gets appended to the
// log. Apply delegates to github.com/evanphx/json-patch/v5, the RFC 6902
// engine used by trustbloc-did-go, trustbloc-orb, trustbloc-sidetree-svc-go
// and GoogleContainerTools-skaffold in the reference corpus. Diff delegates
// to gomodules.xyz/jsonpatch/v2's CreatePatch, the reflect-based differ
// sigstore-policy-controller vendors alongside evanphx's Apply-only
// library (see DESIGN.md). Operation/Patch remain this package's own types
// since they are the wire format written into log lines; converting to and
// from each library's types happens at the Apply/Diff boundary.
package jsonpatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	evanphx "github.com/evanphx/json-patch/v5"
	gomodjsonpatch "gomodules.xyz/jsonpatch/v2"
)

// Operation is a single RFC 6902 patch operation.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Patch is an ordered list of operations, applied left to right.
type Patch []Operation

// ToGeneric decodes raw JSON into the any/map[string]any/[]any tree used
// throughout this package, preserving number literals via json.Number so
// that round-tripping a document never perturbs its digits.
func ToGeneric(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Apply applies patch to doc and returns the resulting document. doc may be
// nil, in which case the only valid first operation is {"add", "", value}.
func Apply(doc any, patch Patch) (any, error) {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch: marshal document: %w", err)
	}
	patchBytes, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch: marshal patch: %w", err)
	}
	decoded, err := evanphx.DecodePatch(patchBytes)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch: decode patch: %w", err)
	}
	resultBytes, err := decoded.Apply(docBytes)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch: apply patch: %w", err)
	}
	result, err := ToGeneric(resultBytes)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch: decode applied document: %w", err)
	}
	return result, nil
}

// Diff computes a patch that transforms prev into next. prev may be nil, in
// which case the patch is a single root "add" — CreatePatch requires two
// JSON objects/arrays and can't express "no prior document" itself.
func Diff(prev, next any) (Patch, error) {
	if prev == nil {
		return Patch{{Op: "add", Path: "", Value: next}}, nil
	}
	if deepEqual(prev, next) {
		return nil, nil
	}
	prevBytes, err := json.Marshal(prev)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch: marshal prev document: %w", err)
	}
	nextBytes, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch: marshal next document: %w", err)
	}
	ops, err := gomodjsonpatch.CreatePatch(prevBytes, nextBytes)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch: create patch: %w", err)
	}
	patch := make(Patch, len(ops))
	for i, op := range ops {
		patch[i] = Operation{Op: op.Operation, Path: op.Path, Value: op.Value}
	}
	return patch, nil
}

// deepEqual reports whether a and b are structurally identical trees of the
// any/map[string]any/[]any shape encoding/json produces, used to short
// circuit Diff when nothing changed.
func deepEqual(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok && bok {
		if len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !deepEqual(av, bv) {
				return false
			}
		}
		return true
	}
	as, aok := a.([]any)
	bs, bok := b.([]any)
	if aok && bok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !deepEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}
