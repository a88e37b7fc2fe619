package diddoc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stackdump/did-history/internal/historyerr"
	"github.com/stackdump/did-history/internal/jsonpatch"
	"github.com/stackdump/did-history/internal/scid"
	"github.com/stackdump/did-history/internal/seal"
)

// BuildState applies entry's patch to prev's document (or to nil at
// version 1) and validates the result per spec section 4.F. prev is nil
// only for the very first entry.
func BuildState(prev *DocumentState, entry LogEntry) (*DocumentState, error) {
	var prevDoc any
	if prev != nil {
		prevDoc = prev.Document
	}

	appliedAny, err := jsonpatch.Apply(prevDoc, entry.Patch)
	if err != nil {
		return nil, fmt.Errorf("diddoc: apply patch: %w: %v", historyerr.ErrMalformedLog, err)
	}
	doc, ok := appliedAny.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("diddoc: patched document is not an object: %w", historyerr.ErrMalformedLog)
	}

	docID, ok := doc["id"].(string)
	if !ok {
		return nil, fmt.Errorf("diddoc: document missing string id: %w", historyerr.ErrMalformedLog)
	}

	if prev == nil {
		if err := scid.VerifyIdempotent(doc); err != nil {
			return nil, fmt.Errorf("diddoc: %w: %v", historyerr.ErrIdentityDrift, err)
		}
	} else {
		prevID, _ := prev.Document["id"].(string)
		if docID != prevID {
			return nil, fmt.Errorf("diddoc: document id changed from %q to %q: %w", prevID, docID, historyerr.ErrIdentityDrift)
		}
	}

	controllers, err := normalizeControllers(doc, docID)
	if err != nil {
		return nil, err
	}

	methods, err := parseVerificationMethods(doc, docID)
	if err != nil {
		return nil, err
	}

	authKeys, err := parseAuthentication(doc, docID, methods)
	if err != nil {
		return nil, err
	}

	return &DocumentState{
		Document:    doc,
		VersionID:   entry.VersionID,
		VersionHash: entry.LogHash,
		Timestamp:   entry.Timestamp,
		Controllers: controllers,
		AuthKeys:    authKeys,
		Deactivated: isDeactivated(doc),
		Proofs:      entry.Proofs,
	}, nil
}

// SealEvidence computes a content identifier for a JSON-LD evidence
// attachment (e.g. a service descriptor or an external attestation) so it
// can be referenced from the document's evidence/service entries without
// embedding the full blob in the log line. It does not modify the
// document; callers wire the returned cidString into a patch themselves.
//
// The JSON-LD contexts preloaded for normalization are drawn from s's own
// Document rather than a fixed list: only the vocabularies this specific
// document actually declares or has a reason to need (via its
// verification method types) are registered, so sealing a document that
// never touches DID-core or security vocabulary doesn't silently depend
// on them being preloaded.
func (s *DocumentState) SealEvidence(raw []byte) (string, error) {
	var probe json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("diddoc: seal evidence: %w: %v", historyerr.ErrMalformedLog, err)
	}
	cidStr, _, err := seal.Seal(raw, evidenceContexts(s.Document))
	if err != nil {
		return "", fmt.Errorf("diddoc: seal evidence: %w", err)
	}
	return cidStr, nil
}

// evidenceContexts builds the JSON-LD context preload set doc's own
// declarations call for: the DID-core vocabulary when doc's @context
// names it, and the security-suite vocabulary when either doc's @context
// names it or doc actually carries a Multikey verification method (the
// only verification method type this package supports, always described
// by that vocabulary).
func evidenceContexts(doc map[string]any) map[string]any {
	declared := declaredContextIRIs(doc["@context"])
	contexts := map[string]any{}

	if declared["https://www.w3.org/ns/did/v1"] {
		contexts["https://www.w3.org/ns/did/v1"] = map[string]any{
			"@context": map[string]any{
				"@vocab": "https://www.w3.org/ns/did#",
				"id":     "@id",
				"type":   "@type",
			},
		}
	}

	securityContext := map[string]any{
		"@context": map[string]any{"@vocab": "https://w3id.org/security#"},
	}
	if declared["https://w3id.org/security/data-integrity/v2"] {
		contexts["https://w3id.org/security/data-integrity/v2"] = securityContext
	}
	if declared["https://w3id.org/security/multikey/v1"] || hasMultikeyMethod(doc) {
		contexts["https://w3id.org/security/multikey/v1"] = securityContext
	}
	if declared["https://schema.org"] {
		contexts["https://schema.org"] = map[string]any{
			"@context": map[string]any{"@vocab": "https://schema.org/"},
		}
	}
	return contexts
}

func declaredContextIRIs(raw any) map[string]bool {
	out := map[string]bool{}
	switch v := raw.(type) {
	case string:
		out[v] = true
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out[s] = true
			}
		}
	}
	return out
}

func hasMultikeyMethod(doc map[string]any) bool {
	list, ok := doc["verificationMethod"].([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			if t, _ := m["type"].(string); t == "Multikey" {
				return true
			}
		}
	}
	return false
}

// isDeactivated is the single source of truth for DocumentState.Deactivated:
// document["deactivated"] == true. Nothing else (no log entry field, no
// proof) may set it — see SPEC_FULL.md's resolution of Open Question (c).
func isDeactivated(doc map[string]any) bool {
	v, _ := doc["deactivated"].(bool)
	return v
}

func normalizeControllers(doc map[string]any, docID string) ([]string, error) {
	raw, ok := doc["controller"]
	if !ok {
		return []string{docID}, nil
	}
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("diddoc: controller entry is not a string: %w", historyerr.ErrMalformedLog)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("diddoc: invalid controller field: %w", historyerr.ErrMalformedLog)
	}
}

// resolveLocalID expands a leading "#fragment" reference into "<docID>#fragment".
func resolveLocalID(ref, docID string) string {
	if strings.HasPrefix(ref, "#") {
		return docID + ref
	}
	return ref
}

func parseVerificationMethods(doc map[string]any, docID string) (map[string]map[string]any, error) {
	methods := map[string]map[string]any{}
	raw, ok := doc["verificationMethod"]
	if !ok {
		return methods, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("diddoc: verificationMethod is not a list: %w", historyerr.ErrMalformedLog)
	}
	for _, item := range list {
		if _, err := addVerificationMethod(item, docID, methods); err != nil {
			return nil, err
		}
	}
	return methods, nil
}

func addVerificationMethod(item any, docID string, methods map[string]map[string]any) (string, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return "", fmt.Errorf("diddoc: verification method is not an object: %w", historyerr.ErrMalformedLog)
	}
	rawID, ok := m["id"].(string)
	if !ok {
		return "", fmt.Errorf("diddoc: verification method missing id: %w", historyerr.ErrMalformedLog)
	}
	id := resolveLocalID(rawID, docID)
	if _, exists := methods[id]; exists {
		return "", fmt.Errorf("diddoc: duplicate verification method %q: %w", id, historyerr.ErrMalformedLog)
	}
	methodType, _ := m["type"].(string)
	if methodType != "Multikey" {
		return "", fmt.Errorf("diddoc: unsupported verification method type %q: %w", methodType, historyerr.ErrCryptoRejected)
	}
	methods[id] = m
	return id, nil
}

func parseAuthentication(doc map[string]any, docID string, methods map[string]map[string]any) (map[string]map[string]any, error) {
	authKeys := map[string]map[string]any{}
	raw, ok := doc["authentication"]
	if !ok {
		return authKeys, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("diddoc: authentication is not a list: %w", historyerr.ErrMalformedLog)
	}
	for _, item := range list {
		switch v := item.(type) {
		case string:
			id := resolveLocalID(v, docID)
			if !strings.HasPrefix(id, docID+"#") {
				return nil, fmt.Errorf("diddoc: only local authentication keys are supported (%q): %w", id, historyerr.ErrAuthorityMissing)
			}
			method, ok := methods[id]
			if !ok {
				return nil, fmt.Errorf("diddoc: authentication references unknown method %q: %w", id, historyerr.ErrAuthorityMissing)
			}
			authKeys[id] = method
		case map[string]any:
			id, err := addVerificationMethod(v, docID, methods)
			if err != nil {
				return nil, err
			}
			authKeys[id] = methods[id]
		default:
			return nil, fmt.Errorf("diddoc: invalid authentication entry: %w", historyerr.ErrMalformedLog)
		}
	}
	return authKeys, nil
}
