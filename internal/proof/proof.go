// Package proof creates and verifies eddsa-jcs-2022 data-integrity proofs
// over DID document versions, per spec section 4.E. It is grounded on the
// eddsa-jcs-2022 cryptosuite implementation in dimkr-tootik's proof
// package, adapted from ActivityPub activities (proofPurpose
// "assertionMethod") to DID document log entries (proofPurpose
// "authentication") and from that package's own JCS+base58 helpers to
// this module's internal/canonicaljson and internal/multiformat.
package proof

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/stackdump/did-history/internal/canonicaljson"
	"github.com/stackdump/did-history/internal/multiformat"
)

const (
	ProofType        = "DataIntegrityProof"
	CryptoSuite      = "eddsa-jcs-2022"
	ProofPurpose     = "authentication"
	MulticodecPubKey = "ed25519-pub"
)

// Proof is a W3C Data Integrity Proof restricted to the eddsa-jcs-2022
// cryptosuite this module supports.
type Proof struct {
	Type               string `json:"type"`
	CryptoSuite        string `json:"cryptosuite"`
	VerificationMethod string `json:"verificationMethod"`
	Created            string `json:"created"`
	Challenge          string `json:"challenge"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue,omitempty"`
}

// AsMap renders the proof as a generic map, the representation the rest of
// the history engine (JSON patches, log entries) works with.
func (p Proof) AsMap() map[string]any {
	m := map[string]any{
		"type":               p.Type,
		"cryptosuite":        p.CryptoSuite,
		"verificationMethod": p.VerificationMethod,
		"created":            p.Created,
		"challenge":          p.Challenge,
		"proofPurpose":       p.ProofPurpose,
	}
	if p.ProofValue != "" {
		m["proofValue"] = p.ProofValue
	}
	return m
}

func fromMap(m map[string]any) Proof {
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return Proof{
		Type:               str("type"),
		CryptoSuite:        str("cryptosuite"),
		VerificationMethod: str("verificationMethod"),
		Created:            str("created"),
		Challenge:          str("challenge"),
		ProofPurpose:       str("proofPurpose"),
		ProofValue:         str("proofValue"),
	}
}

// Create produces an eddsa-jcs-2022 proof over document (which must not
// itself carry a "proof"/"proofs" member) using sk, attributed to
// verificationMethod (a fully-qualified "<did>#<kid>" id), with the given
// challenge (the candidate log-line hash for this version).
func Create(document map[string]any, sk ed25519.PrivateKey, verificationMethod, challenge string, now time.Time) (map[string]any, error) {
	options := map[string]any{
		"type":               ProofType,
		"cryptosuite":        CryptoSuite,
		"verificationMethod": verificationMethod,
		"created":            now.UTC().Format("2006-01-02T15:04:05Z"),
		"challenge":          challenge,
		"proofPurpose":       ProofPurpose,
	}

	sigInput, err := signatureInput(document, options)
	if err != nil {
		return nil, err
	}

	signature := ed25519.Sign(sk, sigInput)
	proofValue, err := multiformat.EncodeBase58BTC(signature)
	if err != nil {
		return nil, fmt.Errorf("proof: encode signature: %w", err)
	}

	options["proofValue"] = proofValue
	return options, nil
}

// Verify checks proofMap against document using the public key embedded in
// method's publicKeyMultibase. method must be of type Multikey with an
// ed25519-pub codec, and proofMap must be type DataIntegrityProof,
// cryptosuite eddsa-jcs-2022, proofPurpose authentication — any other
// combination is rejected outright.
func Verify(document map[string]any, proofMap map[string]any, method map[string]any) error {
	p := fromMap(proofMap)
	if p.Type != ProofType {
		return fmt.Errorf("proof: unsupported type %q", p.Type)
	}
	if p.CryptoSuite != CryptoSuite {
		return fmt.Errorf("proof: unsupported cryptosuite %q", p.CryptoSuite)
	}
	if p.ProofPurpose != ProofPurpose {
		return fmt.Errorf("proof: unsupported proofPurpose %q", p.ProofPurpose)
	}
	if p.ProofValue == "" {
		return fmt.Errorf("proof: missing proofValue")
	}

	methodType, _ := method["type"].(string)
	if methodType != "Multikey" {
		return fmt.Errorf("proof: unsupported verification method type %q", methodType)
	}
	pkMultibase, _ := method["publicKeyMultibase"].(string)
	if pkMultibase == "" {
		return fmt.Errorf("proof: verification method missing publicKeyMultibase")
	}
	mcBytes, err := multiformat.DecodeMultibase(pkMultibase)
	if err != nil {
		return fmt.Errorf("proof: decode publicKeyMultibase: %w", err)
	}
	codec, pubKeyBytes, err := multiformat.UnwrapMulticodec(mcBytes)
	if err != nil {
		return fmt.Errorf("proof: unwrap multicodec key: %w", err)
	}
	if codec != MulticodecPubKey {
		return fmt.Errorf("proof: unsupported key codec %q", codec)
	}
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return fmt.Errorf("proof: invalid ed25519 public key length %d", len(pubKeyBytes))
	}

	optionsWithoutValue := map[string]any{}
	for k, v := range proofMap {
		if k == "proofValue" {
			continue
		}
		optionsWithoutValue[k] = v
	}

	docWithoutProof := map[string]any{}
	for k, v := range document {
		if k == "proof" || k == "proofs" {
			continue
		}
		docWithoutProof[k] = v
	}

	sigInput, err := signatureInput(docWithoutProof, optionsWithoutValue)
	if err != nil {
		return err
	}

	signature, err := multiformat.DecodeMultibase(p.ProofValue)
	if err != nil {
		return fmt.Errorf("proof: decode proofValue: %w", err)
	}

	if !ed25519.Verify(ed25519.PublicKey(pubKeyBytes), sigInput, signature) {
		return fmt.Errorf("proof: signature verification failed")
	}
	return nil
}

// signatureInput computes sha256(JCS(document)) || sha256(JCS(proofOptions)),
// the eddsa-jcs-2022 signing/verification input.
func signatureInput(document, proofOptions map[string]any) ([]byte, error) {
	docCanonical, err := canonicaljson.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("proof: canonicalize document: %w", err)
	}
	optCanonical, err := canonicaljson.Marshal(proofOptions)
	if err != nil {
		return nil, fmt.Errorf("proof: canonicalize proof options: %w", err)
	}
	docHash := sha256.Sum256(docCanonical)
	optHash := sha256.Sum256(optCanonical)
	out := make([]byte, 0, len(docHash)+len(optHash))
	out = append(out, docHash[:]...)
	out = append(out, optHash[:]...)
	return out, nil
}
