/*
fingerprint.go - Canonical encoding and hashing of split structures

PURPOSE:
  Converts a certificate's ordered commission splits into a stable,
  order-preserving structural encoding and a 256-bit content hash. Two
  certificates with identical structure produce identical fingerprints
  regardless of certificate identity; reordering tiers within a split
  produces a different fingerprint (order is significant).

CANONICALIZATION:
  The structure is encoded as JSON arrays (order-preserving by nature) and
  passed through RFC 8785 JSON Canonicalization (gowebpki/jcs) so the hash
  input is byte-stable across runs and Go versions. Percents are encoded as
  decimal strings, never floats.

HASH:
  SHA-256 over the canonical bytes, hex-encoded. Collision-resistant for
  practical group sizes (tens of thousands of distinct structures).

EDGE CASE:
  A certificate with zero split entries yields the reserved EmptyFingerprint.
  Empty-structure certificates are always routed to PHA.

SEE ALSO:
  - types.go: Fingerprint and FingerprintedCertificate
  - stats.go: Clusters certificates by fingerprint hash
*/
package commission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// EmptyFingerprint is the reserved hash for certificates with no split
// entries. It never collides with a SHA-256 hex digest.
const EmptyFingerprint FingerprintHash = "empty"

// canonicalSplit / canonicalTier define the hash input. Field names are part
// of the fingerprint contract: changing them changes every hash.
type canonicalSplit struct {
	Sequence int             `json:"seq"`
	Percent  string          `json:"pct"`
	Tiers    []canonicalTier `json:"tiers"`
}

type canonicalTier struct {
	Level    int    `json:"level"`
	Broker   string `json:"broker"`
	Schedule string `json:"schedule"`
}

// ComputeFingerprint derives the fingerprint for one certificate. Pure
// function of the split structure: certificate id, group, product, plan,
// dates and status do not participate.
func ComputeFingerprint(c Certificate) (Fingerprint, error) {
	if len(c.Splits) == 0 {
		return Fingerprint{Hash: EmptyFingerprint}, nil
	}

	encoded := make([]canonicalSplit, 0, len(c.Splits))
	for _, split := range c.Splits {
		tiers := make([]canonicalTier, 0, len(split.Tiers))
		for _, tier := range split.Tiers {
			tiers = append(tiers, canonicalTier{
				Level:    tier.Level,
				Broker:   string(tier.Broker),
				Schedule: string(tier.Schedule),
			})
		}
		encoded = append(encoded, canonicalSplit{
			Sequence: split.Sequence,
			Percent:  split.Percent.String(),
			Tiers:    tiers,
		})
	}

	raw, err := json.Marshal(encoded)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint encode: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint canonicalize: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return Fingerprint{
		Hash:      FingerprintHash(hex.EncodeToString(sum[:])),
		Canonical: canonical,
	}, nil
}

// FingerprintAll computes fingerprints for a slice of certificates,
// preserving input order. Safe to call concurrently on disjoint slices.
func FingerprintAll(certs []Certificate) ([]FingerprintedCertificate, error) {
	out := make([]FingerprintedCertificate, 0, len(certs))
	for _, c := range certs {
		fp, err := ComputeFingerprint(c)
		if err != nil {
			return nil, fmt.Errorf("certificate %s: %w", c.ID, err)
		}
		out = append(out, FingerprintedCertificate{Certificate: c, Fingerprint: fp})
	}
	return out, nil
}
