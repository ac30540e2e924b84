/*
Package commission provides the core classification engine for commission
structure migration.

PURPOSE:
  This package contains the types and algorithms that decide, per employer
  group, whether a shared templated commission structure (Proposal +
  Hierarchy) can represent the group's certificates, or whether individual
  certificates must carry their own exact historical split configuration
  (Policy Hierarchy Assignment, PHA).

KEY CONCEPTS IN THIS FILE (types.go):
  - Certificate: Immutable input record with ordered commission splits
  - Fingerprint: Canonical hash of a certificate's split structure
  - GroupStatistics: Per-group cluster sizes, entropy, dominant coverage
  - Proposal/Hierarchy: Synthesized shared template entities
  - PolicyHierarchyAssignment: Per-certificate fallback record

DESIGN PRINCIPLES:
  1. Immutability: Certificates are never mutated; clusters are rebuilt,
     never patched in place
  2. Precision: Uses decimal.Decimal for split percents and rates
  3. Type Safety: Strong typing for IDs prevents mixing certificate,
     broker and group identifiers
  4. Determinism: Fingerprints and statistics are pure functions of input

USAGE:
  fps, _ := commission.FingerprintAll(certs)
  stats := commission.Analyze("GRP-001", fps)
  decisions := commission.Classify(stats, thresholds)

SEE ALSO:
  - fingerprint.go: Canonical encoding and hashing
  - stats.go: Group statistics computation
  - classify.go: Threshold-driven disposition logic
  - store.go: Collaborator interfaces (certificate source, staging writer)
*/
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CertificateID string
type GroupID string
type BrokerID string
type ScheduleCode string

// FingerprintHash is a fixed-width key derived from a certificate's split
// structure. All certificates with the same structure share one hash.
type FingerprintHash string

// EntityKind names a surrogate-keyed staging entity. Used when seeding the
// identifier allocator from the target store.
type EntityKind string

const (
	KindProposal             EntityKind = "proposal"
	KindHierarchy            EntityKind = "hierarchy"
	KindHierarchyVersion     EntityKind = "hierarchy_version"
	KindHierarchyParticipant EntityKind = "hierarchy_participant"
	KindSplitVersion         EntityKind = "premium_split_version"
	KindSplitParticipant     EntityKind = "premium_split_participant"
	KindAssignment           EntityKind = "policy_hierarchy_assignment"
)

// Kinds lists every surrogate-keyed entity, in seeding order.
func Kinds() []EntityKind {
	return []EntityKind{
		KindProposal,
		KindHierarchy,
		KindHierarchyVersion,
		KindHierarchyParticipant,
		KindSplitVersion,
		KindSplitParticipant,
		KindAssignment,
	}
}

// =============================================================================
// CERTIFICATE - Immutable input record
// =============================================================================

// Tier is one level of a split's broker hierarchy. Order within a split is
// significant: the same brokers in a different order are a different
// structure.
type Tier struct {
	Level    int
	Broker   BrokerID
	Schedule ScheduleCode
}

// SplitEntry is one commission split on a certificate. A certificate may
// carry several splits, each with its own ordered tier list.
type SplitEntry struct {
	Sequence int
	Percent  decimal.Decimal
	Tiers    []Tier
}

// Certificate is the raw historical input. The engine never mutates it.
type Certificate struct {
	ID            CertificateID
	Group         GroupID
	ProductCode   string
	PlanCode      string
	EffectiveDate time.Time
	Status        string
	Splits        []SplitEntry
}

// WritingBroker returns the tier-1 broker of the first split, which is the
// broker of record for PHA routing. Empty when the certificate has no splits.
func (c Certificate) WritingBroker() BrokerID {
	if len(c.Splits) == 0 || len(c.Splits[0].Tiers) == 0 {
		return ""
	}
	return c.Splits[0].Tiers[0].Broker
}

// PrimaryPercent returns the first split's percent, carried onto PHA records.
func (c Certificate) PrimaryPercent() decimal.Decimal {
	if len(c.Splits) == 0 {
		return decimal.Zero
	}
	return c.Splits[0].Percent
}

// =============================================================================
// FINGERPRINT - Canonical identity of a split structure
// =============================================================================

// Fingerprint pairs the canonical structural encoding with its content hash.
// Two certificates with identical split structure (ignoring certificate
// identity) produce identical fingerprints.
type Fingerprint struct {
	Hash      FingerprintHash
	Canonical []byte
}

// IsEmpty reports whether this is the reserved fingerprint for certificates
// with no split entries. Empty-structure certificates are always routed to
// PHA: there is nothing to template.
func (f Fingerprint) IsEmpty() bool { return f.Hash == EmptyFingerprint }

// FingerprintedCertificate pairs a certificate with its precomputed
// fingerprint. This is the unit the analyzer and synthesizer work on.
type FingerprintedCertificate struct {
	Certificate Certificate
	Fingerprint Fingerprint
}

// =============================================================================
// GROUP STATISTICS - Cluster distribution per group
// =============================================================================

// Cluster is an immutable summary of all certificates in one group sharing
// one fingerprint. Clusters are rebuilt per analysis, never patched.
type Cluster struct {
	Fingerprint Fingerprint
	Members     []FingerprintedCertificate
}

func (cl Cluster) Size() int { return len(cl.Members) }

// GroupStatistics describes how a group's certificates distribute across
// distinct split structures.
//
// Numeric semantics:
//   - UniqueRatio = distinct fingerprints / total certificates
//   - Entropy     = -sum(p_i * log2(p_i)) over cluster-size proportions
//   - DominantCoverage = largest cluster size / total certificates
//
// A single-cluster group has entropy 0; a group where every certificate is
// unique has entropy log2(N) and ratio 1.0.
type GroupStatistics struct {
	Group            GroupID
	Total            int
	Clusters         map[FingerprintHash]Cluster
	UniqueRatio      float64
	Entropy          float64
	DominantCoverage float64
}

// =============================================================================
// CLASSIFICATION - Disposition per cluster
// =============================================================================

type Disposition string

const (
	// DispositionTemplated means the cluster qualifies for a shared
	// Proposal/Hierarchy template.
	DispositionTemplated Disposition = "templated"

	// DispositionIndividualized means every member certificate falls back
	// to its own PolicyHierarchyAssignment record.
	DispositionIndividualized Disposition = "individualized"
)

// ClusterDecision is the classification outcome for one cluster.
type ClusterDecision struct {
	Fingerprint FingerprintHash
	Disposition Disposition
	Size        int

	// Reason is human-readable and is carried onto PHA records, e.g.
	// "high entropy", "below cluster threshold", "empty split list".
	Reason string
}

// =============================================================================
// PROPOSAL - Synthesized shared template
// =============================================================================

// Filter is a product-code or plan-code matcher. Either an exact value or a
// wildcard matching anything. Exhaustive value lists are never emitted; a
// cluster spanning multiple values gets a wildcard so the Proposal stays
// generalizable to certificates not yet seen.
type Filter struct {
	Wildcard bool
	Value    string
}

func ExactFilter(v string) Filter { return Filter{Value: v} }
func WildcardFilter() Filter      { return Filter{Wildcard: true} }

// Matches applies the filter to one code value.
func (f Filter) Matches(v string) bool { return f.Wildcard || f.Value == v }

func (f Filter) String() string {
	if f.Wildcard {
		return "*"
	}
	return f.Value
}

// Proposal is a synthesized shared commission template: a date span plus
// product/plan filters, traceable to the cluster fingerprint it came from.
// Created once per qualifying cluster per run, immutable thereafter, and
// superseded entirely on re-run.
type Proposal struct {
	ID                int64
	Group             GroupID
	EffectiveFrom     time.Time
	EffectiveTo       time.Time
	ProductFilter     Filter
	PlanFilter        Filter
	SourceFingerprint FingerprintHash
	RunID             string
}

// Covers is the in-memory matching rule: half-open date interval
// (effectiveDate > From AND effectiveDate <= To) plus product/plan filters.
// The sqlite store implements the identical rule as a declarative query; the
// two are covered by the same test scenarios.
func (p Proposal) Covers(c Certificate) bool {
	if c.Group != p.Group {
		return false
	}
	if !c.EffectiveDate.After(p.EffectiveFrom) {
		return false
	}
	if c.EffectiveDate.After(p.EffectiveTo) {
		return false
	}
	return p.ProductFilter.Matches(c.ProductCode) && p.PlanFilter.Matches(c.PlanCode)
}

// =============================================================================
// HIERARCHY - Tiered broker/schedule structure backing a Proposal
// =============================================================================

type Hierarchy struct {
	ID         int64
	ProposalID int64
	Group      GroupID
}

type HierarchyVersion struct {
	ID          int64
	HierarchyID int64
	Active      bool
}

// HierarchyParticipant is one tier of the template, preserving level order.
// Schedule is either a schedule-code lookup or a direct commission rate.
type HierarchyParticipant struct {
	ID        int64
	VersionID int64
	Level     int
	Broker    BrokerID
	Schedule  ScheduleCode
	Rate      *decimal.Decimal
}

// PremiumSplitVersion is the split-percent view of the same structure,
// parallel to the hierarchy but expressed as broker/percent.
type PremiumSplitVersion struct {
	ID         int64
	ProposalID int64
}

type PremiumSplitParticipant struct {
	ID             int64
	SplitVersionID int64
	Sequence       int
	Broker         BrokerID
	Percent        decimal.Decimal
}

// =============================================================================
// POLICY HIERARCHY ASSIGNMENT - Per-certificate fallback
// =============================================================================

// PolicyHierarchyAssignment carries a non-conformant certificate's own split
// configuration. Exactly one of {Proposal match, PHA record} covers any
// certificate after a completed run; the validator checks this invariant
// from scratch.
type PolicyHierarchyAssignment struct {
	ID            int64
	Certificate   CertificateID
	Group         GroupID
	SplitPercent  decimal.Decimal
	WritingBroker BrokerID
	NonConforming bool
	Reason        string
	RunID         string
}

// =============================================================================
// STAGED OUTPUT - Everything one group's run produces
// =============================================================================

// StagedOutput is the full set of synthesized structures for one group,
// written transactionally and superseding any prior run's rows.
type StagedOutput struct {
	Proposals             []Proposal
	Hierarchies           []Hierarchy
	HierarchyVersions     []HierarchyVersion
	HierarchyParticipants []HierarchyParticipant
	SplitVersions         []PremiumSplitVersion
	SplitParticipants     []PremiumSplitParticipant
	Assignments           []PolicyHierarchyAssignment
}
