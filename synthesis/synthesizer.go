/*
synthesizer.go - Proposal/Hierarchy construction from templated clusters

PURPOSE:
  For one templated cluster, derives:
  - the Proposal date span (min/max member effective dates, opened on the
    left so the earliest member matches the half-open interval)
  - product/plan filters (exact when the cluster spans one value, wildcard
    when it spans several - never an exhaustive list)
  - the Hierarchy/HierarchyVersion/HierarchyParticipant chain mirroring the
    fingerprint's tier structure, one participant per tier in order
  - the parallel PremiumSplitVersion/Participant percent-oriented view

SELF-VERIFICATION:
  Before a cluster is marked done, every member certificate is checked
  against the constructed Proposal's matching rule. A member that escapes
  the filter means the Proposal is inconsistent; the cluster is demoted to
  PHA by the caller rather than staging a template that silently drops
  certificates.

FILTER RULE (pinned decision):
  Exactly one distinct product (or plan) code in the cluster => exact
  filter. More than one => wildcard. Wildcards keep the Proposal
  generalizable to certificates not yet seen.

SEE ALSO:
  - allocator.go: The only source of surrogate identifiers
  - regime.go: Splits clusters into date regimes before synthesis
*/
package synthesis

import (
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// SYNTHESIZED CLUSTER - Everything one templated cluster produces
// =============================================================================

// SynthesizedCluster bundles the Proposal with its full entity chain and the
// member certificates it covers.
type SynthesizedCluster struct {
	Proposal              commission.Proposal
	Hierarchy             commission.Hierarchy
	HierarchyVersion      commission.HierarchyVersion
	HierarchyParticipants []commission.HierarchyParticipant
	SplitVersion          commission.PremiumSplitVersion
	SplitParticipants     []commission.PremiumSplitParticipant
	Members               []commission.FingerprintedCertificate
}

// =============================================================================
// SYNTHESIZER
// =============================================================================

// Synthesizer builds templates for one run. It holds the run id stamped
// onto every Proposal and the allocator all identifiers come from.
type Synthesizer struct {
	Alloc *IdentifierAllocator
	RunID string
}

// Synthesize builds the full entity chain for one templated cluster. The
// members must be non-empty and share one fingerprint. On self-verification
// failure it returns a SynthesisError; the caller demotes the cluster.
func (s *Synthesizer) Synthesize(group commission.GroupID, members []commission.FingerprintedCertificate) (*SynthesizedCluster, error) {
	if len(members) == 0 {
		return nil, &commission.SynthesisError{Group: group, Detail: "cluster has no members"}
	}
	fingerprint := members[0].Fingerprint

	proposal, err := s.buildProposal(group, fingerprint.Hash, members)
	if err != nil {
		return nil, err
	}

	// Self-verify before constructing the rest of the chain: every member
	// must match the Proposal by construction.
	for _, m := range members {
		if !proposal.Covers(m.Certificate) {
			return nil, &commission.SynthesisError{
				Group:       group,
				Fingerprint: fingerprint.Hash,
				Certificate: m.Certificate.ID,
				Detail:      "member escapes constructed filter",
			}
		}
	}

	chain, err := s.buildChain(group, proposal, members[0].Certificate)
	if err != nil {
		return nil, err
	}
	chain.Members = members
	return chain, nil
}

// buildProposal derives the date span and product/plan filters.
func (s *Synthesizer) buildProposal(group commission.GroupID, hash commission.FingerprintHash, members []commission.FingerprintedCertificate) (commission.Proposal, error) {
	id, err := s.Alloc.Next(commission.KindProposal)
	if err != nil {
		return commission.Proposal{}, err
	}

	minDate, maxDate := members[0].Certificate.EffectiveDate, members[0].Certificate.EffectiveDate
	products := make(map[string]bool)
	plans := make(map[string]bool)
	for _, m := range members {
		d := m.Certificate.EffectiveDate
		if d.Before(minDate) {
			minDate = d
		}
		if d.After(maxDate) {
			maxDate = d
		}
		products[m.Certificate.ProductCode] = true
		plans[m.Certificate.PlanCode] = true
	}

	return commission.Proposal{
		ID:    id,
		Group: group,
		// Matching is effectiveDate > From, so the span opens one day
		// before the earliest member.
		EffectiveFrom:     minDate.AddDate(0, 0, -1),
		EffectiveTo:       maxDate,
		ProductFilter:     deriveFilter(products),
		PlanFilter:        deriveFilter(plans),
		SourceFingerprint: hash,
		RunID:             s.RunID,
	}, nil
}

// deriveFilter: one distinct value => exact; several => wildcard.
func deriveFilter(values map[string]bool) commission.Filter {
	if len(values) == 1 {
		for v := range values {
			return commission.ExactFilter(v)
		}
	}
	return commission.WildcardFilter()
}

// buildChain constructs the hierarchy and premium-split entities from the
// representative certificate's split structure. All members share the
// fingerprint, so any member is structurally representative.
func (s *Synthesizer) buildChain(group commission.GroupID, proposal commission.Proposal, rep commission.Certificate) (*SynthesizedCluster, error) {
	hierarchyID, err := s.Alloc.Next(commission.KindHierarchy)
	if err != nil {
		return nil, err
	}
	versionID, err := s.Alloc.Next(commission.KindHierarchyVersion)
	if err != nil {
		return nil, err
	}
	splitVersionID, err := s.Alloc.Next(commission.KindSplitVersion)
	if err != nil {
		return nil, err
	}

	chain := &SynthesizedCluster{
		Proposal:         proposal,
		Hierarchy:        commission.Hierarchy{ID: hierarchyID, ProposalID: proposal.ID, Group: group},
		HierarchyVersion: commission.HierarchyVersion{ID: versionID, HierarchyID: hierarchyID, Active: true},
		SplitVersion:     commission.PremiumSplitVersion{ID: splitVersionID, ProposalID: proposal.ID},
	}

	level := 0
	for _, split := range rep.Splits {
		for _, tier := range split.Tiers {
			level++
			participantID, err := s.Alloc.Next(commission.KindHierarchyParticipant)
			if err != nil {
				return nil, err
			}
			chain.HierarchyParticipants = append(chain.HierarchyParticipants, commission.HierarchyParticipant{
				ID:        participantID,
				VersionID: versionID,
				Level:     level,
				Broker:    tier.Broker,
				Schedule:  tier.Schedule,
			})
		}

		splitParticipantID, err := s.Alloc.Next(commission.KindSplitParticipant)
		if err != nil {
			return nil, err
		}
		chain.SplitParticipants = append(chain.SplitParticipants, commission.PremiumSplitParticipant{
			ID:             splitParticipantID,
			SplitVersionID: splitVersionID,
			Sequence:       split.Sequence,
			Broker:         firstBroker(split),
			Percent:        split.Percent,
		})
	}

	return chain, nil
}

func firstBroker(split commission.SplitEntry) commission.BrokerID {
	if len(split.Tiers) == 0 {
		return ""
	}
	return split.Tiers[0].Broker
}

// =============================================================================
// PHA PATH - Individualized fallback records
// =============================================================================

// BuildAssignments creates one PolicyHierarchyAssignment per certificate,
// flagged non-conforming with the given human-readable reason. This is the
// only place PHA records are minted.
func (s *Synthesizer) BuildAssignments(group commission.GroupID, certs []commission.Certificate, reason string) ([]commission.PolicyHierarchyAssignment, error) {
	phas := make([]commission.PolicyHierarchyAssignment, 0, len(certs))
	for _, c := range certs {
		id, err := s.Alloc.Next(commission.KindAssignment)
		if err != nil {
			return nil, err
		}
		phas = append(phas, commission.PolicyHierarchyAssignment{
			ID:            id,
			Certificate:   c.ID,
			Group:         group,
			SplitPercent:  c.PrimaryPercent(),
			WritingBroker: c.WritingBroker(),
			NonConforming: true,
			Reason:        reason,
			RunID:         s.RunID,
		})
	}
	return phas, nil
}

// MemberCertificates extracts the raw certificates from fingerprinted pairs.
func MemberCertificates(members []commission.FingerprintedCertificate) []commission.Certificate {
	certs := make([]commission.Certificate, 0, len(members))
	for _, m := range members {
		certs = append(certs, m.Certificate)
	}
	return certs
}
