/*
Package validate re-derives coverage from staged output and checks the
engine's central invariant: every certificate is covered by exactly one of
{a Proposal match, a PHA record} - never both, never neither.

PURPOSE:
  The validator is deliberately independent of synthesizer state. It
  recomputes, from scratch and through the StagingReader alone, which
  certificates are not PHA-covered, then matches each against the staged
  Proposals by group, half-open date range and product/plan filter.

MATCHING:
  When the staging reader implements commission.ProposalMatcher (the sqlite
  store does), matching is delegated to the store's declarative query; the
  in-memory typed predicate is used otherwise. The two implementations are
  behaviorally identical and covered by the same test scenarios.

REPORTS:
  Per group: non-PHA count, unmatched count (must be 0), overlapping count
  (certificates matching >= 2 Proposals; must be 0), with sample evidence
  capped at a handful of certificate ids. Deep mode adds referential
  completeness of the full chain (Proposal -> SplitVersion -> Participant,
  Proposal -> Hierarchy -> Version -> Participant) and a content
  cross-check that every broker/schedule referenced by templated source
  certificates appears in the synthesized hierarchy.

IDEMPOTENCE:
  Validation only reads. Running it twice against unchanged staged output
  yields identical reports.

SEE ALSO:
  - commission/store.go: StagingReader and ProposalMatcher
  - migration/pipeline.go: Produces the staged output checked here
*/
package validate

import (
	"context"
	"fmt"

	"github.com/warp/commission-engine/commission"
)

// sampleLimit caps evidence lists so a pathological group does not flood
// the report.
const sampleLimit = 5

// =============================================================================
// REPORTS
// =============================================================================

// Report is the validation outcome for one group.
type Report struct {
	Group       commission.GroupID
	NonPHACount int

	// UnmatchedCount certificates match no Proposal. Must be 0.
	UnmatchedCount  int
	UnmatchedSample []commission.CertificateID

	// OverlappingCount certificates match two or more Proposals. Must be 0.
	OverlappingCount  int
	OverlappingSample []commission.CertificateID

	// Deep is populated in deep mode only.
	Deep *DeepReport
}

// Passed reports whether the group validates clean.
func (r Report) Passed() bool {
	if r.UnmatchedCount != 0 || r.OverlappingCount != 0 {
		return false
	}
	return r.Deep == nil || r.Deep.passed()
}

// DeepReport covers referential and content completeness.
type DeepReport struct {
	// ChainGaps describe broken links in the
	// Proposal->SplitVersion->Participant->Hierarchy->Version->Participant
	// chain.
	ChainGaps []string

	// DualCoveredCount certificates hold a staged PHA record AND match a
	// Proposal, violating mutual exclusivity.
	DualCoveredCount  int
	DualCoveredSample []commission.CertificateID

	// MissingBrokers/MissingSchedules are referenced by templated source
	// certificates but absent from the synthesized hierarchy.
	MissingBrokers   []commission.BrokerID
	MissingSchedules []commission.ScheduleCode
}

func (d *DeepReport) passed() bool {
	return len(d.ChainGaps) == 0 && d.DualCoveredCount == 0 &&
		len(d.MissingBrokers) == 0 && len(d.MissingSchedules) == 0
}

// =============================================================================
// VALIDATOR
// =============================================================================

type Validator struct {
	Source      commission.CertificateSource
	Assignments commission.AssignmentStore
	Staging     commission.StagingReader
}

// Validate checks each group and returns one report per group, in input
// order. An error is infrastructure-level only; validation findings live in
// the reports. Use Summarize to turn failing reports into an error.
func (v *Validator) Validate(ctx context.Context, groups []commission.GroupID, deep bool) ([]Report, error) {
	reports := make([]Report, 0, len(groups))
	for _, group := range groups {
		report, err := v.validateGroup(ctx, group, deep)
		if err != nil {
			return nil, fmt.Errorf("validate group %s: %w", group, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Summarize converts reports into a ValidationError when any group failed.
// Returns nil when everything passed.
func Summarize(reports []Report) error {
	var failed []commission.GroupID
	for _, r := range reports {
		if !r.Passed() {
			failed = append(failed, r.Group)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &commission.ValidationError{FailedGroups: failed}
}

func (v *Validator) validateGroup(ctx context.Context, group commission.GroupID, deep bool) (Report, error) {
	report := Report{Group: group}

	certs, err := v.Source.LoadCertificates(ctx, group)
	if err != nil {
		return report, err
	}
	existing, err := v.Assignments.ExistingPHA(ctx, group)
	if err != nil {
		return report, err
	}
	stagedPHAs, err := v.Staging.StagedAssignments(ctx, group)
	if err != nil {
		return report, err
	}
	proposals, err := v.Staging.StagedProposals(ctx, group)
	if err != nil {
		return report, err
	}

	stagedPHA := make(map[commission.CertificateID]bool, len(stagedPHAs))
	for _, pha := range stagedPHAs {
		stagedPHA[pha.Certificate] = true
	}

	matcher, hasMatcher := v.Staging.(commission.ProposalMatcher)

	var deepReport *DeepReport
	if deep {
		deepReport = &DeepReport{}
	}

	var matchedCerts []commission.Certificate
	for _, c := range certs {
		if existing[c.ID] {
			continue
		}

		matches, err := v.countMatches(ctx, c, proposals, matcher, hasMatcher)
		if err != nil {
			return report, err
		}

		if stagedPHA[c.ID] {
			// PHA-covered. In deep mode, also matching a Proposal is a
			// mutual-exclusivity violation.
			if deepReport != nil && matches > 0 {
				deepReport.DualCoveredCount++
				if len(deepReport.DualCoveredSample) < sampleLimit {
					deepReport.DualCoveredSample = append(deepReport.DualCoveredSample, c.ID)
				}
			}
			continue
		}

		report.NonPHACount++
		switch {
		case matches == 0:
			report.UnmatchedCount++
			if len(report.UnmatchedSample) < sampleLimit {
				report.UnmatchedSample = append(report.UnmatchedSample, c.ID)
			}
		case matches > 1:
			report.OverlappingCount++
			if len(report.OverlappingSample) < sampleLimit {
				report.OverlappingSample = append(report.OverlappingSample, c.ID)
			}
		default:
			matchedCerts = append(matchedCerts, c)
		}
	}

	if deepReport != nil {
		if err := v.checkChains(ctx, group, proposals, matchedCerts, deepReport); err != nil {
			return report, err
		}
		report.Deep = deepReport
	}

	return report, nil
}

func (v *Validator) countMatches(ctx context.Context, c commission.Certificate,
	proposals []commission.Proposal, matcher commission.ProposalMatcher, hasMatcher bool) (int, error) {

	if hasMatcher {
		ids, err := matcher.MatchingProposalIDs(ctx, c)
		if err != nil {
			return 0, err
		}
		return len(ids), nil
	}

	matches := 0
	for _, p := range proposals {
		if p.Covers(c) {
			matches++
		}
	}
	return matches, nil
}

// checkChains walks the full referential chain for every proposal and
// cross-checks broker/schedule content coverage.
func (v *Validator) checkChains(ctx context.Context, group commission.GroupID,
	proposals []commission.Proposal, matchedCerts []commission.Certificate, deep *DeepReport) error {

	hierarchies, err := v.Staging.StagedHierarchies(ctx, group)
	if err != nil {
		return err
	}
	hierarchyByProposal := make(map[int64]commission.Hierarchy, len(hierarchies))
	for _, h := range hierarchies {
		hierarchyByProposal[h.ProposalID] = h
	}

	seenBrokers := make(map[commission.BrokerID]bool)
	seenSchedules := make(map[commission.ScheduleCode]bool)

	for _, p := range proposals {
		splitVersions, err := v.Staging.StagedSplitVersions(ctx, p.ID)
		if err != nil {
			return err
		}
		if len(splitVersions) == 0 {
			deep.ChainGaps = append(deep.ChainGaps, fmt.Sprintf("proposal %d has no premium split version", p.ID))
		}
		for _, sv := range splitVersions {
			parts, err := v.Staging.StagedSplitParticipants(ctx, sv.ID)
			if err != nil {
				return err
			}
			if len(parts) == 0 {
				deep.ChainGaps = append(deep.ChainGaps, fmt.Sprintf("split version %d has no participants", sv.ID))
			}
			for _, part := range parts {
				seenBrokers[part.Broker] = true
			}
		}

		h, ok := hierarchyByProposal[p.ID]
		if !ok {
			deep.ChainGaps = append(deep.ChainGaps, fmt.Sprintf("proposal %d has no hierarchy", p.ID))
			continue
		}
		versions, err := v.Staging.StagedHierarchyVersions(ctx, h.ID)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			deep.ChainGaps = append(deep.ChainGaps, fmt.Sprintf("hierarchy %d has no version", h.ID))
		}
		for _, ver := range versions {
			parts, err := v.Staging.StagedHierarchyParticipants(ctx, ver.ID)
			if err != nil {
				return err
			}
			if len(parts) == 0 {
				deep.ChainGaps = append(deep.ChainGaps, fmt.Sprintf("hierarchy version %d has no participants", ver.ID))
			}
			for _, part := range parts {
				seenBrokers[part.Broker] = true
				seenSchedules[part.Schedule] = true
			}
		}
	}

	// Content cross-check: brokers/schedules referenced by templated
	// source certificates must appear in the synthesized hierarchy.
	missingBrokers := make(map[commission.BrokerID]bool)
	missingSchedules := make(map[commission.ScheduleCode]bool)
	for _, c := range matchedCerts {
		for _, split := range c.Splits {
			for _, tier := range split.Tiers {
				if !seenBrokers[tier.Broker] && !missingBrokers[tier.Broker] {
					missingBrokers[tier.Broker] = true
					deep.MissingBrokers = append(deep.MissingBrokers, tier.Broker)
				}
				if !seenSchedules[tier.Schedule] && !missingSchedules[tier.Schedule] {
					missingSchedules[tier.Schedule] = true
					deep.MissingSchedules = append(deep.MissingSchedules, tier.Schedule)
				}
			}
		}
	}

	return nil
}
