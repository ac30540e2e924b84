/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/migration"
	"github.com/warp/commission-engine/validate"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// GroupStatisticsDTO is the diagnostic view of one group's fingerprint
// distribution.
type GroupStatisticsDTO struct {
	Group            string  `json:"group"`
	Certificates     int     `json:"certificates"`
	Clusters         int     `json:"clusters"`
	UniqueRatio      float64 `json:"unique_ratio"`
	Entropy          float64 `json:"entropy"`
	DominantCoverage float64 `json:"dominant_coverage"`
}

// ProposalDTO represents a staged proposal.
type ProposalDTO struct {
	ID                int64  `json:"id"`
	Group             string `json:"group"`
	EffectiveFrom     string `json:"effective_from"`
	EffectiveTo       string `json:"effective_to"`
	ProductFilter     string `json:"product_filter"`
	PlanFilter        string `json:"plan_filter"`
	SourceFingerprint string `json:"source_fingerprint"`
	RunID             string `json:"run_id"`
}

// AssignmentDTO represents a staged policy hierarchy assignment.
type AssignmentDTO struct {
	ID            int64  `json:"id"`
	CertificateID string `json:"certificate_id"`
	Group         string `json:"group"`
	SplitPercent  string `json:"split_percent"`
	WritingBroker string `json:"writing_broker"`
	NonConforming bool   `json:"non_conforming"`
	Reason        string `json:"reason"`
	RunID         string `json:"run_id"`
}

// RunRequest triggers a migration run. Empty Groups means all groups.
type RunRequest struct {
	Groups []string `json:"groups,omitempty"`
}

// RunSummaryDTO is the outcome of one migration run.
type RunSummaryDTO struct {
	RunID        string            `json:"run_id"`
	Processed    []string          `json:"processed"`
	Failed       []GroupFailureDTO `json:"failed,omitempty"`
	Certificates int               `json:"certificates"`
	Proposals    int               `json:"proposals"`
	Assignments  int               `json:"assignments"`
}

type GroupFailureDTO struct {
	Group string `json:"group"`
	Error string `json:"error"`
}

// ValidateRequest runs post-hoc validation. Empty Groups means all groups.
type ValidateRequest struct {
	Groups []string `json:"groups,omitempty"`
	Deep   bool     `json:"deep,omitempty"`
}

// ValidationReportDTO is the per-group validation outcome.
type ValidationReportDTO struct {
	Group             string         `json:"group"`
	NonPHACount       int            `json:"non_pha_count"`
	UnmatchedCount    int            `json:"unmatched_count"`
	UnmatchedSample   []string       `json:"unmatched_sample,omitempty"`
	OverlappingCount  int            `json:"overlapping_count"`
	OverlappingSample []string       `json:"overlapping_sample,omitempty"`
	Passed            bool           `json:"passed"`
	Deep              *DeepReportDTO `json:"deep,omitempty"`
}

type DeepReportDTO struct {
	ChainGaps         []string `json:"chain_gaps,omitempty"`
	DualCoveredCount  int      `json:"dual_covered_count"`
	DualCoveredSample []string `json:"dual_covered_sample,omitempty"`
	MissingBrokers    []string `json:"missing_brokers,omitempty"`
	MissingSchedules  []string `json:"missing_schedules,omitempty"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DOMAIN -> DTO MAPPING
// =============================================================================

func toStatisticsDTO(stats *commission.GroupStatistics) GroupStatisticsDTO {
	return GroupStatisticsDTO{
		Group:            string(stats.Group),
		Certificates:     stats.Total,
		Clusters:         len(stats.Clusters),
		UniqueRatio:      stats.UniqueRatio,
		Entropy:          stats.Entropy,
		DominantCoverage: stats.DominantCoverage,
	}
}

func toProposalDTO(p commission.Proposal) ProposalDTO {
	return ProposalDTO{
		ID:                p.ID,
		Group:             string(p.Group),
		EffectiveFrom:     p.EffectiveFrom.Format("2006-01-02"),
		EffectiveTo:       p.EffectiveTo.Format("2006-01-02"),
		ProductFilter:     p.ProductFilter.String(),
		PlanFilter:        p.PlanFilter.String(),
		SourceFingerprint: string(p.SourceFingerprint),
		RunID:             p.RunID,
	}
}

func toAssignmentDTO(a commission.PolicyHierarchyAssignment) AssignmentDTO {
	return AssignmentDTO{
		ID:            a.ID,
		CertificateID: string(a.Certificate),
		Group:         string(a.Group),
		SplitPercent:  a.SplitPercent.String(),
		WritingBroker: string(a.WritingBroker),
		NonConforming: a.NonConforming,
		Reason:        a.Reason,
		RunID:         a.RunID,
	}
}

func toRunSummaryDTO(s *migration.RunSummary) RunSummaryDTO {
	dto := RunSummaryDTO{
		RunID:        s.RunID,
		Processed:    make([]string, 0, len(s.Processed)),
		Certificates: s.Certificates,
		Proposals:    s.Proposals,
		Assignments:  s.Assignments,
	}
	for _, g := range s.Processed {
		dto.Processed = append(dto.Processed, string(g))
	}
	for _, f := range s.Failed {
		dto.Failed = append(dto.Failed, GroupFailureDTO{Group: string(f.Group), Error: f.Err.Error()})
	}
	return dto
}

func toValidationReportDTO(r validate.Report) ValidationReportDTO {
	dto := ValidationReportDTO{
		Group:             string(r.Group),
		NonPHACount:       r.NonPHACount,
		UnmatchedCount:    r.UnmatchedCount,
		UnmatchedSample:   certIDs(r.UnmatchedSample),
		OverlappingCount:  r.OverlappingCount,
		OverlappingSample: certIDs(r.OverlappingSample),
		Passed:            r.Passed(),
	}
	if r.Deep != nil {
		deep := &DeepReportDTO{
			ChainGaps:         r.Deep.ChainGaps,
			DualCoveredCount:  r.Deep.DualCoveredCount,
			DualCoveredSample: certIDs(r.Deep.DualCoveredSample),
		}
		for _, b := range r.Deep.MissingBrokers {
			deep.MissingBrokers = append(deep.MissingBrokers, string(b))
		}
		for _, sc := range r.Deep.MissingSchedules {
			deep.MissingSchedules = append(deep.MissingSchedules, string(sc))
		}
		dto.Deep = deep
	}
	return dto
}

func certIDs(ids []commission.CertificateID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}
