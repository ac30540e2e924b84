/*
regime.go - Date-regime segmentation and minority-floor demotion

PURPOSE:
  A nominally-templated cluster can hide two or more non-overlapping time
  regimes: the same structure used 2010-2014, retired, then revived 2019+.
  Templating such a cluster as one Proposal would cover the silent years
  too. Segmentation splits the cluster at effective-date gaps exceeding the
  configured tolerance; each regime is re-evaluated as its own candidate
  cluster.

GAP CONVENTION (pinned decision):
  A gap exists between consecutive distinct effective dates a < b when
  b.Sub(a) is STRICTLY greater than the tolerance. A certificate dated
  exactly at the boundary joins the earlier regime.

MINORITY FLOOR:
  After all Proposals for a group are built, any Proposal covering less
  than outlierMinorityFraction of the group's total certificates (default
  5%) is discarded and its members re-routed to PHA. This guards against
  templating one-off historical artifacts as if they were stable
  structures.

SEE ALSO:
  - synthesizer.go: Runs on each regime segment
  - commission/classify.go: Size thresholds regime segments are re-checked against
*/
package synthesis

import (
	"sort"
	"time"

	"github.com/warp/commission-engine/commission"
)

// SegmentRegimes splits a cluster's members into date regimes. Members are
// sorted by effective date; a new regime starts wherever the distance to
// the previous date strictly exceeds gapTolerance. Returns at least one
// segment for non-empty input.
func SegmentRegimes(members []commission.FingerprintedCertificate, gapTolerance time.Duration) [][]commission.FingerprintedCertificate {
	if len(members) == 0 {
		return nil
	}

	sorted := make([]commission.FingerprintedCertificate, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool {
		di, dj := sorted[i].Certificate.EffectiveDate, sorted[j].Certificate.EffectiveDate
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		// Stable tie-break so segmentation is deterministic.
		return sorted[i].Certificate.ID < sorted[j].Certificate.ID
	})

	var segments [][]commission.FingerprintedCertificate
	current := []commission.FingerprintedCertificate{sorted[0]}
	for _, m := range sorted[1:] {
		prev := current[len(current)-1].Certificate.EffectiveDate
		if m.Certificate.EffectiveDate.Sub(prev) > gapTolerance {
			segments = append(segments, current)
			current = nil
		}
		current = append(current, m)
	}
	return append(segments, current)
}

// DemotionResult separates the proposals that survive the minority floor
// from the member certificates of discarded ones.
type DemotionResult struct {
	Kept    []*SynthesizedCluster
	Demoted []commission.FingerprintedCertificate
}

// ApplyMinorityFloor discards any synthesized Proposal whose covered
// certificate count is below minorityFraction of the group total and
// collects its members for PHA re-routing. groupTotal is the group's full
// certificate count (classification pool), not just templated members.
func ApplyMinorityFloor(clusters []*SynthesizedCluster, groupTotal int, minorityFraction float64) DemotionResult {
	var result DemotionResult
	if groupTotal == 0 {
		result.Kept = clusters
		return result
	}
	floor := minorityFraction * float64(groupTotal)
	for _, cl := range clusters {
		if float64(len(cl.Members)) < floor {
			result.Demoted = append(result.Demoted, cl.Members...)
			continue
		}
		result.Kept = append(result.Kept, cl)
	}
	return result
}
