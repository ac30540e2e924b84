/*
classify.go - Threshold-driven cluster disposition

PURPOSE:
  Applies the configured thresholds to a group's statistics and assigns each
  cluster a disposition: templated (build a Proposal) or individualized
  (route every member to PHA).

DECISION POLICY (first match wins):
  1. Group-level: if uniqueRatio >= highEntropyUniqueRatio AND
     entropy >= highEntropyShannon, the whole group is high-entropy.
     Every cluster is individualized; no Proposal is synthesized.
  2. Cluster-level: the reserved empty fingerprint is always individualized.
  3. Cluster-level: a cluster templates when it is big enough in absolute
     terms (size >= phaClusterSizeThreshold) AND big enough relative to the
     group's dominant cluster (share >= dominantCoverageThreshold * dominant
     coverage). Everything else is noise and goes to PHA.

FAIL FAST:
  Thresholds are validated before any group is processed. A missing or
  out-of-range threshold is a ConfigurationError, never a silent default:
  downstream correctness depends on explicit tuning per migration run.

SEE ALSO:
  - stats.go: Produces the GroupStatistics consumed here
  - errors.go: ConfigError
*/
package commission

import "time"

// =============================================================================
// THRESHOLDS - Per-run classification configuration
// =============================================================================

// Thresholds is the complete classification configuration for one run. The
// four primary thresholds are mandatory; the config loader rejects files
// that omit them before this struct is ever built.
type Thresholds struct {
	// HighEntropyUniqueRatio (0,1]: minimum unique-fingerprint ratio for
	// the group-level high-entropy short-circuit.
	HighEntropyUniqueRatio float64

	// HighEntropyShannon (bits, >=0): minimum Shannon entropy for the
	// group-level high-entropy short-circuit.
	HighEntropyShannon float64

	// DominantCoverageThreshold (0,1]: a cluster's share of the group must
	// be at least this fraction of the dominant cluster's share to count
	// as a legitimate shared template rather than noise.
	DominantCoverageThreshold float64

	// PHAClusterSizeThreshold (>=1): minimum absolute cluster size for
	// templating.
	PHAClusterSizeThreshold int

	// LogEntropyByGroup enables the per-group statistics log line.
	// Diagnostic only; no effect on decisions.
	LogEntropyByGroup bool

	// OutlierMinorityFraction [0,1): proposals covering less than this
	// share of the group total are demoted to PHA after synthesis.
	OutlierMinorityFraction float64

	// RegimeGapTolerance (>0): a gap between consecutive effective dates
	// strictly greater than this splits a cluster into separate regimes.
	RegimeGapTolerance time.Duration
}

// Validate fails fast on missing or out-of-range thresholds.
func (t Thresholds) Validate() error {
	if t.HighEntropyUniqueRatio <= 0 || t.HighEntropyUniqueRatio > 1 {
		return &ConfigError{Field: "highEntropyUniqueRatio", Reason: "must be in (0, 1]"}
	}
	if t.HighEntropyShannon < 0 {
		return &ConfigError{Field: "highEntropyShannon", Reason: "must be >= 0 bits"}
	}
	if t.DominantCoverageThreshold <= 0 || t.DominantCoverageThreshold > 1 {
		return &ConfigError{Field: "dominantCoverageThreshold", Reason: "must be in (0, 1]"}
	}
	if t.PHAClusterSizeThreshold < 1 {
		return &ConfigError{Field: "phaClusterSizeThreshold", Reason: "must be a positive integer"}
	}
	if t.OutlierMinorityFraction < 0 || t.OutlierMinorityFraction >= 1 {
		return &ConfigError{Field: "outlierMinorityFraction", Reason: "must be in [0, 1)"}
	}
	if t.RegimeGapTolerance <= 0 {
		return &ConfigError{Field: "regimeGapTolerance", Reason: "must be a positive duration"}
	}
	return nil
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Reasons carried onto PHA records. Human-readable, stable strings: they end
// up in staged rows and validation evidence.
const (
	ReasonHighEntropy      = "high entropy"
	ReasonBelowThreshold   = "below cluster threshold"
	ReasonEmptySplits      = "empty split list"
	ReasonMinorityProposal = "below minority floor"
	ReasonSelfCheckFailed  = "proposal self-verification failed"
	ReasonRegimeFragment   = "regime fragment below cluster threshold"
)

// HighEntropy reports whether the group as a whole is too scattered to
// template: rule 1 of the decision policy.
func HighEntropy(stats *GroupStatistics, t Thresholds) bool {
	return stats.UniqueRatio >= t.HighEntropyUniqueRatio &&
		stats.Entropy >= t.HighEntropyShannon
}

// Classify assigns a disposition to every cluster in the group, in
// deterministic (descending size) order. Certificates already covered by
// pre-existing PHA records must be excluded from the input pool before
// analysis (see exclusion.go); they never reach this function.
func Classify(stats *GroupStatistics, t Thresholds) []ClusterDecision {
	highEntropy := HighEntropy(stats, t)

	decisions := make([]ClusterDecision, 0, len(stats.Clusters))
	for _, hash := range stats.SortedHashes() {
		cluster := stats.Clusters[hash]
		decision := ClusterDecision{
			Fingerprint: hash,
			Size:        cluster.Size(),
		}

		switch {
		case highEntropy:
			decision.Disposition = DispositionIndividualized
			decision.Reason = ReasonHighEntropy
		case cluster.Fingerprint.IsEmpty():
			decision.Disposition = DispositionIndividualized
			decision.Reason = ReasonEmptySplits
		case ClusterTemplates(cluster.Size(), stats, t):
			decision.Disposition = DispositionTemplated
		default:
			decision.Disposition = DispositionIndividualized
			decision.Reason = ReasonBelowThreshold
		}

		decisions = append(decisions, decision)
	}
	return decisions
}

// ClusterTemplates is rule 3: absolute size floor plus relative share floor
// against the dominant cluster. Also applied to regime segments, which are
// re-evaluated as candidate clusters after segmentation.
func ClusterTemplates(size int, stats *GroupStatistics, t Thresholds) bool {
	if size < t.PHAClusterSizeThreshold {
		return false
	}
	share := float64(size) / float64(stats.Total)
	return share >= t.DominantCoverageThreshold*stats.DominantCoverage
}
