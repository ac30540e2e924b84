/*
Package migration orchestrates a full classification-and-synthesis run.

PURPOSE:
  Ties the engine stages together per group and scales out across groups:

    load -> exclude existing PHA -> fingerprint -> analyze -> classify
         -> {regime-segment + synthesize | PHA} -> minority floor
         -> staged output

CONCURRENCY MODEL:
  Group-parallel, certificate-sequential. Groups are independent units of
  work pulled from a channel by a bounded worker pool. The only shared
  mutable state is the identifier allocator, seeded exactly once before the
  first worker starts and serialized internally.

PARTIAL-FAILURE ISOLATION:
  One group's failure (including a panic inside its processing) is caught,
  logged with the group id, and recorded in the run summary. The failed
  group is excluded from the processed set so it is never mistakenly
  validated as successful. Sibling groups continue.

SEE ALSO:
  - commission: Fingerprinting, statistics, classification
  - synthesis: Template construction, regime segmentation, PHA records
  - validate: Post-run completeness/ambiguity checks
*/
package migration

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/synthesis"
)

// =============================================================================
// ENGINE - One migration run
// =============================================================================

// Engine runs classification and synthesis for every group in the source.
// Build it with New so the thresholds are validated before any group is
// touched.
type Engine struct {
	Source      commission.CertificateSource
	Assignments commission.AssignmentStore
	Staging     commission.StagingWriter
	Thresholds  commission.Thresholds

	// Workers bounds group-level parallelism. Defaults to 4.
	Workers int

	// RunID stamps every staged row produced by this run.
	RunID string

	alloc *synthesis.IdentifierAllocator
	synth *synthesis.Synthesizer
}

// New validates the thresholds (fail fast: a bad configuration aborts the
// run before any group is processed) and seeds the identifier allocator
// from the target store, exactly once.
func New(ctx context.Context, source commission.CertificateSource, assignments commission.AssignmentStore,
	identifiers commission.IdentifierSource, staging commission.StagingWriter,
	thresholds commission.Thresholds) (*Engine, error) {

	if err := thresholds.Validate(); err != nil {
		return nil, err
	}

	alloc := synthesis.NewIdentifierAllocator()
	if err := alloc.Seed(ctx, identifiers); err != nil {
		return nil, fmt.Errorf("seed identifier allocator: %w", err)
	}

	runID := uuid.NewString()
	return &Engine{
		Source:      source,
		Assignments: assignments,
		Staging:     staging,
		Thresholds:  thresholds,
		Workers:     4,
		RunID:       runID,
		alloc:       alloc,
		synth:       &synthesis.Synthesizer{Alloc: alloc, RunID: runID},
	}, nil
}

// =============================================================================
// RESULTS
// =============================================================================

// GroupResult is everything one group's run produced.
type GroupResult struct {
	Group            commission.GroupID
	Statistics       *commission.GroupStatistics
	Decisions        []commission.ClusterDecision
	Output           commission.StagedOutput
	ExcludedExisting int
}

// GroupFailure records one isolated group failure.
type GroupFailure struct {
	Group commission.GroupID
	Err   error
}

// RunSummary is the user-visible outcome of a run.
type RunSummary struct {
	RunID     string
	Processed []commission.GroupID
	Failed    []GroupFailure

	Certificates int
	Proposals    int
	Assignments  int
}

// =============================================================================
// RUN - Group-parallel processing
// =============================================================================

// Run processes every group in the source through the worker pool and
// returns the summary. Only infrastructure-level failures (listing groups)
// return an error; per-group failures land in the summary.
func (e *Engine) Run(ctx context.Context) (*RunSummary, error) {
	groups, err := e.Source.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return e.RunGroups(ctx, groups)
}

// RunGroups processes the given groups. Used directly when a batch runner
// partitions the group list into disjoint slices.
func (e *Engine) RunGroups(ctx context.Context, groups []commission.GroupID) (*RunSummary, error) {
	summary := &RunSummary{RunID: e.RunID}

	workers := e.Workers
	if workers < 1 {
		workers = 1
	}

	work := make(chan commission.GroupID)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range work {
				result, err := e.processGroup(ctx, group)
				mu.Lock()
				if err != nil {
					log.Printf("migration: group %s failed, continuing: %v", group, err)
					summary.Failed = append(summary.Failed, GroupFailure{Group: group, Err: err})
				} else {
					summary.Processed = append(summary.Processed, group)
					summary.Certificates += result.Statistics.Total + result.ExcludedExisting
					summary.Proposals += len(result.Output.Proposals)
					summary.Assignments += len(result.Output.Assignments)
				}
				mu.Unlock()
			}
		}()
	}

	for _, group := range groups {
		work <- group
	}
	close(work)
	wg.Wait()

	log.Printf("migration: run %s processed %d group(s), %d failed, %d proposal(s), %d assignment(s)",
		summary.RunID, len(summary.Processed), len(summary.Failed), summary.Proposals, summary.Assignments)
	return summary, nil
}

// processGroup isolates one group: any error or panic is wrapped in a
// GroupError and the group is excluded from the processed set.
func (e *Engine) processGroup(ctx context.Context, group commission.GroupID) (result *GroupResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &commission.GroupError{Group: group, Err: err}
		}
	}()

	certs, err := e.Source.LoadCertificates(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("load certificates: %w", err)
	}

	result, err = e.ClassifyAndSynthesize(ctx, group, certs)
	if err != nil {
		return nil, err
	}

	if err := e.Staging.WriteStaged(ctx, group, result.Output); err != nil {
		return nil, fmt.Errorf("write staged output: %w", err)
	}
	return result, nil
}

// =============================================================================
// CLASSIFY AND SYNTHESIZE - The per-group engine surface
// =============================================================================

// ClassifyAndSynthesize runs the full decision pipeline for one group's
// certificates and returns the synthesized structures without persisting
// them. Classification and synthesis for one group run sequentially;
// fingerprinting and statistics are pure.
func (e *Engine) ClassifyAndSynthesize(ctx context.Context, group commission.GroupID, certs []commission.Certificate) (*GroupResult, error) {
	existing, err := e.Assignments.ExistingPHA(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("load existing assignments: %w", err)
	}
	pool, excluded := commission.ExcludeExisting(certs, existing)

	fingerprinted, err := commission.FingerprintAll(pool)
	if err != nil {
		return nil, err
	}

	stats := commission.Analyze(group, fingerprinted)
	if e.Thresholds.LogEntropyByGroup {
		log.Printf("migration: group %s certificates=%d clusters=%d ratio=%.4f entropy=%.4f dominant=%.4f",
			group, stats.Total, len(stats.Clusters), stats.UniqueRatio, stats.Entropy, stats.DominantCoverage)
	}

	decisions := commission.Classify(stats, e.Thresholds)

	var synthesized []*synthesis.SynthesizedCluster
	var assignments []commission.PolicyHierarchyAssignment

	route := func(members []commission.FingerprintedCertificate, reason string) error {
		phas, err := e.synth.BuildAssignments(group, synthesis.MemberCertificates(members), reason)
		if err != nil {
			return err
		}
		assignments = append(assignments, phas...)
		return nil
	}

	for _, decision := range decisions {
		cluster := stats.Clusters[decision.Fingerprint]

		if decision.Disposition == commission.DispositionIndividualized {
			if err := route(cluster.Members, decision.Reason); err != nil {
				return nil, err
			}
			continue
		}

		// Regime segmentation: each segment is re-evaluated as its own
		// candidate cluster before synthesis.
		for _, segment := range synthesis.SegmentRegimes(cluster.Members, e.Thresholds.RegimeGapTolerance) {
			if !commission.ClusterTemplates(len(segment), stats, e.Thresholds) {
				if err := route(segment, commission.ReasonRegimeFragment); err != nil {
					return nil, err
				}
				continue
			}

			chain, err := e.synth.Synthesize(group, segment)
			if commission.IsSynthesisInconsistency(err) {
				log.Printf("migration: group %s: demoting cluster to PHA: %v", group, err)
				if err := route(segment, commission.ReasonSelfCheckFailed); err != nil {
					return nil, err
				}
				continue
			}
			if err != nil {
				return nil, err
			}
			synthesized = append(synthesized, chain)
		}
	}

	// Minority floor runs after all proposals for the group are built.
	demotion := synthesis.ApplyMinorityFloor(synthesized, stats.Total, e.Thresholds.OutlierMinorityFraction)
	if len(demotion.Demoted) > 0 {
		if err := route(demotion.Demoted, commission.ReasonMinorityProposal); err != nil {
			return nil, err
		}
	}

	output := commission.StagedOutput{Assignments: assignments}
	for _, chain := range demotion.Kept {
		output.Proposals = append(output.Proposals, chain.Proposal)
		output.Hierarchies = append(output.Hierarchies, chain.Hierarchy)
		output.HierarchyVersions = append(output.HierarchyVersions, chain.HierarchyVersion)
		output.HierarchyParticipants = append(output.HierarchyParticipants, chain.HierarchyParticipants...)
		output.SplitVersions = append(output.SplitVersions, chain.SplitVersion)
		output.SplitParticipants = append(output.SplitParticipants, chain.SplitParticipants...)
	}

	return &GroupResult{
		Group:            group,
		Statistics:       stats,
		Decisions:        decisions,
		Output:           output,
		ExcludedExisting: len(excluded),
	}, nil
}
