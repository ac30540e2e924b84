package migration_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/commission/store"
	"github.com/warp/commission-engine/migration"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func pct(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func testThresholds() commission.Thresholds {
	return commission.Thresholds{
		HighEntropyUniqueRatio:    0.8,
		HighEntropyShannon:        4.0,
		DominantCoverageThreshold: 0.25,
		PHAClusterSizeThreshold:   5,
		OutlierMinorityFraction:   0.05,
		RegimeGapTolerance:        180 * 24 * time.Hour,
	}
}

func sharedSplits(seed int) []commission.SplitEntry {
	return []commission.SplitEntry{{
		Sequence: 1,
		Percent:  pct("100"),
		Tiers: []commission.Tier{
			{Level: 1, Broker: commission.BrokerID(fmt.Sprintf("BRK-%d", seed)), Schedule: "SCH-STD"},
		},
	}}
}

func cert(id string, group commission.GroupID, effective time.Time, splits []commission.SplitEntry) commission.Certificate {
	return commission.Certificate{
		ID:            commission.CertificateID(id),
		Group:         group,
		ProductCode:   "DENT",
		PlanCode:      "PLAN-1",
		EffectiveDate: effective,
		Status:        "active",
		Splits:        splits,
	}
}

func newEngine(t *testing.T, mem *store.Memory) *migration.Engine {
	t.Helper()
	engine, err := migration.New(context.Background(), mem, mem, mem, mem, testThresholds())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

// =============================================================================
// ENGINE CONSTRUCTION TESTS
// =============================================================================

func TestNew_InvalidThresholds_FailsBeforeProcessing(t *testing.T) {
	// GIVEN: Thresholds with a missing cluster size floor
	// WHEN: Building the engine
	// THEN: Construction fails with a configuration error; no group is touched

	th := testThresholds()
	th.PHAClusterSizeThreshold = 0

	_, err := migration.New(context.Background(), store.NewMemory(), store.NewMemory(), store.NewMemory(), store.NewMemory(), th)
	if !commission.IsConfigError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

// =============================================================================
// END-TO-END GROUP SCENARIOS
// =============================================================================

func TestRun_DominantClusterTemplates_MinorityToPHA(t *testing.T) {
	// GIVEN: A group of 40: 35 certificates share one structure, 5 are
	//        scattered across distinct structures
	// WHEN: Running the engine
	// THEN: One Proposal covering the 35, PHA records for the rest, and no
	//       certificate covered both ways

	mem := store.NewMemory()
	for i := 0; i < 35; i++ {
		mem.AddCertificates("GRP-1", cert(fmt.Sprintf("STD-%d", i), "GRP-1", date(2020, time.January, 1+i%28), sharedSplits(1)))
	}
	for i := 0; i < 5; i++ {
		mem.AddCertificates("GRP-1", cert(fmt.Sprintf("ODD-%d", i), "GRP-1", date(2020, time.February, 1+i), sharedSplits(100+i)))
	}

	engine := newEngine(t, mem)
	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(summary.Processed) != 1 || len(summary.Failed) != 0 {
		t.Fatalf("expected 1 processed 0 failed, got %d / %d", len(summary.Processed), len(summary.Failed))
	}
	if summary.Proposals != 1 {
		t.Errorf("expected 1 proposal, got %d", summary.Proposals)
	}
	if summary.Assignments != 5 {
		t.Errorf("expected 5 assignments, got %d", summary.Assignments)
	}

	assertMutualExclusivity(t, mem, "GRP-1")
}

func TestRun_TwoMajorClusters_BothTemplate(t *testing.T) {
	// GIVEN: A group of 50 split 60/40 across two structures, each structure
	//        tied to its own product line
	// WHEN: Running the engine
	// THEN: Two Proposals, no PHA records, and exact product filters keep
	//       the two templates from overlapping

	mem := store.NewMemory()
	for i := 0; i < 30; i++ {
		c := cert(fmt.Sprintf("DENT-%d", i), "GRP-1", date(2020, time.January, 1+i%28), sharedSplits(1))
		mem.AddCertificates("GRP-1", c)
	}
	for i := 0; i < 20; i++ {
		c := cert(fmt.Sprintf("VISN-%d", i), "GRP-1", date(2020, time.January, 1+i%28), sharedSplits(2))
		c.ProductCode = "VISN"
		mem.AddCertificates("GRP-1", c)
	}

	engine := newEngine(t, mem)
	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Proposals != 2 {
		t.Errorf("expected 2 proposals, got %d", summary.Proposals)
	}
	if summary.Assignments != 0 {
		t.Errorf("expected no assignments, got %d", summary.Assignments)
	}

	assertMutualExclusivity(t, mem, "GRP-1")
}

func TestRun_MinorityProposal_DemotedAfterSynthesis(t *testing.T) {
	// GIVEN: A fragmented group of 179 certificates: ten clusters big enough
	//        to template plus one cluster of 8 (4.5%, below the 5% floor but
	//        above every classification threshold)
	// WHEN: Running the engine
	// THEN: The small cluster's Proposal is discarded after synthesis and
	//       its members re-routed to PHA with the minority reason

	mem := store.NewMemory()
	addCluster := func(prefix string, seed, n int) {
		for i := 0; i < n; i++ {
			c := cert(fmt.Sprintf("%s-%d", prefix, i), "GRP-1", date(2020, time.January, 1+i%28), sharedSplits(seed))
			c.ProductCode = fmt.Sprintf("PROD-%d", seed)
			mem.AddCertificates("GRP-1", c)
		}
	}
	addCluster("DOM", 0, 18)
	for s := 1; s <= 9; s++ {
		addCluster(fmt.Sprintf("MID-%d", s), s, 17)
	}
	addCluster("TINY", 10, 8)

	engine := newEngine(t, mem)
	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Proposals != 10 {
		t.Errorf("expected 10 proposals, got %d", summary.Proposals)
	}
	if summary.Assignments != 8 {
		t.Errorf("expected 8 assignments, got %d", summary.Assignments)
	}

	phas, _ := mem.StagedAssignments(context.Background(), "GRP-1")
	for _, pha := range phas {
		if pha.Reason != commission.ReasonMinorityProposal {
			t.Errorf("assignment %s: expected minority reason, got %q", pha.Certificate, pha.Reason)
		}
	}

	assertMutualExclusivity(t, mem, "GRP-1")
}

func TestRun_HighEntropyGroup_AllPHA(t *testing.T) {
	// GIVEN: 20 certificates, every structure distinct (ratio 1.0,
	//        entropy log2(20) ~ 4.3 bits)
	// WHEN: Running the engine
	// THEN: No Proposal; every certificate gets a PHA record with the
	//       high-entropy reason

	mem := store.NewMemory()
	for i := 0; i < 20; i++ {
		mem.AddCertificates("GRP-1", cert(fmt.Sprintf("C-%d", i), "GRP-1", date(2020, time.January, 1), sharedSplits(i)))
	}

	engine := newEngine(t, mem)
	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Proposals != 0 {
		t.Errorf("expected no proposals, got %d", summary.Proposals)
	}
	if summary.Assignments != 20 {
		t.Errorf("expected 20 assignments, got %d", summary.Assignments)
	}

	phas, _ := mem.StagedAssignments(context.Background(), "GRP-1")
	for _, pha := range phas {
		if pha.Reason != commission.ReasonHighEntropy {
			t.Errorf("assignment %s: expected high-entropy reason, got %q", pha.Certificate, pha.Reason)
		}
	}
}

func TestRun_EmptySplitCertificates_RoutedToPHA(t *testing.T) {
	// GIVEN: A dominant cluster plus 6 certificates with no splits at all
	// WHEN: Running the engine
	// THEN: The splitless certificates are individualized with the
	//       empty-split reason even though their cluster is large

	mem := store.NewMemory()
	for i := 0; i < 30; i++ {
		mem.AddCertificates("GRP-1", cert(fmt.Sprintf("STD-%d", i), "GRP-1", date(2020, time.January, 1), sharedSplits(1)))
	}
	for i := 0; i < 6; i++ {
		mem.AddCertificates("GRP-1", cert(fmt.Sprintf("EMPTY-%d", i), "GRP-1", date(2020, time.January, 1), nil))
	}

	engine := newEngine(t, mem)
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	phas, _ := mem.StagedAssignments(context.Background(), "GRP-1")
	if len(phas) != 6 {
		t.Fatalf("expected 6 assignments, got %d", len(phas))
	}
	for _, pha := range phas {
		if pha.Reason != commission.ReasonEmptySplits {
			t.Errorf("assignment %s: expected empty-split reason, got %q", pha.Certificate, pha.Reason)
		}
	}
}

func TestRun_RegimeGap_TwoProposals(t *testing.T) {
	// GIVEN: One structural cluster of 20, half dated 2015, half dated 2020
	// WHEN: Running with a 180-day gap tolerance
	// THEN: Two Proposals, one per regime, neither spanning the silent years

	mem := store.NewMemory()
	for i := 0; i < 10; i++ {
		mem.AddCertificates("GRP-1", cert(fmt.Sprintf("OLD-%d", i), "GRP-1", date(2015, time.January, 1+i), sharedSplits(1)))
	}
	for i := 0; i < 10; i++ {
		mem.AddCertificates("GRP-1", cert(fmt.Sprintf("NEW-%d", i), "GRP-1", date(2020, time.June, 1+i), sharedSplits(1)))
	}

	engine := newEngine(t, mem)
	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Proposals != 2 {
		t.Fatalf("expected 2 proposals, got %d", summary.Proposals)
	}

	proposals, _ := mem.StagedProposals(context.Background(), "GRP-1")
	for _, p := range proposals {
		if p.EffectiveFrom.Year() == 2014 && p.EffectiveTo.Year() != 2015 {
			t.Errorf("old regime proposal spans the gap: %s..%s", p.EffectiveFrom, p.EffectiveTo)
		}
	}
	// A certificate dated in the silent years matches neither proposal.
	silent := cert("SILENT", "GRP-1", date(2017, time.June, 1), sharedSplits(1))
	for _, p := range proposals {
		if p.Covers(silent) {
			t.Errorf("proposal %d covers the silent period", p.ID)
		}
	}

	assertMutualExclusivity(t, mem, "GRP-1")
}

func TestRun_RegimeFragment_BelowThreshold_PHA(t *testing.T) {
	// GIVEN: A cluster of 23: a 20-member regime and a 3-member fragment
	//        years later (fragment below the size floor of 5)
	// WHEN: Running the engine
	// THEN: One Proposal for the large regime; the fragment goes to PHA
	//       with the regime-fragment reason

	mem := store.NewMemory()
	for i := 0; i < 20; i++ {
		mem.AddCertificates("GRP-1", cert(fmt.Sprintf("MAIN-%d", i), "GRP-1", date(2018, time.January, 1+i), sharedSplits(1)))
	}
	for i := 0; i < 3; i++ {
		mem.AddCertificates("GRP-1", cert(fmt.Sprintf("FRAG-%d", i), "GRP-1", date(2022, time.June, 1+i), sharedSplits(1)))
	}

	engine := newEngine(t, mem)
	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Proposals != 1 {
		t.Errorf("expected 1 proposal, got %d", summary.Proposals)
	}

	phas, _ := mem.StagedAssignments(context.Background(), "GRP-1")
	if len(phas) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(phas))
	}
	for _, pha := range phas {
		if pha.Reason != commission.ReasonRegimeFragment {
			t.Errorf("assignment %s: expected regime-fragment reason, got %q", pha.Certificate, pha.Reason)
		}
	}
}

func TestRun_ExistingPHA_ExcludedFromPool(t *testing.T) {
	// GIVEN: 30 shared-structure certificates, 10 of them already covered
	//        by pre-existing PHA records
	// WHEN: Running the engine
	// THEN: The proposal is built from the remaining 20; the excluded
	//       certificates get no new staged record

	mem := store.NewMemory()
	for i := 0; i < 30; i++ {
		mem.AddCertificates("GRP-1", cert(fmt.Sprintf("C-%d", i), "GRP-1", date(2020, time.January, 1+i%28), sharedSplits(1)))
	}
	for i := 0; i < 10; i++ {
		mem.AddExistingPHA("GRP-1", commission.CertificateID(fmt.Sprintf("C-%d", i)))
	}

	engine := newEngine(t, mem)
	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Proposals != 1 {
		t.Errorf("expected 1 proposal, got %d", summary.Proposals)
	}
	if summary.Assignments != 0 {
		t.Errorf("expected no new assignments, got %d", summary.Assignments)
	}
	if summary.Certificates != 30 {
		t.Errorf("expected 30 certificates counted, got %d", summary.Certificates)
	}
}

// =============================================================================
// PARTIAL-FAILURE ISOLATION
// =============================================================================

// faultySource fails certificate loading for one group.
type faultySource struct {
	*store.Memory
	faulty commission.GroupID
}

func (f *faultySource) LoadCertificates(ctx context.Context, group commission.GroupID) ([]commission.Certificate, error) {
	if group == f.faulty {
		return nil, errors.New("backend unavailable")
	}
	return f.Memory.LoadCertificates(ctx, group)
}

func TestRun_OneGroupFails_SiblingsSucceed(t *testing.T) {
	// GIVEN: Three groups, the middle one failing on load
	// WHEN: Running the engine
	// THEN: The failing group lands in Failed wrapped as a GroupError and is
	//       absent from Processed; the other two complete

	mem := store.NewMemory()
	for _, g := range []commission.GroupID{"GRP-A", "GRP-B", "GRP-C"} {
		for i := 0; i < 10; i++ {
			mem.AddCertificates(g, cert(fmt.Sprintf("%s-%d", g, i), g, date(2020, time.January, 1+i), sharedSplits(1)))
		}
	}
	source := &faultySource{Memory: mem, faulty: "GRP-B"}

	engine, err := migration.New(context.Background(), source, mem, mem, mem, testThresholds())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(summary.Processed) != 2 {
		t.Errorf("expected 2 processed groups, got %d", len(summary.Processed))
	}
	if len(summary.Failed) != 1 {
		t.Fatalf("expected 1 failed group, got %d", len(summary.Failed))
	}
	failure := summary.Failed[0]
	if failure.Group != "GRP-B" {
		t.Errorf("expected GRP-B to fail, got %s", failure.Group)
	}
	var groupErr *commission.GroupError
	if !errors.As(failure.Err, &groupErr) {
		t.Errorf("expected GroupError, got %T", failure.Err)
	}
	for _, g := range summary.Processed {
		if g == "GRP-B" {
			t.Error("failed group must not appear in the processed set")
		}
	}
}

// =============================================================================
// INVARIANT HELPERS
// =============================================================================

// assertMutualExclusivity re-derives coverage: every certificate is either
// PHA-staged or matched by exactly one proposal, never both, never neither.
func assertMutualExclusivity(t *testing.T, mem *store.Memory, group commission.GroupID) {
	t.Helper()
	ctx := context.Background()

	certs, _ := mem.LoadCertificates(ctx, group)
	existing, _ := mem.ExistingPHA(ctx, group)
	proposals, _ := mem.StagedProposals(ctx, group)
	phas, _ := mem.StagedAssignments(ctx, group)

	stagedPHA := make(map[commission.CertificateID]bool)
	for _, pha := range phas {
		stagedPHA[pha.Certificate] = true
	}

	for _, c := range certs {
		if existing[c.ID] {
			continue
		}
		matches := 0
		for _, p := range proposals {
			if p.Covers(c) {
				matches++
			}
		}
		switch {
		case stagedPHA[c.ID] && matches > 0:
			t.Errorf("certificate %s covered by both PHA and a proposal", c.ID)
		case !stagedPHA[c.ID] && matches == 0:
			t.Errorf("certificate %s covered by nothing", c.ID)
		case matches > 1:
			t.Errorf("certificate %s matched by %d proposals", c.ID, matches)
		}
	}
}
