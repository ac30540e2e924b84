package commission_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
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

// twoTierSplit is the standard structure most tests cluster on.
func twoTierSplit() []commission.SplitEntry {
	return []commission.SplitEntry{
		{
			Sequence: 1,
			Percent:  pct("100"),
			Tiers: []commission.Tier{
				{Level: 1, Broker: "BRK-A", Schedule: "SCH-STD"},
				{Level: 2, Broker: "BRK-GA", Schedule: "SCH-OVR"},
			},
		},
	}
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

// =============================================================================
// FINGERPRINT TESTS
// =============================================================================

func TestFingerprint_SameStructure_SameHash(t *testing.T) {
	// GIVEN: Two certificates with identical split structure but different
	//        identity, group, product, plan and dates
	// WHEN: Fingerprinting both
	// THEN: The hashes are identical

	a := cert("C-1", "GRP-1", date(2020, time.January, 15), twoTierSplit())
	b := commission.Certificate{
		ID:            "C-2",
		Group:         "GRP-OTHER",
		ProductCode:   "VISN",
		PlanCode:      "PLAN-9",
		EffectiveDate: date(2023, time.June, 30),
		Status:        "lapsed",
		Splits:        twoTierSplit(),
	}

	fpA, err := commission.ComputeFingerprint(a)
	if err != nil {
		t.Fatalf("fingerprint a: %v", err)
	}
	fpB, err := commission.ComputeFingerprint(b)
	if err != nil {
		t.Fatalf("fingerprint b: %v", err)
	}

	if fpA.Hash != fpB.Hash {
		t.Errorf("expected identical hashes, got %s and %s", fpA.Hash, fpB.Hash)
	}
}

func TestFingerprint_Deterministic_AcrossCalls(t *testing.T) {
	// GIVEN: One certificate
	// WHEN: Fingerprinting it repeatedly
	// THEN: Hash and canonical bytes never change

	c := cert("C-1", "GRP-1", date(2020, time.January, 15), twoTierSplit())

	first, err := commission.ComputeFingerprint(c)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := commission.ComputeFingerprint(c)
		if err != nil {
			t.Fatalf("fingerprint: %v", err)
		}
		if again.Hash != first.Hash {
			t.Fatalf("hash changed on call %d: %s vs %s", i, again.Hash, first.Hash)
		}
		if string(again.Canonical) != string(first.Canonical) {
			t.Fatalf("canonical bytes changed on call %d", i)
		}
	}
}

func TestFingerprint_TierOrder_IsSignificant(t *testing.T) {
	// GIVEN: Two certificates with the same tiers in different order
	// WHEN: Fingerprinting both
	// THEN: The hashes differ

	forward := []commission.SplitEntry{{
		Sequence: 1,
		Percent:  pct("100"),
		Tiers: []commission.Tier{
			{Level: 1, Broker: "BRK-A", Schedule: "SCH-STD"},
			{Level: 2, Broker: "BRK-B", Schedule: "SCH-OVR"},
		},
	}}
	reversed := []commission.SplitEntry{{
		Sequence: 1,
		Percent:  pct("100"),
		Tiers: []commission.Tier{
			{Level: 1, Broker: "BRK-B", Schedule: "SCH-OVR"},
			{Level: 2, Broker: "BRK-A", Schedule: "SCH-STD"},
		},
	}}

	fpF, err := commission.ComputeFingerprint(cert("C-1", "G", date(2020, 1, 1), forward))
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	fpR, err := commission.ComputeFingerprint(cert("C-2", "G", date(2020, 1, 1), reversed))
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	if fpF.Hash == fpR.Hash {
		t.Error("reordered tiers produced the same hash")
	}
}

func TestFingerprint_PercentPrecision_Distinguishes(t *testing.T) {
	// GIVEN: Two single-split certificates differing only in split percent
	// WHEN: Fingerprinting both
	// THEN: The hashes differ (percent participates in the structure)

	p60 := []commission.SplitEntry{{Sequence: 1, Percent: pct("60"), Tiers: []commission.Tier{{Level: 1, Broker: "B", Schedule: "S"}}}}
	p40 := []commission.SplitEntry{{Sequence: 1, Percent: pct("40"), Tiers: []commission.Tier{{Level: 1, Broker: "B", Schedule: "S"}}}}

	fpA, _ := commission.ComputeFingerprint(cert("C-1", "G", date(2020, 1, 1), p60))
	fpB, _ := commission.ComputeFingerprint(cert("C-2", "G", date(2020, 1, 1), p40))

	if fpA.Hash == fpB.Hash {
		t.Error("different percents produced the same hash")
	}
}

func TestFingerprint_EmptySplits_ReservedHash(t *testing.T) {
	// GIVEN: A certificate with no split entries
	// WHEN: Fingerprinting it
	// THEN: It gets the reserved empty fingerprint, marked IsEmpty

	fp, err := commission.ComputeFingerprint(cert("C-1", "G", date(2020, 1, 1), nil))
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if fp.Hash != commission.EmptyFingerprint {
		t.Errorf("expected reserved hash, got %s", fp.Hash)
	}
	if !fp.IsEmpty() {
		t.Error("expected IsEmpty")
	}
}

func TestFingerprintAll_PreservesOrder(t *testing.T) {
	// GIVEN: Three certificates
	// WHEN: Fingerprinting the slice
	// THEN: Output pairs keep input order

	certs := []commission.Certificate{
		cert("C-1", "G", date(2020, 1, 1), twoTierSplit()),
		cert("C-2", "G", date(2020, 2, 1), nil),
		cert("C-3", "G", date(2020, 3, 1), twoTierSplit()),
	}

	fps, err := commission.FingerprintAll(certs)
	if err != nil {
		t.Fatalf("fingerprint all: %v", err)
	}
	if len(fps) != 3 {
		t.Fatalf("expected 3 results, got %d", len(fps))
	}
	for i, fc := range fps {
		if fc.Certificate.ID != certs[i].ID {
			t.Errorf("position %d: expected %s, got %s", i, certs[i].ID, fc.Certificate.ID)
		}
	}
	if !fps[1].Fingerprint.IsEmpty() {
		t.Error("expected the splitless certificate to carry the empty fingerprint")
	}
}
