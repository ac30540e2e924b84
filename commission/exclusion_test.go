package commission_test

import (
	"testing"
	"time"

	"github.com/warp/commission-engine/commission"
)

func TestExcludeExisting_PartitionsPool(t *testing.T) {
	// GIVEN: Three certificates, one already covered by a pre-existing PHA
	// WHEN: Excluding existing assignments
	// THEN: The covered certificate leaves the pool; the others stay in order

	certs := []commission.Certificate{
		cert("C-1", "G", date(2020, time.January, 1), twoTierSplit()),
		cert("C-2", "G", date(2020, time.February, 1), twoTierSplit()),
		cert("C-3", "G", date(2020, time.March, 1), twoTierSplit()),
	}
	existing := map[commission.CertificateID]bool{"C-2": true}

	pool, excluded := commission.ExcludeExisting(certs, existing)

	if len(pool) != 2 || len(excluded) != 1 {
		t.Fatalf("expected pool 2 / excluded 1, got %d / %d", len(pool), len(excluded))
	}
	if pool[0].ID != "C-1" || pool[1].ID != "C-3" {
		t.Errorf("pool order broken: %s, %s", pool[0].ID, pool[1].ID)
	}
	if excluded[0].ID != "C-2" {
		t.Errorf("expected C-2 excluded, got %s", excluded[0].ID)
	}
}

func TestExcludeExisting_NoExisting_PoolUntouched(t *testing.T) {
	certs := []commission.Certificate{
		cert("C-1", "G", date(2020, time.January, 1), twoTierSplit()),
	}

	pool, excluded := commission.ExcludeExisting(certs, nil)

	if len(pool) != 1 || len(excluded) != 0 {
		t.Fatalf("expected pool 1 / excluded 0, got %d / %d", len(pool), len(excluded))
	}
}
