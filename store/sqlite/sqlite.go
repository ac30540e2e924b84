/*
Package sqlite provides the SQLite-backed staging store for the migration.

PURPOSE:
  Implements every collaborator interface the engine consumes
  (CertificateSource, AssignmentStore, IdentifierSource, StagingWriter,
  StagingReader, ProposalMatcher) against one SQLite database. In
  production the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  certificates / certificate_splits / certificate_split_tiers:
      Raw historical input with ordered split/tier structure
  existing_assignments:
      Pre-existing PHA coverage (the exclusion set)
  proposals, hierarchies, hierarchy_versions, hierarchy_participants,
  premium_split_versions, premium_split_participants,
  policy_hierarchy_assignments:
      Staged synthesized output, superseded per group on re-run
  migration_runs:
      Per-run audit records

SUPERSEDE-ON-RERUN:
  WriteStaged deletes the group's previously staged rows and inserts the
  new set in one database transaction. Surrogate identifiers keep growing
  across runs (CurrentMax seeds the allocator), so deleted ids are never
  reused.

MATCHING QUERY:
  MatchingProposalIDs is the declarative twin of Proposal.Covers: half-open
  date interval (effective_date > from AND effective_date <= to) plus
  wildcard-or-exact product/plan filters. The two implementations are
  covered by the same test scenarios.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SQLite is opened with WAL mode for
  better concurrency and crash recovery.

USAGE:
  store, err := sqlite.New("./data/migration.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - commission/store.go: Interface definitions
  - commission/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
)

// dateLayout stores effective dates at day granularity. Lexicographic
// comparison of this layout matches chronological order, which the matching
// query relies on.
const dateLayout = "2006-01-02"

// Store implements all collaborator interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Raw historical input (immutable once loaded)
	CREATE TABLE IF NOT EXISTS certificates (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		product_code TEXT NOT NULL,
		plan_code TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active'
	);

	CREATE INDEX IF NOT EXISTS idx_certificates_group
		ON certificates(group_id);
	CREATE INDEX IF NOT EXISTS idx_certificates_group_date
		ON certificates(group_id, effective_date);

	CREATE TABLE IF NOT EXISTS certificate_splits (
		certificate_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		percent TEXT NOT NULL,
		PRIMARY KEY (certificate_id, seq)
	);

	CREATE TABLE IF NOT EXISTS certificate_split_tiers (
		certificate_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		level INTEGER NOT NULL,
		broker_id TEXT NOT NULL,
		schedule_code TEXT NOT NULL,
		PRIMARY KEY (certificate_id, seq, level)
	);

	-- Pre-existing individualized coverage (exclusion set)
	CREATE TABLE IF NOT EXISTS existing_assignments (
		certificate_id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_existing_assignments_group
		ON existing_assignments(group_id);

	-- Staged synthesized output
	CREATE TABLE IF NOT EXISTS proposals (
		id INTEGER PRIMARY KEY,
		group_id TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT NOT NULL,
		product_wildcard INTEGER NOT NULL DEFAULT 0,
		product_code TEXT NOT NULL DEFAULT '',
		plan_wildcard INTEGER NOT NULL DEFAULT 0,
		plan_code TEXT NOT NULL DEFAULT '',
		source_fingerprint TEXT NOT NULL,
		run_id TEXT NOT NULL
	);

	-- Hot path for the matching query
	CREATE INDEX IF NOT EXISTS idx_proposals_group_dates
		ON proposals(group_id, effective_from, effective_to);

	CREATE TABLE IF NOT EXISTS hierarchies (
		id INTEGER PRIMARY KEY,
		proposal_id INTEGER NOT NULL,
		group_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_hierarchies_group
		ON hierarchies(group_id);
	CREATE INDEX IF NOT EXISTS idx_hierarchies_proposal
		ON hierarchies(proposal_id);

	CREATE TABLE IF NOT EXISTS hierarchy_versions (
		id INTEGER PRIMARY KEY,
		hierarchy_id INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_hierarchy_versions_hierarchy
		ON hierarchy_versions(hierarchy_id);

	CREATE TABLE IF NOT EXISTS hierarchy_participants (
		id INTEGER PRIMARY KEY,
		version_id INTEGER NOT NULL,
		level INTEGER NOT NULL,
		broker_id TEXT NOT NULL,
		schedule_code TEXT NOT NULL,
		rate TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_hierarchy_participants_version
		ON hierarchy_participants(version_id, level);

	CREATE TABLE IF NOT EXISTS premium_split_versions (
		id INTEGER PRIMARY KEY,
		proposal_id INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_split_versions_proposal
		ON premium_split_versions(proposal_id);

	CREATE TABLE IF NOT EXISTS premium_split_participants (
		id INTEGER PRIMARY KEY,
		split_version_id INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		broker_id TEXT NOT NULL,
		percent TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_split_participants_version
		ON premium_split_participants(split_version_id, seq);

	CREATE TABLE IF NOT EXISTS policy_hierarchy_assignments (
		id INTEGER PRIMARY KEY,
		certificate_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		split_percent TEXT NOT NULL,
		writing_broker TEXT NOT NULL,
		non_conforming INTEGER NOT NULL DEFAULT 1,
		reason TEXT NOT NULL,
		run_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pha_group
		ON policy_hierarchy_assignments(group_id);
	CREATE INDEX IF NOT EXISTS idx_pha_certificate
		ON policy_hierarchy_assignments(certificate_id);

	-- Per-run audit trail
	CREATE TABLE IF NOT EXISTS migration_runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		processed_groups INTEGER NOT NULL DEFAULT 0,
		failed_groups INTEGER NOT NULL DEFAULT 0,
		proposals INTEGER NOT NULL DEFAULT 0,
		assignments INTEGER NOT NULL DEFAULT 0,
		validation_passed INTEGER
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// INGESTION - Raw input and exclusion set
// =============================================================================

// InsertCertificates bulk-loads raw certificates with their split/tier
// structure. Used by the upstream raw-to-staging loader and by tests.
func (s *Store) InsertCertificates(ctx context.Context, certs []commission.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range certs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO certificates (id, group_id, product_code, plan_code, effective_date, status)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.Group, c.ProductCode, c.PlanCode, c.EffectiveDate.Format(dateLayout), c.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to insert certificate %s: %w", c.ID, err)
		}
		for _, split := range c.Splits {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO certificate_splits (certificate_id, seq, percent)
				VALUES (?, ?, ?)`,
				c.ID, split.Sequence, split.Percent.String(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert split for %s: %w", c.ID, err)
			}
			for _, tier := range split.Tiers {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO certificate_split_tiers (certificate_id, seq, level, broker_id, schedule_code)
					VALUES (?, ?, ?, ?, ?)`,
					c.ID, split.Sequence, tier.Level, tier.Broker, tier.Schedule,
				)
				if err != nil {
					return fmt.Errorf("failed to insert tier for %s: %w", c.ID, err)
				}
			}
		}
	}

	return tx.Commit()
}

// InsertExistingAssignments records pre-existing PHA coverage.
func (s *Store) InsertExistingAssignments(ctx context.Context, group commission.GroupID, ids []commission.CertificateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO existing_assignments (certificate_id, group_id)
			VALUES (?, ?)`, id, group)
		if err != nil {
			return fmt.Errorf("failed to insert existing assignment %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// CERTIFICATE SOURCE
// =============================================================================

func (s *Store) Groups(ctx context.Context) ([]commission.GroupID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT group_id FROM certificates ORDER BY group_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []commission.GroupID
	for rows.Next() {
		var g commission.GroupID
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// LoadCertificates assembles full certificates with ordered splits/tiers.
func (s *Store) LoadCertificates(ctx context.Context, group commission.GroupID) ([]commission.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, product_code, plan_code, effective_date, status
		FROM certificates
		WHERE group_id = ?
		ORDER BY id ASC`, group)
	if err != nil {
		return nil, fmt.Errorf("failed to query certificates: %w", err)
	}
	defer rows.Close()

	var certs []commission.Certificate
	index := make(map[commission.CertificateID]int)
	for rows.Next() {
		var c commission.Certificate
		var effective string
		if err := rows.Scan(&c.ID, &c.Group, &c.ProductCode, &c.PlanCode, &effective, &c.Status); err != nil {
			return nil, err
		}
		c.EffectiveDate, err = time.Parse(dateLayout, effective)
		if err != nil {
			return nil, fmt.Errorf("certificate %s: bad effective date %q: %w", c.ID, effective, err)
		}
		index[c.ID] = len(certs)
		certs = append(certs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachSplits(ctx, group, certs, index); err != nil {
		return nil, err
	}
	return certs, nil
}

func (s *Store) attachSplits(ctx context.Context, group commission.GroupID, certs []commission.Certificate, index map[commission.CertificateID]int) error {
	splitRows, err := s.db.QueryContext(ctx, `
		SELECT cs.certificate_id, cs.seq, cs.percent
		FROM certificate_splits cs
		JOIN certificates c ON c.id = cs.certificate_id
		WHERE c.group_id = ?
		ORDER BY cs.certificate_id, cs.seq ASC`, group)
	if err != nil {
		return fmt.Errorf("failed to query splits: %w", err)
	}
	defer splitRows.Close()

	// (certificate, seq) -> split slot, so tiers attach in order below.
	type splitKey struct {
		cert commission.CertificateID
		seq  int
	}
	slot := make(map[splitKey]int)

	for splitRows.Next() {
		var certID commission.CertificateID
		var seq int
		var percentStr string
		if err := splitRows.Scan(&certID, &seq, &percentStr); err != nil {
			return err
		}
		percent, err := decimal.NewFromString(percentStr)
		if err != nil {
			return fmt.Errorf("certificate %s: bad percent %q: %w", certID, percentStr, err)
		}
		i, ok := index[certID]
		if !ok {
			continue
		}
		slot[splitKey{certID, seq}] = len(certs[i].Splits)
		certs[i].Splits = append(certs[i].Splits, commission.SplitEntry{Sequence: seq, Percent: percent})
	}
	if err := splitRows.Err(); err != nil {
		return err
	}

	tierRows, err := s.db.QueryContext(ctx, `
		SELECT ct.certificate_id, ct.seq, ct.level, ct.broker_id, ct.schedule_code
		FROM certificate_split_tiers ct
		JOIN certificates c ON c.id = ct.certificate_id
		WHERE c.group_id = ?
		ORDER BY ct.certificate_id, ct.seq, ct.level ASC`, group)
	if err != nil {
		return fmt.Errorf("failed to query tiers: %w", err)
	}
	defer tierRows.Close()

	for tierRows.Next() {
		var certID commission.CertificateID
		var seq int
		var tier commission.Tier
		if err := tierRows.Scan(&certID, &seq, &tier.Level, &tier.Broker, &tier.Schedule); err != nil {
			return err
		}
		i, ok := index[certID]
		if !ok {
			continue
		}
		j, ok := slot[splitKey{certID, seq}]
		if !ok {
			continue
		}
		certs[i].Splits[j].Tiers = append(certs[i].Splits[j].Tiers, tier)
	}
	return tierRows.Err()
}

// =============================================================================
// ASSIGNMENT STORE
// =============================================================================

func (s *Store) ExistingPHA(ctx context.Context, group commission.GroupID) (map[commission.CertificateID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT certificate_id FROM existing_assignments WHERE group_id = ?", group)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing assignments: %w", err)
	}
	defer rows.Close()

	existing := make(map[commission.CertificateID]bool)
	for rows.Next() {
		var id commission.CertificateID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// =============================================================================
// IDENTIFIER SOURCE
// =============================================================================

var kindTables = map[commission.EntityKind]string{
	commission.KindProposal:             "proposals",
	commission.KindHierarchy:            "hierarchies",
	commission.KindHierarchyVersion:     "hierarchy_versions",
	commission.KindHierarchyParticipant: "hierarchy_participants",
	commission.KindSplitVersion:         "premium_split_versions",
	commission.KindSplitParticipant:     "premium_split_participants",
	commission.KindAssignment:           "policy_hierarchy_assignments",
}

// CurrentMax returns the highest surrogate id already staged for a kind.
// Zero when the table is empty.
func (s *Store) CurrentMax(ctx context.Context, kind commission.EntityKind) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, ok := kindTables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown entity kind %q", kind)
	}

	var max int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(id), 0) FROM "+table).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to query max identifier for %s: %w", kind, err)
	}
	return max, nil
}

// =============================================================================
// STAGING WRITER
// =============================================================================

// WriteStaged atomically replaces the group's staged rows with the new set.
func (s *Store) WriteStaged(ctx context.Context, group commission.GroupID, out commission.StagedOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Supersede: remove the group's prior staged rows, leaves first.
	deletes := []string{
		`DELETE FROM premium_split_participants WHERE split_version_id IN
			(SELECT v.id FROM premium_split_versions v JOIN proposals p ON p.id = v.proposal_id WHERE p.group_id = ?)`,
		`DELETE FROM premium_split_versions WHERE proposal_id IN
			(SELECT id FROM proposals WHERE group_id = ?)`,
		`DELETE FROM hierarchy_participants WHERE version_id IN
			(SELECT hv.id FROM hierarchy_versions hv JOIN hierarchies h ON h.id = hv.hierarchy_id WHERE h.group_id = ?)`,
		`DELETE FROM hierarchy_versions WHERE hierarchy_id IN
			(SELECT id FROM hierarchies WHERE group_id = ?)`,
		`DELETE FROM hierarchies WHERE group_id = ?`,
		`DELETE FROM proposals WHERE group_id = ?`,
		`DELETE FROM policy_hierarchy_assignments WHERE group_id = ?`,
	}
	for _, del := range deletes {
		if _, err := tx.ExecContext(ctx, del, group); err != nil {
			return fmt.Errorf("failed to supersede staged rows: %w", err)
		}
	}

	for _, p := range out.Proposals {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO proposals (id, group_id, effective_from, effective_to,
				product_wildcard, product_code, plan_wildcard, plan_code, source_fingerprint, run_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Group,
			p.EffectiveFrom.Format(dateLayout), p.EffectiveTo.Format(dateLayout),
			boolInt(p.ProductFilter.Wildcard), p.ProductFilter.Value,
			boolInt(p.PlanFilter.Wildcard), p.PlanFilter.Value,
			string(p.SourceFingerprint), p.RunID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert proposal %d: %w", p.ID, err)
		}
	}
	for _, h := range out.Hierarchies {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO hierarchies (id, proposal_id, group_id) VALUES (?, ?, ?)",
			h.ID, h.ProposalID, h.Group); err != nil {
			return fmt.Errorf("failed to insert hierarchy %d: %w", h.ID, err)
		}
	}
	for _, v := range out.HierarchyVersions {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO hierarchy_versions (id, hierarchy_id, active) VALUES (?, ?, ?)",
			v.ID, v.HierarchyID, boolInt(v.Active)); err != nil {
			return fmt.Errorf("failed to insert hierarchy version %d: %w", v.ID, err)
		}
	}
	for _, p := range out.HierarchyParticipants {
		var rate any
		if p.Rate != nil {
			rate = p.Rate.String()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO hierarchy_participants (id, version_id, level, broker_id, schedule_code, rate)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, p.VersionID, p.Level, p.Broker, p.Schedule, rate); err != nil {
			return fmt.Errorf("failed to insert hierarchy participant %d: %w", p.ID, err)
		}
	}
	for _, v := range out.SplitVersions {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO premium_split_versions (id, proposal_id) VALUES (?, ?)",
			v.ID, v.ProposalID); err != nil {
			return fmt.Errorf("failed to insert split version %d: %w", v.ID, err)
		}
	}
	for _, p := range out.SplitParticipants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO premium_split_participants (id, split_version_id, seq, broker_id, percent)
			VALUES (?, ?, ?, ?, ?)`,
			p.ID, p.SplitVersionID, p.Sequence, p.Broker, p.Percent.String()); err != nil {
			return fmt.Errorf("failed to insert split participant %d: %w", p.ID, err)
		}
	}
	for _, a := range out.Assignments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO policy_hierarchy_assignments
				(id, certificate_id, group_id, split_percent, writing_broker, non_conforming, reason, run_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Certificate, a.Group, a.SplitPercent.String(),
			a.WritingBroker, boolInt(a.NonConforming), a.Reason, a.RunID); err != nil {
			return fmt.Errorf("failed to insert assignment %d: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

// =============================================================================
// STAGING READER
// =============================================================================

func (s *Store) StagedProposals(ctx context.Context, group commission.GroupID) ([]commission.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, effective_from, effective_to,
		       product_wildcard, product_code, plan_wildcard, plan_code, source_fingerprint, run_id
		FROM proposals
		WHERE group_id = ?
		ORDER BY id ASC`, group)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer rows.Close()

	var proposals []commission.Proposal
	for rows.Next() {
		var p commission.Proposal
		var from, to string
		var productWild, planWild int
		if err := rows.Scan(&p.ID, &p.Group, &from, &to,
			&productWild, &p.ProductFilter.Value, &planWild, &p.PlanFilter.Value,
			&p.SourceFingerprint, &p.RunID); err != nil {
			return nil, err
		}
		p.ProductFilter.Wildcard = productWild != 0
		p.PlanFilter.Wildcard = planWild != 0
		if p.EffectiveFrom, err = time.Parse(dateLayout, from); err != nil {
			return nil, fmt.Errorf("proposal %d: bad effective_from: %w", p.ID, err)
		}
		if p.EffectiveTo, err = time.Parse(dateLayout, to); err != nil {
			return nil, fmt.Errorf("proposal %d: bad effective_to: %w", p.ID, err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func (s *Store) StagedAssignments(ctx context.Context, group commission.GroupID) ([]commission.PolicyHierarchyAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, certificate_id, group_id, split_percent, writing_broker, non_conforming, reason, run_id
		FROM policy_hierarchy_assignments
		WHERE group_id = ?
		ORDER BY id ASC`, group)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []commission.PolicyHierarchyAssignment
	for rows.Next() {
		var a commission.PolicyHierarchyAssignment
		var percentStr string
		var nonConforming int
		if err := rows.Scan(&a.ID, &a.Certificate, &a.Group, &percentStr,
			&a.WritingBroker, &nonConforming, &a.Reason, &a.RunID); err != nil {
			return nil, err
		}
		a.NonConforming = nonConforming != 0
		percent, err := decimal.NewFromString(percentStr)
		if err != nil {
			return nil, fmt.Errorf("assignment %d: bad percent: %w", a.ID, err)
		}
		a.SplitPercent = percent
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func (s *Store) StagedHierarchies(ctx context.Context, group commission.GroupID) ([]commission.Hierarchy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, proposal_id, group_id FROM hierarchies WHERE group_id = ? ORDER BY id ASC", group)
	if err != nil {
		return nil, fmt.Errorf("failed to query hierarchies: %w", err)
	}
	defer rows.Close()

	var hierarchies []commission.Hierarchy
	for rows.Next() {
		var h commission.Hierarchy
		if err := rows.Scan(&h.ID, &h.ProposalID, &h.Group); err != nil {
			return nil, err
		}
		hierarchies = append(hierarchies, h)
	}
	return hierarchies, rows.Err()
}

func (s *Store) StagedHierarchyVersions(ctx context.Context, hierarchyID int64) ([]commission.HierarchyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, hierarchy_id, active FROM hierarchy_versions WHERE hierarchy_id = ? ORDER BY id ASC", hierarchyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query hierarchy versions: %w", err)
	}
	defer rows.Close()

	var versions []commission.HierarchyVersion
	for rows.Next() {
		var v commission.HierarchyVersion
		var active int
		if err := rows.Scan(&v.ID, &v.HierarchyID, &active); err != nil {
			return nil, err
		}
		v.Active = active != 0
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *Store) StagedHierarchyParticipants(ctx context.Context, versionID int64) ([]commission.HierarchyParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version_id, level, broker_id, schedule_code, rate
		FROM hierarchy_participants
		WHERE version_id = ?
		ORDER BY level ASC`, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query hierarchy participants: %w", err)
	}
	defer rows.Close()

	var participants []commission.HierarchyParticipant
	for rows.Next() {
		var p commission.HierarchyParticipant
		var rate sql.NullString
		if err := rows.Scan(&p.ID, &p.VersionID, &p.Level, &p.Broker, &p.Schedule, &rate); err != nil {
			return nil, err
		}
		if rate.Valid {
			d, err := decimal.NewFromString(rate.String)
			if err != nil {
				return nil, fmt.Errorf("participant %d: bad rate: %w", p.ID, err)
			}
			p.Rate = &d
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (s *Store) StagedSplitVersions(ctx context.Context, proposalID int64) ([]commission.PremiumSplitVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, proposal_id FROM premium_split_versions WHERE proposal_id = ? ORDER BY id ASC", proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query split versions: %w", err)
	}
	defer rows.Close()

	var versions []commission.PremiumSplitVersion
	for rows.Next() {
		var v commission.PremiumSplitVersion
		if err := rows.Scan(&v.ID, &v.ProposalID); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *Store) StagedSplitParticipants(ctx context.Context, splitVersionID int64) ([]commission.PremiumSplitParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, split_version_id, seq, broker_id, percent
		FROM premium_split_participants
		WHERE split_version_id = ?
		ORDER BY seq ASC`, splitVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query split participants: %w", err)
	}
	defer rows.Close()

	var participants []commission.PremiumSplitParticipant
	for rows.Next() {
		var p commission.PremiumSplitParticipant
		var percentStr string
		if err := rows.Scan(&p.ID, &p.SplitVersionID, &p.Sequence, &p.Broker, &percentStr); err != nil {
			return nil, err
		}
		percent, err := decimal.NewFromString(percentStr)
		if err != nil {
			return nil, fmt.Errorf("split participant %d: bad percent: %w", p.ID, err)
		}
		p.Percent = percent
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// =============================================================================
// PROPOSAL MATCHER - Declarative twin of Proposal.Covers
// =============================================================================

// MatchingProposalIDs finds staged proposals covering the certificate using
// SQL. Half-open interval: effective_from < date AND effective_to >= date
// is the query-side spelling of (date > from AND date <= to). Lexicographic
// comparison is safe because all dates share one layout.
func (s *Store) MatchingProposalIDs(ctx context.Context, c commission.Certificate) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	date := c.EffectiveDate.Format(dateLayout)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM proposals
		WHERE group_id = ?
		  AND effective_from < ?
		  AND effective_to >= ?
		  AND (product_wildcard = 1 OR product_code = ?)
		  AND (plan_wildcard = 1 OR plan_code = ?)
		ORDER BY id ASC`,
		c.Group, date, date, c.ProductCode, c.PlanCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query matching proposals: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// RUN AUDIT
// =============================================================================

// BeginRun records the start of a migration run.
func (s *Store) BeginRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO migration_runs (run_id, started_at) VALUES (?, ?)",
		runID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// FinishRun records the run's outcome, including whether validation passed.
func (s *Store) FinishRun(ctx context.Context, runID string, processed, failed, proposals, assignments int, validationPassed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE migration_runs
		SET finished_at = ?, processed_groups = ?, failed_groups = ?,
		    proposals = ?, assignments = ?, validation_passed = ?
		WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339),
		processed, failed, proposals, assignments, boolInt(validationPassed), runID)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
