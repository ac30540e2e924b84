/*
store.go - Collaborator interfaces between the engine and the outside world

PURPOSE:
  Defines the interfaces between the classification core and its external
  collaborators: the certificate source, the pre-existing assignment store,
  the identifier seed source, and the staging writer/reader. The core never
  touches storage technology directly.

KEY INTERFACES:
  CertificateSource: Raw historical input, grouped by employer group
  AssignmentStore:   Pre-existing PHA coverage (exclusion set)
  IdentifierSource:  Current maximum surrogate key per entity kind
  StagingWriter:     Persists one group's synthesized output
  StagingReader:     Validator's independent re-query surface

SUPERSEDE-ON-RERUN CONTRACT:
  WriteStaged replaces any previously staged rows for the group. A run never
  incrementally updates staged output; it rebuilds it.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite staging store
  - commission/store/memory.go: In-memory for testing

SEE ALSO:
  - migration/pipeline.go: Wires these into the run
  - validate/validator.go: Reads back through StagingReader only
*/
package commission

import "context"

// =============================================================================
// INPUT SIDE
// =============================================================================

// CertificateSource loads raw historical certificates. Implementations own
// query performance and timeouts; the engine imposes none.
type CertificateSource interface {
	// Groups returns every employer group id present in the source,
	// ordered ascending.
	Groups(ctx context.Context) ([]GroupID, error)

	// LoadCertificates returns all certificates for one group with their
	// full ordered split/tier structure.
	LoadCertificates(ctx context.Context, group GroupID) ([]Certificate, error)
}

// AssignmentStore exposes pre-existing individualized coverage. Certificates
// in this set keep their treatment and never enter the fingerprinting pool.
type AssignmentStore interface {
	// ExistingPHA returns the certificate ids already covered by
	// pre-existing PHA records for the group.
	ExistingPHA(ctx context.Context, group GroupID) (map[CertificateID]bool, error)
}

// IdentifierSource yields the current maximum surrogate identifier per
// entity kind in the target store. Queried exactly once per run, before any
// new identifier is minted, so re-runs never collide with previously
// exported records.
type IdentifierSource interface {
	CurrentMax(ctx context.Context, kind EntityKind) (int64, error)
}

// =============================================================================
// OUTPUT SIDE
// =============================================================================

// StagingWriter persists one group's synthesized structures atomically,
// superseding any prior staged rows for that group.
type StagingWriter interface {
	WriteStaged(ctx context.Context, group GroupID, out StagedOutput) error
}

// StagingReader is the validator's view of staged output. The validator
// re-derives coverage from these reads alone; it never reuses synthesizer
// state.
type StagingReader interface {
	StagedProposals(ctx context.Context, group GroupID) ([]Proposal, error)
	StagedAssignments(ctx context.Context, group GroupID) ([]PolicyHierarchyAssignment, error)
	StagedHierarchies(ctx context.Context, group GroupID) ([]Hierarchy, error)
	StagedHierarchyVersions(ctx context.Context, hierarchyID int64) ([]HierarchyVersion, error)
	StagedHierarchyParticipants(ctx context.Context, versionID int64) ([]HierarchyParticipant, error)
	StagedSplitVersions(ctx context.Context, proposalID int64) ([]PremiumSplitVersion, error)
	StagedSplitParticipants(ctx context.Context, splitVersionID int64) ([]PremiumSplitParticipant, error)
}

// ProposalMatcher is an optional StagingReader extension: a declarative
// (query-side) implementation of the Proposal matching rule. Behaviorally
// identical to Proposal.Covers and covered by the same test scenarios.
type ProposalMatcher interface {
	// MatchingProposalIDs returns the ids of staged proposals covering the
	// certificate, per the half-open date interval and wildcard filters.
	MatchingProposalIDs(ctx context.Context, c Certificate) ([]int64, error)
}
