// Package store provides in-memory implementations of the commission
// collaborator interfaces, for testing and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements CertificateSource, AssignmentStore, IdentifierSource,
// StagingWriter and StagingReader against maps. Thread-safe.
type Memory struct {
	mu           sync.RWMutex
	certificates map[commission.GroupID][]commission.Certificate
	existingPHA  map[commission.GroupID]map[commission.CertificateID]bool
	maxIDs       map[commission.EntityKind]int64
	staged       map[commission.GroupID]commission.StagedOutput
}

func NewMemory() *Memory {
	return &Memory{
		certificates: make(map[commission.GroupID][]commission.Certificate),
		existingPHA:  make(map[commission.GroupID]map[commission.CertificateID]bool),
		maxIDs:       make(map[commission.EntityKind]int64),
		staged:       make(map[commission.GroupID]commission.StagedOutput),
	}
}

// =============================================================================
// SEEDING HELPERS - Test setup
// =============================================================================

// AddCertificates registers raw input for a group.
func (m *Memory) AddCertificates(group commission.GroupID, certs ...commission.Certificate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certificates[group] = append(m.certificates[group], certs...)
}

// AddExistingPHA marks certificates as already individualized.
func (m *Memory) AddExistingPHA(group commission.GroupID, ids ...commission.CertificateID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.existingPHA[group]
	if set == nil {
		set = make(map[commission.CertificateID]bool)
		m.existingPHA[group] = set
	}
	for _, id := range ids {
		set[id] = true
	}
}

// SetMaxIdentifier sets the current maximum surrogate key for a kind, as if
// a prior export had produced it.
func (m *Memory) SetMaxIdentifier(kind commission.EntityKind, max int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxIDs[kind] = max
}

// =============================================================================
// CERTIFICATE SOURCE
// =============================================================================

func (m *Memory) Groups(_ context.Context) ([]commission.GroupID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	groups := make([]commission.GroupID, 0, len(m.certificates))
	for g := range m.certificates {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups, nil
}

func (m *Memory) LoadCertificates(_ context.Context, group commission.GroupID) ([]commission.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	certs := m.certificates[group]
	out := make([]commission.Certificate, len(certs))
	copy(out, certs)
	return out, nil
}

// =============================================================================
// ASSIGNMENT STORE
// =============================================================================

func (m *Memory) ExistingPHA(_ context.Context, group commission.GroupID) (map[commission.CertificateID]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[commission.CertificateID]bool, len(m.existingPHA[group]))
	for id := range m.existingPHA[group] {
		out[id] = true
	}
	return out, nil
}

// =============================================================================
// IDENTIFIER SOURCE
// =============================================================================

func (m *Memory) CurrentMax(_ context.Context, kind commission.EntityKind) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxIDs[kind], nil
}

// =============================================================================
// STAGING WRITER / READER
// =============================================================================

// WriteStaged replaces any previously staged output for the group.
func (m *Memory) WriteStaged(_ context.Context, group commission.GroupID, out commission.StagedOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged[group] = out
	return nil
}

func (m *Memory) StagedProposals(_ context.Context, group commission.GroupID) ([]commission.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.staged[group]
	props := make([]commission.Proposal, len(out.Proposals))
	copy(props, out.Proposals)
	return props, nil
}

func (m *Memory) StagedAssignments(_ context.Context, group commission.GroupID) ([]commission.PolicyHierarchyAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.staged[group]
	phas := make([]commission.PolicyHierarchyAssignment, len(out.Assignments))
	copy(phas, out.Assignments)
	return phas, nil
}

func (m *Memory) StagedHierarchies(_ context.Context, group commission.GroupID) ([]commission.Hierarchy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.staged[group]
	hs := make([]commission.Hierarchy, len(out.Hierarchies))
	copy(hs, out.Hierarchies)
	return hs, nil
}

func (m *Memory) StagedHierarchyVersions(_ context.Context, hierarchyID int64) ([]commission.HierarchyVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var versions []commission.HierarchyVersion
	for _, out := range m.staged {
		for _, v := range out.HierarchyVersions {
			if v.HierarchyID == hierarchyID {
				versions = append(versions, v)
			}
		}
	}
	return versions, nil
}

func (m *Memory) StagedHierarchyParticipants(_ context.Context, versionID int64) ([]commission.HierarchyParticipant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var parts []commission.HierarchyParticipant
	for _, out := range m.staged {
		for _, p := range out.HierarchyParticipants {
			if p.VersionID == versionID {
				parts = append(parts, p)
			}
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Level < parts[j].Level })
	return parts, nil
}

func (m *Memory) StagedSplitVersions(_ context.Context, proposalID int64) ([]commission.PremiumSplitVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var versions []commission.PremiumSplitVersion
	for _, out := range m.staged {
		for _, v := range out.SplitVersions {
			if v.ProposalID == proposalID {
				versions = append(versions, v)
			}
		}
	}
	return versions, nil
}

func (m *Memory) StagedSplitParticipants(_ context.Context, splitVersionID int64) ([]commission.PremiumSplitParticipant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var parts []commission.PremiumSplitParticipant
	for _, out := range m.staged {
		for _, p := range out.SplitParticipants {
			if p.SplitVersionID == splitVersionID {
				parts = append(parts, p)
			}
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Sequence < parts[j].Sequence })
	return parts, nil
}
