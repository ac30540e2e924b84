/*
stats.go - Group statistics over fingerprint clusters

PURPOSE:
  Aggregates a group's fingerprinted certificates into frequency clusters
  and computes the three signals classification runs on:
  - unique-fingerprint ratio (distinct structures / total certificates)
  - Shannon entropy of the cluster-size distribution (base 2)
  - dominant-cluster coverage (largest cluster / total)

NUMERIC SEMANTICS:
  - Single-cluster group: entropy 0, dominant coverage 1.0
  - Every certificate unique: entropy log2(N), ratio 1.0
  - Empty group: all signals 0

Pure computation; no side effects. The pipeline logs the result per group
when logEntropyByGroup is enabled, which is a diagnostic concern and not
part of the decision logic here.

SEE ALSO:
  - fingerprint.go: Produces the fingerprints clustered here
  - classify.go: Consumes GroupStatistics
*/
package commission

import (
	"math"
	"sort"
)

// Analyze groups certificates by fingerprint hash and computes the group's
// statistics. Clusters are freshly built immutable values: callers must not
// patch them, and re-analysis rebuilds the map from scratch.
func Analyze(group GroupID, certs []FingerprintedCertificate) *GroupStatistics {
	clusters := make(map[FingerprintHash]Cluster)
	for _, fc := range certs {
		hash := fc.Fingerprint.Hash
		cl := clusters[hash]
		cl.Fingerprint = fc.Fingerprint
		cl.Members = append(cl.Members, fc)
		clusters[hash] = cl
	}

	stats := &GroupStatistics{
		Group:    group,
		Total:    len(certs),
		Clusters: clusters,
	}
	if stats.Total == 0 {
		return stats
	}

	total := float64(stats.Total)
	largest := 0
	entropy := 0.0
	for _, cl := range clusters {
		size := cl.Size()
		if size > largest {
			largest = size
		}
		p := float64(size) / total
		entropy -= p * math.Log2(p)
	}
	if entropy < 0 {
		// -0.0 from a single full-coverage cluster
		entropy = 0
	}

	stats.UniqueRatio = float64(len(clusters)) / total
	stats.Entropy = entropy
	stats.DominantCoverage = float64(largest) / total
	return stats
}

// SortedHashes returns the group's cluster hashes ordered by descending
// cluster size, ties broken by hash. Gives deterministic iteration order for
// classification and synthesis.
func (gs *GroupStatistics) SortedHashes() []FingerprintHash {
	hashes := make([]FingerprintHash, 0, len(gs.Clusters))
	for h := range gs.Clusters {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		si, sj := gs.Clusters[hashes[i]].Size(), gs.Clusters[hashes[j]].Size()
		if si != sj {
			return si > sj
		}
		return hashes[i] < hashes[j]
	})
	return hashes
}
