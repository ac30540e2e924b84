/*
exclusion.go - Non-conformant case identification

PURPOSE:
  Certificates already present in the pre-existing PHA store keep their
  individualized treatment and are not candidates for templating. They are
  removed from the fingerprinting pool entirely, once per group, before any
  statistics are computed.

The exclusion set comes from the external hierarchy-assignment store
(AssignmentStore.ExistingPHA) and is consumed here as a pure input.

SEE ALSO:
  - store.go: AssignmentStore interface
  - stats.go: Operates on the filtered pool
*/
package commission

// ExcludeExisting splits certificates into the classification pool and the
// set excluded because a pre-existing PHA record already covers them. Input
// order is preserved in both outputs.
func ExcludeExisting(certs []Certificate, existing map[CertificateID]bool) (pool, excluded []Certificate) {
	if len(existing) == 0 {
		return certs, nil
	}
	pool = make([]Certificate, 0, len(certs))
	for _, c := range certs {
		if existing[c.ID] {
			excluded = append(excluded, c)
			continue
		}
		pool = append(pool, c)
	}
	return pool, excluded
}
