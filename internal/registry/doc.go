// Package registry is the append-only attestation registry. It verifies
// proof artifacts against the registered circuit keys, enforces attester
// authorization and timestamp freshness, and records accepted attestations
// through a pluggable store. Records are immutable once written.
package registry
