// Package setup runs the one-time trusted setup per circuit version: a
// randomness ceremony with at least one external entropy contribution, an
// auditable public transcript, and export of the resulting proving and
// verification keys through a content-addressable artifact store. Key material
// is bound to the content hash of the compiled circuit so a redeployed
// verifier cannot silently accept proofs against the wrong relation.
package setup
