// Package proofs defines the proof artifact exchanged between the off-chain
// proof generation service and the registry verifier, plus the positional
// encoding of public signals. The two sides share no mutable state; this
// immutable value is the entire contract between them.
package proofs
