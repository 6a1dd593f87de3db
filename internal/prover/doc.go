// Package prover is the stateless proof generation service. Given private
// model or signal data and the matching proving key it produces a proof
// artifact with its public signals; private inputs never leave this package.
// Independent proofs may be generated concurrently, there is no shared
// mutable state beyond the immutable key sets.
package prover
