// Package circuits defines the two arithmetic relations behind attestations:
// the model relation binds a content hash of private model weights to a
// declared version and timestamp, and the signal relation binds a content hash
// of a private signal payload to a validity flag, the referenced model hash and
// a declared timestamp. Hashing happens inside the circuit with MiMC so the
// same digest can be recomputed natively off-circuit for linkage checks.
package circuits
