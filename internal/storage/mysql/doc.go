// Package mysql persists the attestation registry in MySQL. It encapsulates
// schema migrations, the connection pool, and the append-only insert
// semantics the registry relies on.
package mysql
