// Package storage defines the document-store capability the identity core is
// built on.
//
// The contract is deliberately small: point reads and writes, equality
// queries with a single ordering, short read-then-write transactions and
// atomic write batches capped at MaxBatchWrites operations. Backends live in
// the memory, sqlite and firestore subpackages.
package storage
