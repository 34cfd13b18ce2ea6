// Package querydb is a demand-driven incremental computation database.
//
// Inputs are set from outside and stamped with the global Revision at which
// they last changed. Derived queries are pure functions registered by ID; every
// input or query they read through their QueryContext is recorded as a
// dependency of the result.
//
// Asking for a query returns the memoized result when it was verified at the
// current revision, or when none of its recorded dependencies changed after it
// was last verified. Otherwise the query is recomputed. A recomputation that
// yields the same fingerprint as before keeps its previous ChangedAt, so its own
// dependents are verified without being recomputed.
//
// Failures are results: an error returned by a query function is memoized and
// served like any value until one of its dependencies changes.
//
// A computation that started at revision R and commits when the database is
// past R is discarded and reported as ErrCancelled; it is never cached.
package querydb
