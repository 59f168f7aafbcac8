// Package enrollment decides whether a completed job enrolls its customer in
// a campaign and owns the enrollment lifecycle afterwards.
//
// Resolve is a pure function: campaign matching, cooldown, and conflict
// detection with no I/O. Service wraps it with the repository and applies
// the transitions active → completed and active → stopped. Every transition
// is a conditional write on status='active', so concurrent stops and
// advances are safe without application locks.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package enrollment
