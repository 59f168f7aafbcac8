// Package memory is an in-process implementation of every repository the
// services and workers depend on. It backs tests and DEV_MODE. Claims and
// conditional updates run under one mutex, which gives the same exclusivity
// the Postgres store gets from row locks.
package memory
