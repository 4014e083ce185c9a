// Package storage is the job store: the single owner of scheduled job records.
//
// Drivers:
//   - "memory": process-local, used by tests and dry runs
//   - "file":   JSON snapshot written atomically on every mutation
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "redis":  hash + sorted set under a key prefix
//
// All drivers keep jobs in insertion order and treat (next run, hook, args) as the
// identity of a single occurrence, the way the host cron array does.
package storage
