// Package admin serves the HTTP admin API: job and settings inspection, settings
// updates, manual sweep and carryover triggers, Prometheus metrics and optional pprof.
//
// Non-loopback binds require a bearer token unless allow_insecure is set.
package admin
