// Package api implements the daemon's HTTP-facing services and DTOs:
// processing jobs, show catalog scans, detection segments, and queue/pool
// control. The daemon package owns the net/http plumbing and routes; this
// package owns the domain logic each route delegates to.
package api
