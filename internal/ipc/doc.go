// Package ipc exposes daemon lifecycle and job-queue control over a JSON-RPC
// Unix domain socket, and ships the matching client used by the CLI.
//
// The HTTP API server (internal/daemon) serves read-mostly, network-facing
// routes for any client that knows the configured bind address. This package
// instead backs the local `cliparr` CLI: a control channel that works from
// the same host without assuming the HTTP bind is reachable, for commands
// that only make sense talking to a specific running daemon process
// (start/stop/status, pausing pools, bulk queue edits).
//
// The server embeds the daemon's own services; the client dials with a
// short timeout so CLI commands fail fast when the daemon isn't running.
package ipc
