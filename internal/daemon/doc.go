// Package daemon coordinates the long-running Cliparr process and system
// integration points.
//
// It wires configuration, the job store, the workflow manager, the Sonarr
// import poller, the coordination broker, and the progress broadcaster into a
// single lifecycle with flock-based locking to prevent multiple instances.
// The daemon exposes queue maintenance helpers and emits dependency health
// summaries; queue start/completion notifications are sent by the workflow
// manager.
//
// Keep orchestration logic here: individual workflow steps should live in their
// respective packages while the daemon focuses on startup, shutdown, and high
// level coordination.
package daemon
