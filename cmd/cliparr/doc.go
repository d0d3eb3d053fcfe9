// Command cliparr is the operator CLI for the Cliparr daemon: it starts and
// stops the background process, inspects the processing queue, triggers
// Sonarr scans, and tails structured logs, all by talking to the daemon over
// its local Unix socket (or, for log tailing, its HTTP API).
package main
