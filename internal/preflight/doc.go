// Package preflight provides readiness checks for external tools, Sonarr
// connectivity, and filesystem paths that Cliparr depends on.
//
// Daemon startup calls CheckSystemDeps to verify the external binaries, and
// the CLI calls it directly when no daemon is running. The workflow manager
// does not run these checks before jobs, and nothing in the repository calls
// RunAll.
package preflight
