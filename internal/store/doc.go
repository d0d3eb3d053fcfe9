// Package store persists the Cliparr data model in SQLite and exposes
// helpers for driving a ProcessingJob through its lifecycle.
//
// The Store manages database connections, migration application, catalog
// entries (Show/Season/Episode/EpisodeFile), job stats, heartbeat tracking,
// stuck-job recovery, fingerprint windows, detection results, and live
// Setting overrides layered on top of the bootstrap Config.
//
// Schema changes are applied as ordered, once-only migrations under
// migrations/; a new schema change ships as a new numbered migration file
// rather than editing one already applied.
package store
