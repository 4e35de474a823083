// Package source fetches code and artifacts a task needs on disk.
// Git repositories clone once behind a path probe, and artifact
// snapshots come down over SFTP. Both expose actions so tasks re-run
// without re-fetching what is already present.
package source
