// Package stores persists run history in a local SQLite database. The
// journal records each run, its per-task results, and their action
// outcomes; the history command reads them back. Schema changes ship
// as embedded migrations applied on open.
package stores
