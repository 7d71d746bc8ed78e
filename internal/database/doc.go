// Package database builds the Postgres connection pool used by the
// change-event journal.
package database
