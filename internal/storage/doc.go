// Package storage persists clinics, financial records, data versions and upload
// history. Two implementations share the Store interface: Postgres (pgx, goose
// migrations) for deployments and an in-memory store for tests and the CLI.
//
// Writes to one (clinic, year, month) key go through Store.WithKeyLock, which runs
// the snapshot and the upsert as one unit serialized against every other writer of
// that key.
package storage
