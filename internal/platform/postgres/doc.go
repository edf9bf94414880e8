// Package postgres provides the PostgreSQL implementations of the task
// store and the compliance catalog, the LISTEN/NOTIFY listener that wakes
// the task worker, and the embedded goose migrations that create the
// schema.
package postgres
