// Package testdb provides helpers for integration tests that need a real
// PostgreSQL database. Tests skip unless a database URL is configured.
package testdb
